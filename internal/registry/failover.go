package registry

import "github.com/devghori1264/aerophoenix/factory-sim/internal/models"

// FailoverResult is the outcome of Failover. Replacement is empty when no
// stopped machine of the same type was available.
type FailoverResult struct {
	Failed      models.Machine
	Replacement string
}

// Replaced reports whether a replacement was started.
func (f FailoverResult) Replaced() bool {
	return f.Replacement != ""
}

// FindReplacement returns the first machine, in registration order, of
// machineType that is Stopped and is not excludeID. Failed, Running and
// Maintenance machines are never candidates.
func (r *Registry) FindReplacement(machineType, excludeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findReplacement(machineType, excludeID)
}

func (r *Registry) findReplacement(machineType, excludeID string) (string, bool) {
	for _, id := range r.order {
		m := r.machines[id]
		if id == excludeID || m.Type != machineType {
			continue
		}
		if m.Status == models.StatusStopped {
			return id, true
		}
	}
	return "", false
}

// Failover marks id Failed with errorType, then starts the first eligible
// replacement. Fail, search and start happen under one write lock, so two
// concurrent failures cannot pick the same replacement.
func (r *Registry) Failover(id, errorType string) (FailoverResult, error) {
	r.mu.Lock()
	m, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return FailoverResult{}, err
	}

	var changes []Change
	if c, ok := r.fail(m, errorType); ok {
		changes = append(changes, c)
	}
	res := FailoverResult{Failed: *m}
	if replacementID, ok := r.findReplacement(m.Type, id); ok {
		changes = append(changes, r.setStatus(r.machines[replacementID], models.StatusRunning))
		res.Replacement = replacementID
	}
	r.mu.Unlock()

	r.notify(changes...)
	return res, nil
}

// EnsureRunning starts up to limit Stopped machines of machineType, but only
// when none of that type is Running. It returns the ids it started.
func (r *Registry) EnsureRunning(machineType string, limit int) []string {
	r.mu.Lock()
	if limit <= 0 || r.count(machineType, models.StatusRunning) > 0 {
		r.mu.Unlock()
		return nil
	}
	var (
		started []string
		changes []Change
	)
	for _, id := range r.order {
		if len(started) == limit {
			break
		}
		m := r.machines[id]
		if m.Type != machineType || m.Status != models.StatusStopped {
			continue
		}
		changes = append(changes, r.setStatus(m, models.StatusRunning))
		started = append(started, id)
	}
	r.mu.Unlock()

	r.notify(changes...)
	return started
}

// StopRunning stops every Running machine of machineType and returns their ids.
func (r *Registry) StopRunning(machineType string) []string {
	r.mu.Lock()
	var (
		stopped []string
		changes []Change
	)
	for _, id := range r.order {
		m := r.machines[id]
		if m.Type != machineType || m.Status != models.StatusRunning {
			continue
		}
		changes = append(changes, r.setStatus(m, models.StatusStopped))
		stopped = append(stopped, id)
	}
	r.mu.Unlock()

	r.notify(changes...)
	return stopped
}
