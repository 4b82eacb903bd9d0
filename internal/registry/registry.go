// Package registry holds every known production machine and enforces the
// machine lifecycle: Stopped, Running, Failed and Maintenance.
//
// Machines are kept in registration order. Every scan (replacement search,
// reconciliation) walks that order, so decisions are deterministic.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

var (
	ErrNotFound          = errors.New("machine not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Change describes one committed state change.
type Change struct {
	Machine models.Machine
	From    models.Status
	// Registered is set for the change produced by Register.
	Registered bool
}

// Observer is notified after a change is committed, outside the registry lock.
type Observer func(Change)

// Registry is the authoritative, in-memory machine table. Callers only ever
// see copies of the stored records.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	machines map[string]*models.Machine

	now      func() time.Time
	observer Observer
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		machines: make(map[string]*models.Machine),
		now:      time.Now,
	}
}

// SetObserver installs fn as the change observer. Not safe to call
// concurrently with mutations.
func (r *Registry) SetObserver(fn Observer) {
	r.observer = fn
}

func (r *Registry) notify(changes ...Change) {
	if r.observer == nil {
		return
	}
	for _, c := range changes {
		r.observer(c)
	}
}

// setStatus must be called with r.mu held for writing.
func (r *Registry) setStatus(m *models.Machine, st models.Status) Change {
	from := m.Status
	m.Status = st
	m.UpdatedAt = r.now().UTC()
	m.Revision++
	return Change{Machine: *m, From: from}
}

func (r *Registry) lookup(id string) (*models.Machine, error) {
	m, ok := r.machines[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return m, nil
}

// Register creates id in Stopped. Registering an id again re-creates the
// record in place: it keeps its position in the iteration order, its status
// resets to Stopped and its type is replaced. replaced reports that case.
func (r *Registry) Register(id, machineType string) (replaced bool, err error) {
	if id == "" || machineType == "" {
		return false, fmt.Errorf("register: id and type required: %w", ErrInvalidArgument)
	}

	now := r.now().UTC()
	r.mu.Lock()
	prev, replaced := r.machines[id]
	from := models.StatusStopped
	var rev uint64
	if replaced {
		from = prev.Status
		rev = prev.Revision
	} else {
		r.order = append(r.order, id)
	}
	m := &models.Machine{
		ID:           id,
		Type:         machineType,
		Status:       models.StatusStopped,
		RegisteredAt: now,
		UpdatedAt:    now,
		Revision:     rev + 1,
	}
	r.machines[id] = m
	change := Change{Machine: *m, From: from, Registered: true}
	r.mu.Unlock()

	r.notify(change)
	return replaced, nil
}

// Start moves Stopped or Maintenance to Running. Starting a running machine
// is a no-op; a failed machine must be repaired first.
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	m, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	switch m.Status {
	case models.StatusRunning:
		r.mu.Unlock()
		return nil
	case models.StatusFailed:
		r.mu.Unlock()
		return fmt.Errorf("start %s: machine failed: %w", id, ErrInvalidTransition)
	}
	change := r.setStatus(m, models.StatusRunning)
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// Stop moves Running or Maintenance to Stopped. Stopping a stopped or a failed
// machine leaves it untouched and is not an error.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	m, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if m.Status == models.StatusStopped || m.Status == models.StatusFailed {
		r.mu.Unlock()
		return nil
	}
	change := r.setStatus(m, models.StatusStopped)
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// Fail marks the machine Failed and records errorType. Idempotent.
func (r *Registry) Fail(id, errorType string) error {
	r.mu.Lock()
	m, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	change, changed := r.fail(m, errorType)
	r.mu.Unlock()

	if changed {
		r.notify(change)
	}
	return nil
}

// fail must be called with r.mu held for writing.
func (r *Registry) fail(m *models.Machine, errorType string) (Change, bool) {
	if m.Status == models.StatusFailed && m.LastError == errorType {
		return Change{}, false
	}
	m.LastError = errorType
	return r.setStatus(m, models.StatusFailed), true
}

// Repair moves Failed to Stopped. Any other state is an invalid transition.
func (r *Registry) Repair(id string) error {
	r.mu.Lock()
	m, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if m.Status != models.StatusFailed {
		st := m.Status
		r.mu.Unlock()
		return fmt.Errorf("repair %s: machine is %s: %w", id, st, ErrInvalidTransition)
	}
	change := r.setStatus(m, models.StatusStopped)
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// Maintain moves Stopped or Running to Maintenance. Failed machines are
// repaired, not maintained.
func (r *Registry) Maintain(id string) error {
	r.mu.Lock()
	m, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	switch m.Status {
	case models.StatusMaintenance:
		r.mu.Unlock()
		return nil
	case models.StatusFailed:
		r.mu.Unlock()
		return fmt.Errorf("maintain %s: machine failed: %w", id, ErrInvalidTransition)
	}
	change := r.setStatus(m, models.StatusMaintenance)
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// RecordProduction increments the produced counter of id.
func (r *Registry) RecordProduction(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.lookup(id)
	if err != nil {
		return err
	}
	m.ProducedCount++
	return nil
}

// Get returns a copy of the machine record.
func (r *Registry) Get(id string) (models.Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, err := r.lookup(id)
	if err != nil {
		return models.Machine{}, err
	}
	return *m, nil
}

// List returns copies of every machine in registration order.
func (r *Registry) List() []models.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Machine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.machines[id])
	}
	return out
}

// Len returns the number of registered machines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Count returns how many machines of machineType are in status st.
func (r *Registry) Count(machineType string, st models.Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count(machineType, st)
}

func (r *Registry) count(machineType string, st models.Status) int {
	n := 0
	for _, id := range r.order {
		m := r.machines[id]
		if m.Type == machineType && m.Status == st {
			n++
		}
	}
	return n
}

// Types returns every machine type in order of first registration.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.order {
		t := r.machines[id].Type
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
