// Package machine implements the production machine agent: it registers with
// the controller, follows the status the controller assigns it and, while
// RUNNING, produces components and delivers them.
package machine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/periodic"
)

const (
	DefaultProductionInterval = 2 * time.Second
	DefaultStatusInterval     = time.Second
	DefaultDefectRate         = 0.05
	DefaultFailureRate        = 0.01

	// AutoFailure is the error type reported for a random breakdown.
	AutoFailure = "MECHANICAL_FAILURE_AUTO"
)

var (
	ErrRegistrationRefused = errors.New("registration refused")
	ErrNotFailed           = errors.New("machine is not failed")
)

// Control is the part of the controller API a machine uses.
type Control interface {
	RegisterMachine(ctx context.Context, id, machineType string) (bool, error)
	GetMachineStatus(ctx context.Context, id string) (string, error)
	DeliverComponent(ctx context.Context, c models.Component) (bool, error)
	NotifyFailure(ctx context.Context, id, errorType string) (string, error)
	NotifyRepair(ctx context.Context, id string) (bool, error)
}

type Config struct {
	ID                 string        `yaml:"id"`
	Type               string        `yaml:"type"`
	ProductionInterval time.Duration `yaml:"production_interval"`
	StatusInterval     time.Duration `yaml:"status_interval"`
	DefectRate         float64       `yaml:"defect_rate"`
	FailureRate        float64       `yaml:"failure_rate"`
	// RegisterTimeout bounds the retries of Register; zero retries forever.
	RegisterTimeout time.Duration `yaml:"register_timeout"`
}

func (c *Config) setDefaults() {
	if c.ProductionInterval <= 0 {
		c.ProductionInterval = DefaultProductionInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
}

// Agent is one running production machine.
type Agent struct {
	cfg    Config
	ctl    Control
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	status models.Status
	failed bool

	// the controller knows about the current failure
	failureSeen bool
	produced    int64
	accepted    int64

	statusTask  *periodic.Task
	produceTask *periodic.Task
}

// Option customises an Agent.
type Option func(*Agent)

// WithRand replaces the random source used for defects and failures.
func WithRand(r *rand.Rand) Option {
	return func(a *Agent) { a.rng = r }
}

func New(cfg Config, ctl Control, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.setDefaults()
	a := &Agent{
		cfg:    cfg,
		ctl:    ctl,
		logger: logger.With(zap.String("machine", cfg.ID), zap.String("type", cfg.Type)),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		status: models.StatusStopped,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.statusTask = periodic.New("status-poll", cfg.StatusInterval, a.PollStatus, a.logger)
	a.produceTask = periodic.New("produce", cfg.ProductionInterval, func(ctx context.Context) {
		_, _ = a.Produce(ctx)
	}, a.logger)
	return a
}

func (a *Agent) ID() string { return a.cfg.ID }

// Register announces the machine, retrying transport errors with exponential
// backoff. A refusal from the controller is not retried.
func (a *Agent) Register(ctx context.Context) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(a.cfg.RegisterTimeout),
	)

	op := func() error {
		ok, err := a.ctl.RegisterMachine(ctx, a.cfg.ID, a.cfg.Type)
		if err != nil {
			return err
		}
		if !ok {
			return backoff.Permanent(ErrRegistrationRefused)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("controller unreachable, retrying registration", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("register %s: %w", a.cfg.ID, err)
	}
	a.setStatus(models.StatusStopped, false)
	a.logger.Info("machine registered")
	return nil
}

// Status returns the last status the controller reported, and whether the
// machine considers itself broken.
func (a *Agent) Status() (models.Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, a.failed
}

// Produced returns how many components were made and how many of them a
// station accepted.
func (a *Agent) Produced() (made, accepted int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.produced, a.accepted
}

func (a *Agent) setStatus(st models.Status, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = st
	a.failed = failed
	a.failureSeen = false
}

// PollStatus fetches the status assigned by the controller. Transport errors
// are ignored; the next poll tries again.
func (a *Agent) PollStatus(ctx context.Context) {
	raw, err := a.ctl.GetMachineStatus(ctx, a.cfg.ID)
	if err != nil {
		a.logger.Debug("status poll failed", zap.Error(err))
		return
	}
	st, ok := models.ParseStatus(raw)
	if !ok {
		a.logger.Warn("controller does not know this machine", zap.String("status", raw))
		return
	}

	a.mu.Lock()
	prev := a.status
	a.status = st
	repaired := false
	switch {
	case st == models.StatusFailed:
		a.failed, a.failureSeen = true, true
	case a.failed && a.failureSeen:
		// repaired through the controller by an operator
		a.failed, a.failureSeen = false, false
		repaired = true
	}
	a.mu.Unlock()

	if prev != st {
		a.logger.Info("status changed", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
	if repaired {
		a.logger.Info("repair observed, production unblocked")
	}
}

func (a *Agent) roll(p float64) bool {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.Float64() < p
}

// Produce makes one component and delivers it, if the machine is RUNNING and
// not broken. The returned bool reports whether a component was made.
func (a *Agent) Produce(ctx context.Context) (models.Component, bool) {
	a.mu.Lock()
	if a.status != models.StatusRunning || a.failed {
		a.mu.Unlock()
		return models.Component{}, false
	}
	a.produced++
	n := a.produced
	a.mu.Unlock()

	c := models.Component{
		ID:         fmt.Sprintf("%s-C%d", a.cfg.ID, n),
		Type:       a.cfg.Type,
		ProducedBy: a.cfg.ID,
		Defective:  a.roll(a.cfg.DefectRate),
		ProducedAt: time.Now().UTC(),
	}

	ok, err := a.ctl.DeliverComponent(ctx, c)
	switch {
	case err != nil:
		a.logger.Warn("delivery failed", zap.String("component", c.ID), zap.Error(err))
	case ok:
		a.mu.Lock()
		a.accepted++
		a.mu.Unlock()
		a.logger.Info("component delivered", zap.String("component", c.ID))
	default:
		a.logger.Info("component not taken",
			zap.String("component", c.ID), zap.Bool("defective", c.Defective))
	}

	if a.roll(a.cfg.FailureRate) {
		if _, err := a.Fail(ctx, AutoFailure); err != nil {
			a.logger.Error("failure notification failed", zap.Error(err))
		}
	}
	return c, true
}

// Fail stops production and reports errorType. The machine stays blocked
// until Repair.
func (a *Agent) Fail(ctx context.Context, errorType string) (string, error) {
	a.mu.Lock()
	a.status, a.failed, a.failureSeen = models.StatusFailed, true, false
	a.mu.Unlock()

	reply, err := a.ctl.NotifyFailure(ctx, a.cfg.ID, errorType)
	if err != nil {
		return "", fmt.Errorf("notify failure: %w", err)
	}
	a.mu.Lock()
	a.failureSeen = true
	a.mu.Unlock()
	if id, ok := strings.CutPrefix(reply, "REPLACED_BY:"); ok {
		a.logger.Warn("machine failed, replaced", zap.String("error_type", errorType), zap.String("replacement", id))
	} else {
		a.logger.Error("machine failed", zap.String("error_type", errorType), zap.String("reply", reply))
	}
	return reply, nil
}

// Repair tells the controller the machine is fixed. The controller decides
// whether it runs again.
func (a *Agent) Repair(ctx context.Context) error {
	if _, failed := a.Status(); !failed {
		return ErrNotFailed
	}
	ok, err := a.ctl.NotifyRepair(ctx, a.cfg.ID)
	if err != nil {
		return fmt.Errorf("notify repair: %w", err)
	}
	if !ok {
		return fmt.Errorf("repair %s refused by controller", a.cfg.ID)
	}
	a.setStatus(models.StatusStopped, false)
	a.logger.Info("machine repaired")
	return nil
}

// Start begins status polling and production.
func (a *Agent) Start(ctx context.Context) {
	a.statusTask.Start(ctx)
	a.produceTask.Start(ctx)
}

// Stop halts the agent, letting an in-flight production cycle finish.
func (a *Agent) Stop() {
	a.produceTask.Stop()
	a.statusTask.Stop()
}
