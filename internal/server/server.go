package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/dispatch"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/metrics"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/needs"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/periodic"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/registry"
)

// Status strings returned to machines that the registry does not know.
const StatusUnknown = "UNKNOWN"

const (
	DefaultReconcileInterval = 4 * time.Second
	DefaultStartBatch        = 2
)

// EventSink receives controller announcements. The NATS publisher
// implements it.
type EventSink interface {
	PublishEvent(ctx context.Context, kind models.EventKind, attrs map[string]string)
}

// AuditStore records every committed machine state.
type AuditStore interface {
	SaveMachine(ctx context.Context, m *models.Machine) error
}

// Config tunes the controller.
type Config struct {
	ReconcileInterval time.Duration
	DeliveryTimeout   time.Duration
	// StartBatch is how many stopped machines one reconciliation may start
	// for a type that has none running.
	StartBatch int
	Policy     needs.Policy
}

// DefaultConfig returns the reference policy: 20% low watermark, two
// machines per start batch, a 4s loop and a 2s delivery bound.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: DefaultReconcileInterval,
		DeliveryTimeout:   dispatch.DefaultTimeout,
		StartBatch:        DefaultStartBatch,
		Policy:            needs.DefaultPolicy(),
	}
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEvents publishes controller events to sink.
func WithEvents(sink EventSink) Option {
	return func(c *Controller) { c.events = sink }
}

// WithAudit writes every machine change to store.
func WithAudit(store AuditStore) Option {
	return func(c *Controller) { c.audit = store }
}

// Controller is the central coordinator. It owns the machine registry, the
// needs tracker, the station dispatcher and the reconciliation loop, and only
// exposes atomic operations on them.
type Controller struct {
	cfg    Config
	logger *zap.Logger
	events EventSink
	audit  AuditStore

	machines   *registry.Registry
	needs      *needs.Tracker
	dispatcher *dispatch.Dispatcher
	reconciler *periodic.Task

	// operation lock per machine type
	typeMu sync.Map
}

// New creates a controller. The reconciliation loop is not running until
// Start is called.
func New(cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.StartBatch <= 0 {
		cfg.StartBatch = def.StartBatch
	}
	if cfg.Policy.LowWatermark <= 0 {
		cfg.Policy = def.Policy
	}

	c := &Controller{
		cfg:      cfg,
		logger:   zap.NewNop(),
		machines: registry.New(),
		needs:    needs.NewTracker(cfg.Policy),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher = dispatch.New(cfg.DeliveryTimeout, c.logger.Named("dispatch"))
	c.reconciler = periodic.New("reconcile", cfg.ReconcileInterval, c.Reconcile, c.logger)
	c.machines.SetObserver(c.observe)
	return c
}

// Start launches the reconciliation loop.
func (c *Controller) Start(ctx context.Context) {
	c.reconciler.Start(ctx)
	c.logger.Info("controller started",
		zap.Duration("reconcile_interval", c.cfg.ReconcileInterval),
		zap.Duration("delivery_timeout", c.cfg.DeliveryTimeout),
		zap.Int("start_batch", c.cfg.StartBatch),
		zap.Int("low_watermark", c.cfg.Policy.LowWatermark),
	)
}

// Stop halts the reconciliation loop; a pass in progress completes first.
func (c *Controller) Stop() {
	c.reconciler.Stop()
	c.logger.Info("controller stopped")
}

// lockType ensures only one multi-step operation per machine type at a time.
func (c *Controller) lockType(machineType string) func() {
	v, _ := c.typeMu.LoadOrStore(machineType, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}

// ---------- machines ----------

// RegisterMachine adds a machine in STOPPED and immediately checks whether its
// type needs production.
func (c *Controller) RegisterMachine(id, machineType string) bool {
	unlock := c.lockType(machineType)
	defer unlock()

	replaced, err := c.machines.Register(id, machineType)
	if err != nil {
		c.logger.Warn("register machine rejected", zap.String("machine", id), zap.Error(err))
		return false
	}
	if replaced {
		c.logger.Warn("machine re-registered, record recreated",
			zap.String("machine", id), zap.String("type", machineType))
	} else {
		c.logger.Info("machine registered",
			zap.String("machine", id), zap.String("type", machineType),
			zap.Int("total", c.machines.Len()))
	}
	c.reconcileType(machineType)
	return true
}

// RequestStart asks for a machine to run. False when unknown or failed.
func (c *Controller) RequestStart(id string) bool {
	return c.transition("start", id, c.machines.Start)
}

// RequestStop asks for a machine to stop. Stopping a failed machine is a
// successful no-op.
func (c *Controller) RequestStop(id string) bool {
	return c.transition("stop", id, c.machines.Stop)
}

// NotifyMaintenance puts a machine in MAINTENANCE.
func (c *Controller) NotifyMaintenance(id string) bool {
	return c.transition("maintain", id, c.machines.Maintain)
}

// NotifyRepair returns a failed machine to STOPPED, then lets its type be
// reconciled so the machine can be restarted if there is demand.
func (c *Controller) NotifyRepair(id string) bool {
	m, err := c.machines.Get(id)
	if err != nil {
		c.logger.Warn("repair of unknown machine", zap.String("machine", id))
		return false
	}
	unlock := c.lockType(m.Type)
	defer unlock()
	if err := c.machines.Repair(id); err != nil {
		c.logger.Warn("repair rejected", zap.String("machine", id), zap.Error(err))
		return false
	}
	c.logger.Info("machine repaired", zap.String("machine", id))
	c.reconcileType(m.Type)
	return true
}

func (c *Controller) transition(op, id string, fn func(string) error) bool {
	if err := fn(id); err != nil {
		level := zap.WarnLevel
		if errors.Is(err, registry.ErrInvalidTransition) {
			level = zap.InfoLevel
		}
		c.logger.Check(level, op+" rejected").Write(zap.String("machine", id), zap.Error(err))
		return false
	}
	return true
}

// GetMachineStatus returns the status string of id, or UNKNOWN.
func (c *Controller) GetMachineStatus(id string) string {
	m, err := c.machines.Get(id)
	if err != nil {
		return StatusUnknown
	}
	return m.Status.String()
}

// Machine returns a copy of one machine record.
func (c *Controller) Machine(id string) (models.Machine, error) {
	return c.machines.Get(id)
}

// Machines returns copies of every machine in registration order.
func (c *Controller) Machines() []models.Machine {
	return c.machines.List()
}

// ---------- components & stations ----------

// DeliverComponent counts the component against its producer and dispatches
// it to the stations. It returns true only when a station accepted it.
func (c *Controller) DeliverComponent(ctx context.Context, comp models.Component) bool {
	if comp.ProducedAt.IsZero() {
		comp.ProducedAt = time.Now().UTC()
	}
	if comp.ProducedBy != "" {
		if err := c.machines.RecordProduction(comp.ProducedBy); err != nil {
			c.logger.Debug("component from unregistered producer", zap.String("producer", comp.ProducedBy))
		}
	}

	res := c.dispatcher.Deliver(ctx, comp)
	fields := []zap.Field{
		zap.String("component", comp.ID),
		zap.String("type", comp.Type),
		zap.String("producer", comp.ProducedBy),
		zap.Stringer("outcome", res.Outcome),
	}
	if res.Accepted() {
		c.logger.Info("component delivered", append(fields, zap.String("station", res.StationID))...)
		c.publish(models.EventComponentDelivered, map[string]string{
			"component": comp.ID, "type": comp.Type, "producer": comp.ProducedBy, "station": res.StationID,
		})
		return true
	}
	c.logger.Warn("component not delivered", fields...)
	c.publish(models.EventComponentRejected, map[string]string{
		"component": comp.ID, "type": comp.Type, "producer": comp.ProducedBy, "reason": res.Outcome.String(),
	})
	return false
}

// RegisterStation adds a station callback. Deliveries try stations in
// registration order.
func (c *Controller) RegisterStation(id string, h dispatch.Handle) bool {
	if id == "" || h == nil {
		return false
	}
	replaced := c.dispatcher.Register(id, h)
	c.logger.Info("station registered",
		zap.String("station", id), zap.Bool("replaced", replaced),
		zap.Int("total", len(c.dispatcher.Stations())))
	c.publish(models.EventStationRegistered, map[string]string{"station": id})
	return true
}

// UnregisterStation removes a station callback.
func (c *Controller) UnregisterStation(id string) bool {
	ok := c.dispatcher.Unregister(id)
	if ok {
		c.logger.Info("station unregistered", zap.String("station", id))
	}
	return ok
}

// Stations returns registered station ids in registration order.
func (c *Controller) Stations() []string {
	return c.dispatcher.Stations()
}

// NotifyStorageAlert records the level a station reported for a component
// type and reacts to it right away.
func (c *Controller) NotifyStorageAlert(componentType string, level int) {
	if componentType == "" {
		return
	}
	class := c.needs.Report(componentType, level)
	level = needs.Clamp(level)
	metrics.NeedLevel.WithLabelValues(componentType).Set(float64(level))

	if class != needs.ClassOk {
		c.logger.Info("storage alert",
			zap.String("type", componentType), zap.Int("level", level), zap.Stringer("class", class))
		c.publish(models.EventStorageAlert, map[string]string{
			"type": componentType, "class": class.String(),
		})
	}

	unlock := c.lockType(componentType)
	defer unlock()
	c.reconcileType(componentType)
}

// ReportLevel lets an in-process station report to the controller directly.
func (c *Controller) ReportLevel(_ context.Context, componentType string, level int) error {
	c.NotifyStorageAlert(componentType, level)
	return nil
}

// Needs returns the last reported level per type.
func (c *Controller) Needs() []needs.Entry {
	return c.needs.Snapshot()
}

// ---------- registry observer ----------

func (c *Controller) observe(ch registry.Change) {
	m := ch.Machine
	kind := models.EventForStatus(m.Status)
	switch {
	case ch.Registered:
		kind = models.EventMachineRegistered
	case ch.From == models.StatusFailed && m.Status == models.StatusStopped:
		kind = models.EventMachineRepaired
	}
	metrics.MachineTransitions.WithLabelValues(m.Status.String()).Inc()
	c.refreshMachineGauges()

	c.publish(kind, map[string]string{
		"machine": m.ID, "type": m.Type, "status": m.Status.String(), "from": ch.From.String(),
	})
	if c.audit != nil {
		if err := c.audit.SaveMachine(context.Background(), &m); err != nil {
			c.logger.Warn("audit write failed", zap.String("machine", m.ID), zap.Error(err))
		}
	}
}

func (c *Controller) refreshMachineGauges() {
	counts := make(map[[2]string]int)
	for _, m := range c.machines.List() {
		for _, st := range []models.Status{models.StatusStopped, models.StatusRunning, models.StatusFailed, models.StatusMaintenance} {
			key := [2]string{m.Type, st.String()}
			if _, ok := counts[key]; !ok {
				counts[key] = 0
			}
		}
		counts[[2]string{m.Type, m.Status.String()}]++
	}
	for key, n := range counts {
		metrics.MachinesByStatus.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

func (c *Controller) publish(kind models.EventKind, attrs map[string]string) {
	if c.events == nil {
		return
	}
	c.events.PublishEvent(context.Background(), kind, attrs)
}
