package station

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/metrics"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/periodic"
)

const (
	DefaultAssembleInterval = 3 * time.Second
	DefaultReportInterval   = 5 * time.Second
)

// Reporter receives zone levels. The controller implements it in process;
// the RPC client implements it remotely.
type Reporter interface {
	ReportLevel(ctx context.Context, componentType string, level int) error
}

// ProductSink takes ownership of finished products.
type ProductSink interface {
	SaveProduct(ctx context.Context, p models.Product) error
}

// ProductLedger is a sink that can also list what it already holds.
type ProductLedger interface {
	ProductSink
	ListProducts(ctx context.Context, stationID string) ([]models.Product, error)
}

// EventPublisher announces station events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, kind models.EventKind, attrs map[string]string)
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithEvents publishes a product.assembled event for every product.
func WithEvents(ev EventPublisher) RunnerOption {
	return func(r *Runner) { r.events = ev }
}

// RunnerConfig tunes the background work of a Runner.
type RunnerConfig struct {
	AssembleInterval time.Duration
	ReportInterval   time.Duration
}

// Runner drives a Station: it accepts deliveries, assembles as soon as a
// recipe is satisfied and on a timer, hands products to the sink and keeps
// the controller informed of zone levels.
type Runner struct {
	station  *Station
	reporter Reporter
	sink     ProductSink
	events   EventPublisher
	logger   *zap.Logger

	assembleTask *periodic.Task
	reportTask   *periodic.Task
	kick         chan struct{}

	reportMu     sync.Mutex
	lastReported map[string]int

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewRunner wires a station to its reporter and sink. Either may be nil.
func NewRunner(st *Station, reporter Reporter, sink ProductSink, cfg RunnerConfig, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AssembleInterval <= 0 {
		cfg.AssembleInterval = DefaultAssembleInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	r := &Runner{
		station:      st,
		reporter:     reporter,
		sink:         sink,
		logger:       logger.With(zap.String("station", st.ID())),
		kick:         make(chan struct{}, 1),
		lastReported: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.assembleTask = periodic.New("assemble", cfg.AssembleInterval, func(ctx context.Context) {
		r.Assemble(ctx)
	}, r.logger)
	r.reportTask = periodic.New("report-levels", cfg.ReportInterval, func(ctx context.Context) {
		r.Report(ctx, true)
	}, r.logger)
	return r
}

// Station returns the driven station.
func (r *Runner) Station() *Station { return r.station }

// ID returns the station id.
func (r *Runner) ID() string { return r.station.ID() }

// Resume continues product numbering after the products already in the sink,
// when the sink is a ProductLedger.
func (r *Runner) Resume(ctx context.Context) error {
	ledger, ok := r.sink.(ProductLedger)
	if !ok {
		return nil
	}
	products, err := ledger.ListProducts(ctx, r.station.ID())
	if err != nil {
		return fmt.Errorf("station %s: read ledger: %w", r.station.ID(), err)
	}
	r.station.Resume(products)
	if len(products) > 0 {
		r.logger.Info("resuming product numbering",
			zap.Int("stored_products", len(products)),
			zap.Int64("last_sequence", r.station.Assembled()))
	}
	return nil
}

// ReceiveComponent is the station callback. Intake rejections are reported as
// false with a nil error; they are routine, not failures.
func (r *Runner) ReceiveComponent(ctx context.Context, c models.Component) (bool, error) {
	if err := r.station.Receive(c); err != nil {
		reason := "unknown_type"
		if errors.Is(err, ErrZoneFull) {
			reason = "zone_full"
		}
		metrics.IntakeRejections.WithLabelValues(r.station.ID(), reason).Inc()
		r.logger.Debug("component refused", zap.String("component", c.ID), zap.Error(err))
		r.signalLevels()
		return false, nil
	}
	r.logger.Debug("component received",
		zap.String("component", c.ID),
		zap.String("type", c.Type),
		zap.String("produced_by", c.ProducedBy),
	)
	r.Assemble(ctx)
	return true, nil
}

// Assemble builds products until the recipe is no longer satisfied and
// returns how many were built.
func (r *Runner) Assemble(ctx context.Context) int {
	n := 0
	for {
		p, ok := r.station.TryAssemble()
		if !ok {
			break
		}
		n++
		metrics.ProductsAssembled.WithLabelValues(r.station.ID()).Inc()
		r.logger.Info("product assembled",
			zap.String("product", p.ID),
			zap.Int("components", len(p.Components)),
			zap.Bool("complete", p.Complete()),
		)
		if r.sink != nil {
			if err := r.sink.SaveProduct(ctx, p); err != nil {
				r.logger.Error("product sink failed", zap.String("product", p.ID), zap.Error(err))
			}
		}
		if r.events != nil {
			r.events.PublishEvent(ctx, models.EventProductAssembled, map[string]string{
				"station":    r.station.ID(),
				"product":    p.ID,
				"components": strconv.Itoa(len(p.Components)),
			})
		}
	}
	r.signalLevels()
	return n
}

func (r *Runner) signalLevels() {
	for _, lv := range r.station.Levels() {
		metrics.ZoneOccupancy.WithLabelValues(r.station.ID(), lv.Type).Set(float64(lv.Count))
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Report sends zone levels to the reporter. Unless force is set only levels
// that changed since the last successful report are sent.
func (r *Runner) Report(ctx context.Context, force bool) {
	if r.reporter == nil {
		return
	}
	r.reportMu.Lock()
	defer r.reportMu.Unlock()
	for _, lv := range r.station.Levels() {
		if last, ok := r.lastReported[lv.Type]; ok && last == lv.Percent && !force {
			continue
		}
		if err := r.reporter.ReportLevel(ctx, lv.Type, lv.Percent); err != nil {
			r.logger.Warn("level report failed", zap.String("type", lv.Type), zap.Error(err))
			delete(r.lastReported, lv.Type)
			continue
		}
		r.lastReported[lv.Type] = lv.Percent
		r.logger.Debug("level reported",
			zap.String("type", lv.Type),
			zap.Int("level", lv.Percent),
			zap.String("class", lv.Class),
		)
	}
}

// Start launches periodic assembly, periodic reporting and change-driven
// reporting. An initial full report is sent right away.
func (r *Runner) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopCancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.loopCancel = cancel
	r.loopDone = make(chan struct{})
	go r.reportLoop(loopCtx, r.loopDone)

	r.assembleTask.Start(ctx)
	r.reportTask.Start(ctx)
	r.logger.Info("station started", zap.Any("recipe", r.station.Recipe()))
}

// Stop ends all background work, waiting for in-flight runs.
func (r *Runner) Stop() {
	r.assembleTask.Stop()
	r.reportTask.Stop()

	r.loopMu.Lock()
	cancel, done := r.loopCancel, r.loopDone
	r.loopCancel, r.loopDone = nil, nil
	r.loopMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Runner) reportLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	r.Report(ctx, true)
	for {
		select {
		case <-r.kick:
			r.Report(ctx, false)
		case <-ctx.Done():
			return
		}
	}
}
