// Package dispatch routes freshly produced components to registered
// assembly stations under a bounded wait.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/metrics"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

// DefaultTimeout bounds one whole delivery attempt across all stations.
const DefaultTimeout = 2 * time.Second

// Handle is the callback capability of a station.
type Handle interface {
	ID() string
	// ReceiveComponent returns false for a normal intake rejection and an
	// error only when the station could not be reached.
	ReceiveComponent(ctx context.Context, c models.Component) (bool, error)
}

// Outcome classifies a delivery.
type Outcome uint8

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeDefective
	OutcomeRejected
	OutcomeTimedOut
	OutcomeNoStations
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDefective:
		return "defective"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timeout"
	case OutcomeNoStations:
		return "no_stations"
	}
	return "invalid"
}

// Result reports how a delivery ended. StationID is set only on acceptance.
type Result struct {
	Outcome   Outcome
	StationID string
	Attempts  int
}

// Accepted reports whether a station took the component.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

type registration struct {
	id     string
	handle Handle
}

// Dispatcher holds the station registrations in registration order.
type Dispatcher struct {
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer

	mu       sync.RWMutex
	stations []registration
}

// New returns a dispatcher bounding each delivery by timeout.
func New(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer("factory-sim/dispatch"),
	}
}

// Timeout returns the delivery bound.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Register adds a station. Registering an id again swaps its handle and keeps
// its position.
func (d *Dispatcher) Register(id string, h Handle) (replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.stations {
		if d.stations[i].id == id {
			d.stations[i].handle = h
			return true
		}
	}
	d.stations = append(d.stations, registration{id: id, handle: h})
	return false
}

// Unregister removes a station and reports whether it was present.
func (d *Dispatcher) Unregister(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.stations {
		if d.stations[i].id == id {
			d.stations = append(d.stations[:i], d.stations[i+1:]...)
			return true
		}
	}
	return false
}

// Stations returns the registered ids in registration order.
func (d *Dispatcher) Stations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.stations))
	for i, s := range d.stations {
		out[i] = s.id
	}
	return out
}

func (d *Dispatcher) snapshot() []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]registration, len(d.stations))
	copy(out, d.stations)
	return out
}

// Deliver offers c to each station in turn until one accepts. Defective
// components are refused without contacting any station. The fan-out runs on
// its own goroutine; Deliver returns once a station accepts, every station
// refuses, or the timeout elapses, whichever comes first. Nothing is retried.
func (d *Dispatcher) Deliver(ctx context.Context, c models.Component) Result {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch.Deliver", trace.WithAttributes(
		attribute.String("component.id", c.ID),
		attribute.String("component.type", c.Type),
		attribute.String("component.produced_by", c.ProducedBy),
	))
	defer span.End()

	res := d.deliver(ctx, c)

	span.SetAttributes(
		attribute.String("delivery.outcome", res.Outcome.String()),
		attribute.Int("delivery.attempts", res.Attempts),
	)
	if res.Outcome == OutcomeTimedOut {
		span.SetStatus(codes.Error, "delivery timed out")
	}
	metrics.Deliveries.WithLabelValues(res.Outcome.String()).Inc()
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, c models.Component) Result {
	if c.Defective {
		return Result{Outcome: OutcomeDefective}
	}
	targets := d.snapshot()
	if len(targets) == 0 {
		return Result{Outcome: OutcomeNoStations}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var attempts atomic.Int32
	out := make(chan Result, 1)
	go func() {
		out <- d.fanOut(ctx, targets, c, &attempts)
	}()

	select {
	case res := <-out:
		return res
	case <-ctx.Done():
		d.logger.Warn("delivery timed out",
			zap.String("component", c.ID),
			zap.Duration("timeout", d.timeout),
			zap.Int32("attempts", attempts.Load()),
		)
		return Result{Outcome: OutcomeTimedOut, Attempts: int(attempts.Load())}
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, targets []registration, c models.Component, attempts *atomic.Int32) Result {
	for _, t := range targets {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeTimedOut, Attempts: int(attempts.Load())}
		}
		attempts.Add(1)
		ok, err := t.handle.ReceiveComponent(ctx, c)
		if err != nil {
			d.logger.Warn("station unreachable",
				zap.String("station", t.id),
				zap.String("component", c.ID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			return Result{Outcome: OutcomeAccepted, StationID: t.id, Attempts: int(attempts.Load())}
		}
	}
	return Result{Outcome: OutcomeRejected, Attempts: int(attempts.Load())}
}
