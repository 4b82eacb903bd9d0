package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

// Connect dials url with reconnect settings suited to long-lived agents.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// Publisher announces controller events on NATS.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher wraps an established connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

// PublishEvent encodes kind and attrs as an Event and publishes it on the
// kind's subject. Invalid kinds are dropped.
func (p *Publisher) PublishEvent(ctx context.Context, kind models.EventKind, attrs map[string]string) {
	if !kind.Valid() {
		p.logger.Error("dropping event with invalid kind", zap.Uint8("kind", uint8(kind)))
		return
	}
	ev := models.Event{
		ID:      uuid.NewString(),
		Kind:    kind.String(),
		Subject: kind.Subject(),
		Time:    p.now().UTC(),
		Attrs:   attrs,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode event", zap.Error(err))
		return
	}
	if err := p.Publish(ctx, ev.Subject, payload); err != nil {
		p.logger.Warn("publish event failed", zap.String("subject", ev.Subject), zap.Error(err))
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
