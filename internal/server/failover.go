package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/metrics"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/registry"
)

// Failure notification answers.
const (
	ReplyReplacedByPrefix = "REPLACED_BY:"
	ReplyNoReplacement    = "NO_REPLACEMENT"
	ReplyError            = "ERROR"
)

// NotifyFailure marks id Failed and starts a stopped machine of the same type
// in its place. The answer is REPLACED_BY:<id>, NO_REPLACEMENT or ERROR.
func (c *Controller) NotifyFailure(id, errorType string) string {
	res, err := c.HandleFailure(id, errorType)
	switch {
	case err != nil:
		return ReplyError
	case res.Replaced():
		return ReplyReplacedByPrefix + res.Replacement
	default:
		return ReplyNoReplacement
	}
}

// HandleFailure runs the failover protocol for id while holding the lock of
// its machine type.
func (c *Controller) HandleFailure(id, errorType string) (registry.FailoverResult, error) {
	m, err := c.machines.Get(id)
	if err != nil {
		metrics.Failovers.WithLabelValues("error").Inc()
		c.logger.Warn("failure reported by unknown machine", zap.String("machine", id), zap.Error(err))
		return registry.FailoverResult{}, err
	}

	unlock := c.lockType(m.Type)
	defer unlock()

	res, err := c.machines.Failover(id, errorType)
	if err != nil {
		metrics.Failovers.WithLabelValues("error").Inc()
		if errors.Is(err, registry.ErrNotFound) {
			c.logger.Warn("machine vanished during failover", zap.String("machine", id))
		}
		return res, err
	}

	if res.Replaced() {
		metrics.Failovers.WithLabelValues("replaced").Inc()
		c.logger.Warn("machine failed, replacement started",
			zap.String("machine", id),
			zap.String("type", res.Failed.Type),
			zap.String("error_type", errorType),
			zap.String("replacement", res.Replacement))
		return res, nil
	}
	metrics.Failovers.WithLabelValues("no_replacement").Inc()
	c.logger.Error("machine failed, no replacement available",
		zap.String("machine", id),
		zap.String("type", res.Failed.Type),
		zap.String("error_type", errorType))
	return res, nil
}
