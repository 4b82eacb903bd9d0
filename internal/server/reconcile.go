package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/metrics"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/needs"
)

// Reconcile evaluates every tracked component type once. It runs on the
// reconciliation period and can be called directly.
func (c *Controller) Reconcile(ctx context.Context) {
	for _, t := range c.needs.Types() {
		if ctx.Err() != nil {
			return
		}
		unlock := c.lockType(t)
		c.reconcileType(t)
		unlock()
	}
}

// reconcileType must be called with the type lock held.
func (c *Controller) reconcileType(machineType string) {
	class, ok := c.needs.Class(machineType)
	if !ok {
		return
	}
	switch class {
	case needs.ClassEmpty, needs.ClassLow:
		started := c.machines.EnsureRunning(machineType, c.cfg.StartBatch)
		if len(started) == 0 {
			return
		}
		metrics.ReconcileActions.WithLabelValues("start").Add(float64(len(started)))
		c.logger.Info("production started for shortage",
			zap.String("type", machineType), zap.Stringer("class", class), zap.Strings("machines", started))
	case needs.ClassFull:
		stopped := c.machines.StopRunning(machineType)
		if len(stopped) == 0 {
			return
		}
		metrics.ReconcileActions.WithLabelValues("stop").Add(float64(len(stopped)))
		c.logger.Info("production stopped, storage full",
			zap.String("type", machineType), zap.Strings("machines", stopped))
	case needs.ClassOk:
	}
}
