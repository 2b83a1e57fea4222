package remediation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// HealthChecker reads the target's health once.
type HealthChecker interface {
	CheckHealth(ctx context.Context) models.HealthSnapshot
}

// Executor runs the recovery sequence: remove the fault marker, restart,
// wait for the target to stabilise and read health once. It does not judge
// the result.
type Executor struct {
	mechanic      Mechanic
	health        HealthChecker
	stabilization time.Duration
	logger        *zap.Logger
	sleep         func(time.Duration)
}

// NewExecutor creates an executor that waits stabilization between the
// restart and the health check.
func NewExecutor(mechanic Mechanic, health HealthChecker, stabilization time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		mechanic:      mechanic,
		health:        health,
		stabilization: stabilization,
		logger:        logger.Named("executor"),
		sleep:         time.Sleep,
	}
}

// Execute runs to completion regardless of ctx cancellation, so a started
// remediation never leaves the target half-restarted. Action failures are
// logged, not returned.
func (e *Executor) Execute(ctx context.Context, target string) models.HealthSnapshot {
	ctx = context.WithoutCancel(ctx)

	e.logger.Info("removing fault marker", zap.String("target", target))
	if out, err := e.mechanic.RemoveFaultMarker(ctx, target); err != nil {
		e.logger.Warn("fault marker removal failed", zap.String("target", target), zap.Error(err))
	} else {
		e.logger.Debug("fault marker removed", zap.String("result", out))
	}

	e.logger.Info("restarting target", zap.String("target", target))
	if out, err := e.mechanic.Restart(ctx, target); err != nil {
		e.logger.Warn("restart failed", zap.String("target", target), zap.Error(err))
	} else {
		e.logger.Debug("restart issued", zap.String("result", out))
	}

	if e.stabilization > 0 {
		e.logger.Info("waiting for stabilization", zap.Duration("interval", e.stabilization))
		e.sleep(e.stabilization)
	}

	snap := e.health.CheckHealth(ctx)
	e.logger.Info("post-remediation health",
		zap.String("target", target),
		zap.String("status", snap.Status))
	return snap
}
