// Package monitor polls the target's health on a fixed interval and hands
// each tick to the incident orchestrator.
package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/incident"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

// Runner performs one incident invocation.
type Runner interface {
	Run(ctx context.Context) (models.Outcome, error)
}

// Monitor drives a Runner on a ticker, one invocation at a time.
type Monitor struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger

	ticks   atomic.Int64
	skipped atomic.Int64
}

// New creates a monitor. interval must be positive.
func New(runner Runner, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		runner:   runner,
		interval: interval,
		logger:   logger.Named("monitor"),
	}
}

// Start polls immediately and then on every tick until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", zap.Duration("interval", m.interval))
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	m.ticks.Add(1)
	out, err := m.runner.Run(ctx)
	if errors.Is(err, incident.ErrIncidentInFlight) {
		m.skipped.Add(1)
		m.logger.Debug("incident in flight, skipping poll")
		return
	}
	if err != nil {
		m.logger.Error("incident run failed", zap.Error(err))
		return
	}
	if out.FinalStatus != models.StatusIdle {
		m.logger.Info("poll handled incident", zap.String("final_status", string(out.FinalStatus)))
	}
}

// Stats returns the number of polls and the number skipped while another
// incident was in flight.
func (m *Monitor) Stats() (ticks, skipped int64) {
	return m.ticks.Load(), m.skipped.Load()
}
