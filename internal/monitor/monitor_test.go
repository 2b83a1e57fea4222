package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/incident"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

type countingRunner struct {
	calls atomic.Int64
	err   error
}

func (r *countingRunner) Run(context.Context) (models.Outcome, error) {
	r.calls.Add(1)
	return models.Outcome{FinalStatus: models.StatusIdle}, r.err
}

func TestStart_PollsUntilCancelled(t *testing.T) {
	r := &countingRunner{}
	m := New(r, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}

	ticks, skipped := m.Stats()
	assert.GreaterOrEqual(t, ticks, int64(3))
	assert.Zero(t, skipped)
}

func TestPoll_CountsInFlightSkips(t *testing.T) {
	r := &countingRunner{err: fmt.Errorf("%w: held elsewhere", incident.ErrIncidentInFlight)}
	m := New(r, time.Hour, zap.NewNop())

	m.poll(context.Background())
	m.poll(context.Background())

	ticks, skipped := m.Stats()
	assert.Equal(t, int64(2), ticks)
	assert.Equal(t, int64(2), skipped)
}
