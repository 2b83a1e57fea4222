package remediation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/internal/observability"
	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/models"
)

type fakeMechanic struct {
	mu       sync.Mutex
	calls    []string
	fixErr   error
	ctxErrAt []error
}

func (f *fakeMechanic) RemoveFaultMarker(ctx context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fix:"+target)
	f.ctxErrAt = append(f.ctxErrAt, ctx.Err())
	return "removed", f.fixErr
}

func (f *fakeMechanic) Restart(ctx context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "restart:"+target)
	f.ctxErrAt = append(f.ctxErrAt, ctx.Err())
	return target, nil
}

type staticHealth struct{ status string }

func (s staticHealth) CheckHealth(context.Context) models.HealthSnapshot {
	return models.HealthSnapshot{Status: s.status}
}

func TestExecute_OrderAndWait(t *testing.T) {
	m := &fakeMechanic{}
	e := NewExecutor(m, staticHealth{status: "OK"}, 4*time.Second, zap.NewNop())
	var slept time.Duration
	e.sleep = func(d time.Duration) { slept = d }

	snap := e.Execute(context.Background(), "prod-api")

	assert.Equal(t, []string{"fix:prod-api", "restart:prod-api"}, m.calls)
	assert.Equal(t, 4*time.Second, slept)
	assert.True(t, snap.Healthy())
}

func TestExecute_ActionFailuresAreAbsorbed(t *testing.T) {
	m := &fakeMechanic{fixErr: errors.New("docker exec failed")}
	e := NewExecutor(m, staticHealth{status: "DEGRADED"}, 0, zap.NewNop())

	snap := e.Execute(context.Background(), "prod-api")
	assert.Len(t, m.calls, 2, "restart still runs after a failed fix")
	assert.Equal(t, "DEGRADED", snap.Status)
}

func TestExecute_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &fakeMechanic{}
	e := NewExecutor(m, staticHealth{status: "OK"}, 0, zap.NewNop())
	e.Execute(ctx, "prod-api")

	require.Len(t, m.ctxErrAt, 2)
	assert.NoError(t, m.ctxErrAt[0])
	assert.NoError(t, m.ctxErrAt[1])
}

// A target that is unhealthy while its fault marker exists reports OK once
// the mechanic clears the marker and restarts it.
func TestExecute_RoundTripAgainstTarget(t *testing.T) {
	var mu sync.Mutex
	broken := true

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if broken {
			http.Error(w, "SERVICE UNHEALTHY", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer target.Close()

	mechanic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/containers/prod-api/fix":
			mu.Lock()
			broken = false
			mu.Unlock()
			w.Write([]byte(`{"tool":"fix_container","result":""}`))
		case "/containers/prod-api/restart":
			w.Write([]byte(`{"tool":"restart_container","result":"prod-api"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer mechanic.Close()

	health := observability.NewClient(target.URL, mechanic.URL, time.Second, zap.NewNop())
	require.False(t, health.CheckHealth(context.Background()).Healthy())

	e := NewExecutor(NewClient(mechanic.URL, time.Second, zap.NewNop()), health, 10*time.Millisecond, zap.NewNop())
	snap := e.Execute(context.Background(), "prod-api")
	assert.Equal(t, "OK", snap.Status)
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/containers/prod-api/fix":
			w.Write([]byte(`{"result":"flag removed"}`))
		case "/containers/prod-api/restart":
			w.Write([]byte("restarted"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zap.NewNop())
	out, err := c.RemoveFaultMarker(context.Background(), "prod-api")
	require.NoError(t, err)
	assert.Equal(t, "flag removed", out)

	out, err = c.Restart(context.Background(), "prod-api")
	require.NoError(t, err)
	assert.Equal(t, "restarted", out)

	_, err = c.Restart(context.Background(), "other")
	assert.Error(t, err)
}
