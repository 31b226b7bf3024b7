package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProbe struct {
	open    atomic.Bool
	latency time.Duration
	err     error
}

func (p *stubProbe) ChannelOpen(ctx context.Context) (bool, error) {
	return p.open.Load(), p.err
}

func (p *stubProbe) Ping(ctx context.Context) (time.Duration, error) {
	return p.latency, p.err
}

func TestHealthChecker_ClientChecks(t *testing.T) {
	probe := &stubProbe{latency: time.Millisecond}
	h := NewHealthChecker()
	h.AddChannelCheck(probe, time.Second, time.Second)
	h.AddEventLoopCheck(probe, 100*time.Millisecond, time.Second, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "signaling channel not open", status.Checks["signaling_channel"])
	assert.Equal(t, "healthy", status.Checks["event_loop"])
	assert.False(t, h.IsReady(context.Background()))

	probe.open.Store(true)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_SlowLoop(t *testing.T) {
	probe := &stubProbe{latency: time.Second}
	probe.open.Store(true)
	h := NewHealthChecker()
	h.AddEventLoopCheck(probe, 100*time.Millisecond, time.Second, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Contains(t, status.Checks["event_loop"], "exceeds")
}

func TestHealthChecker_CheckError(t *testing.T) {
	probe := &stubProbe{err: errors.New("event loop stopped")}
	h := NewHealthChecker()
	h.AddChannelCheck(probe, time.Second, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "event loop stopped", status.Checks["signaling_channel"])
}

func TestHealthChecker_BackgroundChecks(t *testing.T) {
	probe := &stubProbe{}
	probe.open.Store(true)
	h := NewHealthChecker()
	h.AddChannelCheck(probe, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	require.Eventually(t, func() bool {
		return h.LastResults()["signaling_channel"] == "healthy"
	}, 2*time.Second, 10*time.Millisecond)
}
