package monitoring

import (
	"context"
	"fmt"
	"time"
)

// ClientProbe is the part of a call client the health checks look at.
type ClientProbe interface {
	ChannelOpen(ctx context.Context) (bool, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// AddChannelCheck reports unhealthy while the signaling channel is down.
func (h *HealthChecker) AddChannelCheck(client ClientProbe, interval, timeout time.Duration) {
	h.AddCheck("signaling_channel", func(ctx context.Context) (bool, error) {
		open, err := client.ChannelOpen(ctx)
		if err != nil {
			return false, err
		}
		if !open {
			return false, fmt.Errorf("signaling channel not open")
		}
		return true, nil
	}, interval, timeout)
}

// AddEventLoopCheck reports unhealthy when a no-op task takes longer than
// maxLatency to run on the client's event loop.
func (h *HealthChecker) AddEventLoopCheck(client ClientProbe, maxLatency, interval, timeout time.Duration) {
	h.AddCheck("event_loop", func(ctx context.Context) (bool, error) {
		latency, err := client.Ping(ctx)
		if err != nil {
			return false, err
		}
		if latency > maxLatency {
			return false, fmt.Errorf("event loop latency %s exceeds %s", latency, maxLatency)
		}
		return true, nil
	}, interval, timeout)
}

// IsReady checks if the client is ready to place calls.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
