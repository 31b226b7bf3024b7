// Package presentation renders status events and media for a headless client.
package presentation

import (
	"sync"

	"peercall/internal/core/domain"

	"go.uber.org/zap"
)

// LogObserver writes every status event to the log and remembers the most
// recent event per source.
type LogObserver struct {
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	latest map[domain.StatusSource]domain.StatusEvent
}

func NewLogObserver(logger *zap.SugaredLogger) *LogObserver {
	return &LogObserver{
		logger: logger,
		latest: make(map[domain.StatusSource]domain.StatusEvent),
	}
}

func (o *LogObserver) OnStatus(ev domain.StatusEvent) {
	o.mu.Lock()
	o.latest[ev.Source] = ev
	o.mu.Unlock()

	fields := []interface{}{
		"source", string(ev.Source),
		"kind", ev.Kind.String(),
		"terminal", ev.Terminal,
	}
	if ev.Code != 0 {
		fields = append(fields, "code", ev.Code)
	}
	if ev.Err != nil {
		fields = append(fields, "error", ev.Err)
	}

	switch {
	case ev.Kind == domain.StatusError && ev.Terminal:
		o.logger.Errorw(ev.Text, fields...)
	case ev.Kind == domain.StatusError:
		o.logger.Warnw(ev.Text, fields...)
	default:
		o.logger.Infow(ev.Text, fields...)
	}
}

// Latest returns the last event seen from each source.
func (o *LogObserver) Latest() map[domain.StatusSource]domain.StatusEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[domain.StatusSource]domain.StatusEvent, len(o.latest))
	for k, v := range o.latest {
		out[k] = v
	}
	return out
}
