// Package eventloop runs tasks one at a time on a single goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("event loop stopped")

// Loop is an unbounded FIFO of tasks executed sequentially by Run. Post never
// blocks, so network and engine callbacks can hand work to the loop from any
// goroutine.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues fn. It returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case <-l.wake:
			for {
				fn := l.next()
				if fn == nil {
					break
				}
				l.exec(fn)
				select {
				case <-l.done:
					return
				default:
				}
			}
		}
	}
}

// Stop discards pending tasks and makes Run return.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		l.queue = nil
		l.mu.Unlock()
	})
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Ping round-trips an empty task through the loop.
func (l *Loop) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.Call(ctx, func() {}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("Event loop task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
