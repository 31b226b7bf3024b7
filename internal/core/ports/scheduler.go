package ports

import "time"

type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d. Implementations call fn on their own
// goroutine; callers hop back onto the event loop themselves.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Executor serializes work onto the client's single event loop.
type Executor interface {
	Post(fn func()) bool
}
