// Package backoff computes reconnection delays.
package backoff

import (
	"fmt"
	"math"
	"time"
)

type Strategy int

const (
	// Linear waits BaseDelay × attempt.
	Linear Strategy = iota
	// Exponential waits BaseDelay × Multiplier^(attempt-1).
	Exponential
)

// Policy bounds a sequence of retries. Attempts are 1-based.
type Policy struct {
	Strategy    Strategy
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single delay; zero means no cap.
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy is five linear attempts one second apart, growing.
func DefaultPolicy() Policy {
	return NewLinear(5, time.Second)
}

func NewLinear(maxAttempts int, base time.Duration) Policy {
	return Policy{Strategy: Linear, MaxAttempts: maxAttempts, BaseDelay: base}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0")
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be > 0")
	}
	if p.Strategy == Exponential && p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1 for exponential backoff")
	}
	return nil
}

// Delay returns the wait before the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.Strategy {
	case Exponential:
		delay = time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	default:
		delay = p.BaseDelay * time.Duration(attempt)
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Allows reports whether another attempt may follow `made` attempts.
func (p Policy) Allows(made int) bool {
	return made < p.MaxAttempts
}
