package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinearDelay(t *testing.T) {
	p := DefaultPolicy()

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, time.Duration(attempt)*time.Second, p.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, time.Second, p.Delay(0))
}

func TestExponentialDelay(t *testing.T) {
	p := Policy{
		Strategy:    Exponential,
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5))
}

func TestAllows(t *testing.T) {
	p := NewLinear(5, time.Second)

	assert.True(t, p.Allows(0))
	assert.True(t, p.Allows(4))
	assert.False(t, p.Allows(5))
	assert.False(t, NewLinear(0, time.Second).Allows(0))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"negative attempts", NewLinear(-1, time.Second), true},
		{"zero delay", NewLinear(3, 0), true},
		{"exponential without multiplier", Policy{Strategy: Exponential, MaxAttempts: 3, BaseDelay: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
