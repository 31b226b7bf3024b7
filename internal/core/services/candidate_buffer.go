package services

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// CandidateBuffer holds remote ICE candidates that arrived before the
// session's remote description was set.
type CandidateBuffer struct {
	pending []webrtc.ICECandidateInit
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

func (b *CandidateBuffer) Push(candidate webrtc.ICECandidateInit) {
	b.pending = append(b.pending, candidate)
}

func (b *CandidateBuffer) Len() int {
	return len(b.pending)
}

// Drain applies every buffered candidate in arrival order and empties the
// buffer. A failing candidate does not stop the rest; all failures are
// joined into the returned error. It returns the number of candidates tried.
func (b *CandidateBuffer) Drain(apply func(webrtc.ICECandidateInit) error) (int, error) {
	pending := b.pending
	b.pending = nil

	var errs []error
	for i, candidate := range pending {
		if err := apply(candidate); err != nil {
			errs = append(errs, fmt.Errorf("candidate %d: %w", i, err))
		}
	}
	return len(pending), errors.Join(errs...)
}

func (b *CandidateBuffer) Clear() {
	b.pending = nil
}
