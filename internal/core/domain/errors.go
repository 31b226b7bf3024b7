package domain

import "errors"

var (
	ErrMissingPayload     = errors.New("signal message payload missing")
	ErrUnknownMessageType = errors.New("unknown signal message type")
	ErrChannelNotOpen     = errors.New("signaling channel not open")
	ErrEngineClosed       = errors.New("negotiation engine closed")
	ErrNoPeer             = errors.New("peer identity unknown")
	ErrStaleGeneration    = errors.New("continuation belongs to an ended session")
	ErrClientDisposed     = errors.New("client disposed")
)
