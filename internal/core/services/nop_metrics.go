package services

import (
	"time"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) MessageSent(domain.MessageType) {}
func (NopMetrics) MessageReceived(domain.MessageType) {}
func (NopMetrics) MessageDropped(string) {}
func (NopMetrics) MessageLost(domain.MessageType) {}
func (NopMetrics) ChannelOpened() {}
func (NopMetrics) ChannelClosed(int) {}
func (NopMetrics) ReconnectScheduled(int, time.Duration) {}
func (NopMetrics) ReconnectExhausted() {}
func (NopMetrics) CandidateBuffered() {}
func (NopMetrics) CandidatesDrained(int, int) {}
func (NopMetrics) CallStarted(bool) {}
func (NopMetrics) CallEnded(time.Duration) {}
func (NopMetrics) CaptureFallback() {}
func (NopMetrics) ConnectivityChanged(webrtc.PeerConnectionState) {}
func (NopMetrics) KeyframeRequested(string)                        {}
