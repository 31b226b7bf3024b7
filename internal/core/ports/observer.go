package ports

import (
	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type StatusObserver interface {
	OnStatus(event domain.StatusEvent)
}

type StatusObserverFunc func(event domain.StatusEvent)

func (f StatusObserverFunc) OnStatus(event domain.StatusEvent) { f(event) }

// StatusFanout delivers every event to each observer in order.
type StatusFanout []StatusObserver

func (f StatusFanout) OnStatus(event domain.StatusEvent) {
	for _, o := range f {
		if o != nil {
			o.OnStatus(event)
		}
	}
}

// PresentationSink renders local and remote media.
type PresentationSink interface {
	ShowLocal(source MediaSource)
	ShowRemote(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	Clear()
}
