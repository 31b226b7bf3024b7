package presentation

import (
	"sync"
	"sync/atomic"
	"time"

	"peercall/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackStats summarizes what has been received on one remote track.
type TrackStats struct {
	TrackID   string    `json:"track_id"`
	Kind      string    `json:"kind"`
	Codec     string    `json:"codec"`
	Packets   int64     `json:"packets"`
	Bytes     int64     `json:"bytes"`
	Keyframes int64     `json:"keyframes"`
	LastSeq   uint16    `json:"last_seq"`
	StartedAt time.Time `json:"started_at"`
}

type remoteTrack struct {
	id        string
	kind      string
	codec     string
	startedAt time.Time

	packets   atomic.Int64
	bytes     atomic.Int64
	keyframes atomic.Int64
	lastSeq   atomic.Uint32
}

func (r *remoteTrack) stats() TrackStats {
	return TrackStats{
		TrackID:   r.id,
		Kind:      r.kind,
		Codec:     r.codec,
		Packets:   r.packets.Load(),
		Bytes:     r.bytes.Load(),
		Keyframes: r.keyframes.Load(),
		LastSeq:   uint16(r.lastSeq.Load()),
		StartedAt: r.startedAt,
	}
}

// MediaSink is a headless presentation surface: it records the local
// preview source and drains remote tracks, keeping per-track counters.
type MediaSink struct {
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	local  ports.MediaSource
	remote map[string]*remoteTrack
}

func NewMediaSink(logger *zap.SugaredLogger) *MediaSink {
	return &MediaSink{logger: logger, remote: make(map[string]*remoteTrack)}
}

func (s *MediaSink) ShowLocal(source ports.MediaSource) {
	s.mu.Lock()
	s.local = source
	s.mu.Unlock()
	s.logger.Infow("local preview attached", "source_id", source.ID(), "tracks", len(source.Tracks()))
}

func (s *MediaSink) ShowRemote(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	r := s.attach(track.ID(), track.Kind().String(), track.Codec().MimeType)
	go s.consume(r, track)
	go drainRTCP(receiver)
}

// Clear detaches local and remote media. Readers of detached tracks stop
// when their engine closes.
func (s *MediaSink) Clear() {
	s.mu.Lock()
	s.local = nil
	s.remote = make(map[string]*remoteTrack)
	s.mu.Unlock()
	s.logger.Debugw("presentation cleared")
}

func (s *MediaSink) LocalSourceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil {
		return ""
	}
	return s.local.ID()
}

func (s *MediaSink) RemoteStats() []TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrackStats, 0, len(s.remote))
	for _, r := range s.remote {
		out = append(out, r.stats())
	}
	return out
}

func (s *MediaSink) attach(id, kind, codec string) *remoteTrack {
	r := &remoteTrack{id: id, kind: kind, codec: codec, startedAt: time.Now()}
	s.mu.Lock()
	s.remote[id] = r
	s.mu.Unlock()
	s.logger.Infow("remote track attached", "track_id", id, "kind", kind, "codec", codec)
	return r
}

func (s *MediaSink) consume(r *remoteTrack, src rtpReader) {
	vp8 := r.codec == webrtc.MimeTypeVP8
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			s.logger.Debugw("remote track ended", "track_id", r.id, "packets", r.packets.Load())
			return
		}
		r.packets.Add(1)
		r.bytes.Add(int64(len(pkt.Payload)))
		r.lastSeq.Store(uint32(pkt.SequenceNumber))
		if vp8 && isVP8Keyframe(pkt.Payload) {
			r.keyframes.Add(1)
		}
	}
}

// isVP8Keyframe reports whether payload starts a VP8 key frame: the first
// partition of a frame whose header has the inverse key frame bit cleared.
func isVP8Keyframe(payload []byte) bool {
	var p codecs.VP8Packet
	frame, err := p.Unmarshal(payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	return p.S == 1 && p.PID == 0 && frame[0]&0x01 == 0
}

func drainRTCP(receiver *webrtc.RTPReceiver) {
	if receiver == nil {
		return
	}
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}
