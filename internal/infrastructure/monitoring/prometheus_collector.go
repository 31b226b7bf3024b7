package monitoring

import (
	"strconv"
	"time"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the client signaling metrics and the relay
// metrics on one registry.
type PrometheusCollector struct {
	// Signaling channel
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	messagesLost     *prometheus.CounterVec
	channelOpen      prometheus.Gauge
	channelCloses    *prometheus.CounterVec
	reconnects       prometheus.Counter
	reconnectDelay   prometheus.Histogram
	reconnectGiveUps prometheus.Counter

	// Negotiation
	candidatesBuffered prometheus.Counter
	candidatesDrained  prometheus.Counter
	candidatesFailed   prometheus.Counter
	callsStarted       *prometheus.CounterVec
	callDuration       prometheus.Histogram
	captureFallbacks   prometheus.Counter
	connectivity       *prometheus.GaugeVec
	keyframeRequests   *prometheus.CounterVec

	// Relay
	relayConnections prometheus.Gauge
	relayForwarded   *prometheus.CounterVec
	relayRateLimited prometheus.Counter
}

// NewPrometheusCollector registers every metric with reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signal_messages_sent_total",
			Help: "Signaling messages written to the relay",
		}, []string{"type"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signal_messages_received_total",
			Help: "Signaling messages received from the relay",
		}, []string{"type"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signal_messages_dropped_total",
			Help: "Inbound frames discarded before dispatch",
		}, []string{"reason"}),

		messagesLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signal_messages_lost_total",
			Help: "Outbound messages lost because the channel was not open",
		}, []string{"type"}),

		channelOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_signal_channel_open",
			Help: "1 while the signaling channel is open",
		}),

		channelCloses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_signal_channel_closes_total",
			Help: "Signaling channel closures by close code",
		}, []string{"code"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_signal_reconnects_scheduled_total",
			Help: "Reconnection attempts scheduled",
		}),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_signal_reconnect_delay_seconds",
			Help:    "Delay before each scheduled reconnection",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 10, 30},
		}),

		reconnectGiveUps: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_signal_reconnects_exhausted_total",
			Help: "Times the reconnection budget was exhausted",
		}),

		candidatesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_ice_candidates_buffered_total",
			Help: "Remote candidates held until a remote description was applied",
		}),

		candidatesDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_ice_candidates_drained_total",
			Help: "Buffered candidates handed to the engine",
		}),

		candidatesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_ice_candidates_failed_total",
			Help: "Buffered candidates the engine rejected",
		}),

		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_started_total",
			Help: "Calls started by direction",
		}, []string{"direction"}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_call_duration_seconds",
			Help:    "Duration of ended calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		captureFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_capture_fallbacks_total",
			Help: "Capture requests retried with the minimal profile",
		}),

		connectivity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peercall_peer_connection_state",
			Help: "1 for the current aggregate peer connection state",
		}, []string{"state"}),

		keyframeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_keyframe_requests_total",
			Help: "Keyframe requests received from the remote peer by RTCP kind",
		}, []string{"kind"}),

		relayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_relay_connections",
			Help: "Identities currently connected to the relay",
		}),

		relayForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_relay_frames_total",
			Help: "Frames handled by the relay by type and outcome",
		}, []string{"type", "outcome"}),

		relayRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "peercall_relay_frames_rate_limited_total",
			Help: "Frames dropped by the per-connection rate limit",
		}),
	}
}

func (p *PrometheusCollector) MessageSent(t domain.MessageType) {
	p.messagesSent.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) MessageReceived(t domain.MessageType) {
	p.messagesReceived.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) MessageDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) MessageLost(t domain.MessageType) {
	p.messagesLost.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) ChannelOpened() {
	p.channelOpen.Set(1)
}

func (p *PrometheusCollector) ChannelClosed(code int) {
	p.channelOpen.Set(0)
	p.channelCloses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (p *PrometheusCollector) ReconnectScheduled(attempt int, delay time.Duration) {
	p.reconnects.Inc()
	p.reconnectDelay.Observe(delay.Seconds())
}

func (p *PrometheusCollector) ReconnectExhausted() {
	p.reconnectGiveUps.Inc()
}

func (p *PrometheusCollector) CandidateBuffered() {
	p.candidatesBuffered.Inc()
}

func (p *PrometheusCollector) CandidatesDrained(attempted, failed int) {
	p.candidatesDrained.Add(float64(attempted))
	p.candidatesFailed.Add(float64(failed))
}

func (p *PrometheusCollector) CallStarted(outgoing bool) {
	direction := "incoming"
	if outgoing {
		direction = "outgoing"
	}
	p.callsStarted.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) CallEnded(duration time.Duration) {
	p.callDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) CaptureFallback() {
	p.captureFallbacks.Inc()
}

func (p *PrometheusCollector) ConnectivityChanged(state webrtc.PeerConnectionState) {
	p.connectivity.Reset()
	p.connectivity.WithLabelValues(state.String()).Set(1)
}

func (p *PrometheusCollector) KeyframeRequested(kind string) {
	p.keyframeRequests.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RelayConnected(total int) {
	p.relayConnections.Set(float64(total))
}

func (p *PrometheusCollector) RelayDisconnected(total int) {
	p.relayConnections.Set(float64(total))
}

func (p *PrometheusCollector) RelayForwarded(t domain.MessageType, delivered bool) {
	outcome := "dropped"
	if delivered {
		outcome = "delivered"
	}
	p.relayForwarded.WithLabelValues(string(t), outcome).Inc()
}

func (p *PrometheusCollector) RelayRateLimited() {
	p.relayRateLimited.Inc()
}
