package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/tracing"
	"peercall/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RelayConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 100,
		Burst:             200,
		MaxMessageSize:    64 * 1024,
	}
}

const sendQueueSize = 64

// relayPeer is one registered connection. Writes go through send so that
// only writePump touches the socket writer.
type relayPeer struct {
	id      domain.Identity
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func (p *relayPeer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// RelayServer routes signaling frames between connected identities. Each
// frame is stamped with the sender's identity and forwarded to the
// connection registered under its target.
type RelayServer struct {
	cfg      RelayConfig
	upgrader websocket.Upgrader
	metrics  ports.RelayMetrics

	peers map[domain.Identity]*relayPeer
	mu    sync.RWMutex

	logger *zap.SugaredLogger
}

func NewRelayServer(cfg RelayConfig, metrics ports.RelayMetrics, logger *zap.SugaredLogger) *RelayServer {
	return &RelayServer{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		metrics: metrics,
		peers:   make(map[domain.Identity]*relayPeer),
		logger:  logger,
	}
}

func (s *RelayServer) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/:identity", s.HandleWebSocket)
	r.GET("/health", s.HealthCheck)
}

func (s *RelayServer) HandleWebSocket(c *gin.Context) {
	id := c.Param("identity")
	if err := validation.ValidateIdentity(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "identity", id, "error", err)
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	peer := &relayPeer{
		id:      domain.Identity(id),
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
	}
	s.register(peer)

	go s.writePump(peer)
	s.readPump(c.Request.Context(), peer)
}

func (s *RelayServer) register(peer *relayPeer) {
	s.mu.Lock()
	existing, reconnect := s.peers[peer.id]
	s.peers[peer.id] = peer
	total := len(s.peers)
	s.mu.Unlock()

	if reconnect {
		existing.close()
		s.logger.Infow("closing superseded connection", "identity", peer.id)
	}
	if s.metrics != nil {
		s.metrics.RelayConnected(total)
	}
	s.logger.Infow("peer connected", "identity", peer.id, "reconnect", reconnect)
}

// unregister removes peer unless a newer connection already replaced it.
func (s *RelayServer) unregister(peer *relayPeer) {
	s.mu.Lock()
	if current, ok := s.peers[peer.id]; ok && current == peer {
		delete(s.peers, peer.id)
	}
	total := len(s.peers)
	s.mu.Unlock()

	peer.close()
	if s.metrics != nil {
		s.metrics.RelayDisconnected(total)
	}
	s.logger.Infow("peer disconnected", "identity", peer.id)
}

func (s *RelayServer) readPump(ctx context.Context, peer *relayPeer) {
	defer s.unregister(peer)

	_ = peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	peer.conn.SetPongHandler(func(string) error {
		return peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infow("error reading message from peer", "identity", peer.id, "error", err)
			}
			return
		}
		_ = peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if !peer.limiter.Allow() {
			if s.metrics != nil {
				s.metrics.RelayRateLimited()
			}
			s.logger.Warnw("rate limit exceeded, frame dropped", "identity", peer.id)
			continue
		}
		s.forward(ctx, peer.id, data)
	}
}

func (s *RelayServer) writePump(peer *relayPeer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-peer.send:
			_ = peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing to peer", "identity", peer.id, "error", err)
				peer.close()
				return
			}
		case <-ticker.C:
			_ = peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := peer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "identity", peer.id, "error", err)
				peer.close()
				return
			}
		case <-peer.done:
			return
		}
	}
}

// forward stamps sender and relays the frame as-is otherwise. Frames that
// are not JSON objects (including a bare null), or whose target is not
// connected, are dropped.
func (s *RelayServer) forward(ctx context.Context, sender domain.Identity, data []byte) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debugw("dropping malformed frame", "identity", sender, "error", err)
		return
	}
	if frame == nil {
		s.logger.Debugw("dropping null frame", "identity", sender)
		return
	}

	var msgType domain.MessageType
	var target domain.Identity
	_ = json.Unmarshal(frame["type"], &msgType)
	_ = json.Unmarshal(frame["target"], &target)

	_, span := tracing.TraceRelayForward(ctx, sender.String(), target.String())
	defer span.End()

	stamped, err := json.Marshal(sender)
	if err != nil {
		return
	}
	frame["sender"] = stamped
	out, err := json.Marshal(frame)
	if err != nil {
		return
	}

	delivered := s.deliver(target, out)
	if s.metrics != nil {
		s.metrics.RelayForwarded(msgType, delivered)
	}
	if !delivered {
		s.logger.Debugw("target not connected, frame dropped", "from", sender, "to", target, "type", msgType)
		return
	}
	s.logger.Debugw("frame relayed", "from", sender, "to", target, "type", msgType, "size", len(out))
}

func (s *RelayServer) deliver(target domain.Identity, data []byte) bool {
	if target.IsZero() {
		return false
	}
	s.mu.RLock()
	peer, ok := s.peers[target]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case peer.send <- data:
		return true
	case <-peer.done:
		return false
	default:
		s.logger.Warnw("send queue full, frame dropped", "identity", target)
		return false
	}
}

func (s *RelayServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	})
}

func (s *RelayServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *RelayServer) IsConnected(id domain.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[id]
	return ok
}

// Close drops every connection.
func (s *RelayServer) Close() {
	s.mu.Lock()
	peers := make([]*relayPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[domain.Identity]*relayPeer)
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}
