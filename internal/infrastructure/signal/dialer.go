package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/internal/core/ports"

	"github.com/gorilla/websocket"
)

type DialerConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the silence between frames or relay pings; zero disables it.
	ReadTimeout time.Duration
}

func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      90 * time.Second,
	}
}

// WebSocketDialer opens signaling channels over gorilla websockets.
type WebSocketDialer struct {
	cfg    DialerConfig
	dialer *websocket.Dialer
}

func NewWebSocketDialer(cfg DialerConfig) *WebSocketDialer {
	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (ports.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{conn: conn, writeTimeout: d.cfg.WriteTimeout, readTimeout: d.cfg.ReadTimeout}
	c.extendReadDeadline()
	conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration
	closeOnce    sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, translateReadError(err)
	}
	c.extendReadDeadline()
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and tears the connection down. A pending
// ReadMessage returns once the socket is closed.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) extendReadDeadline() {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

// translateReadError maps a received close frame to *ports.CloseError. A
// connection lost without a close frame stays a transport error.
func translateReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return &ports.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}
