package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
)

// WebSocketDialer dials the orchestrator with gorilla/websocket.
type WebSocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	log          logger.Logger
}

// NewWebSocketDialer returns a Dialer with the given handshake and per-write timeouts.
func NewWebSocketDialer(handshakeTimeout, writeTimeout time.Duration) *WebSocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = consts.DefaultHandshakeTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = consts.DefaultWriteTimeout
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		writeTimeout: writeTimeout,
		log:          logger.Log.With("component", "transport"),
	}
}

// Dial validates endpoint and starts the connection attempt in the background.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, header http.Header, h Handlers) (Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.New(errors.ErrCodeTransportFailed, "Dial", "parse endpoint", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New(errors.ErrCodeTransportFailed, "Dial", "endpoint scheme must be ws or wss, got "+u.Scheme, nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		cancel:       cancel,
		handlers:     h,
		writeTimeout: d.writeTimeout,
	}
	go c.run(ctx, d.dialer, endpoint, header, d.log)
	return c, nil
}

type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu      sync.Mutex
	writeTimeout time.Duration

	cancel    context.CancelFunc
	closeOnce sync.Once
	handlers  Handlers
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, endpoint string, header http.Header, log logger.Logger) {
	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		log.Debug("Dial failed", "url", endpoint, "err", err)
		c.finish(errors.New(errors.ErrCodeTransportFailed, "Dial", "websocket handshake", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.finish(nil)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(errors.New(errors.ErrCodeTransportFailed, "Read", "socket closed", err))
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}

func (c *wsConn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		if c.closed {
			// Local close is not a failure.
			err = nil
		}
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		if conn != nil {
			conn.Close()
		}
		if c.handlers.OnClose != nil {
			c.handlers.OnClose(err)
		}
	})
}

// Send writes one text frame.
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return errors.New(errors.ErrCodeNotConnected, "Send", "transport not open", nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return errors.New(errors.ErrCodeTransportFailed, "Send", "set write deadline", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.New(errors.ErrCodeTransportFailed, "Send", "write frame", err)
	}
	return nil
}

// Close sends a normal-closure frame when the session is open and releases it.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		// WriteControl may run concurrently with WriteMessage.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	return nil
}

// Personal.AI order the ending
