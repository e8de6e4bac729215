// Package wsfeed provides a WebSocket transport for job progress streams.
//
// Each text message carries one progress frame, the same JSON payload the
// SSE endpoint sends as event data. Application-level ping messages are
// answered here and never reach the stream controller.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/finops/cli/internal/stream"
)

const (
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
)

// Option configures Dial.
type Option func(*options)

type options struct {
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	logger           *log.Logger
}

// WithPingInterval sets how often a control ping is written. Zero disables
// pings.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithLogger sets the logger for protocol-level debug output.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Conn is one open WebSocket progress feed.
type Conn struct {
	ws     *websocket.Conn
	frames chan []byte
	errs   chan error
	done   chan struct{}
	once   sync.Once
	logger *log.Logger

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// Dial opens a WebSocket progress feed. http and https URLs are rewritten to
// ws and wss.
//
// Parameters:
//   - ctx: Context bounding the handshake
//   - rawURL: The progress endpoint
//   - apiKey: Bearer token; empty sends no Authorization header
//   - opts: Optional ping interval and logger
//
// Returns:
//   - *Conn: The open connection
//   - error: URL or handshake failure
func Dial(ctx context.Context, rawURL, apiKey string, opts ...Option) (*Conn, error) {
	o := options{
		pingInterval:     defaultPingInterval,
		handshakeTimeout: 30 * time.Second,
		logger:           log.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	wsURL, err := websocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	c := &Conn{
		ws:     ws,
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: o.logger,
	}
	go c.readLoop()
	if o.pingInterval > 0 {
		go c.pingLoop(o.pingInterval)
	}
	return c, nil
}

// Factory returns a stream.Factory dialing rawURL on every Start.
func Factory(rawURL, apiKey string, opts ...Option) stream.Factory {
	return func(ctx context.Context) (stream.Conn, error) {
		c, err := Dial(ctx, rawURL, apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func websocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Frames returns progress frames in arrival order. It is closed when the
// feed ends.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Errors returns the channel carrying the error that ended the feed.
func (c *Conn) Errors() <-chan error { return c.errs }

// Close sends a close frame and releases the socket. Calling it more than
// once returns stream.ErrClosed.
func (c *Conn) Close() error {
	err := stream.ErrClosed
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	defer close(c.errs)

	for {
		kind, message, err := c.ws.ReadMessage()
		if err != nil {
			if c.closing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.logger.Debug("WebSocket read failed", "err", err)
			c.errs <- fmt.Errorf("read error: %w", err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		if gjson.GetBytes(message, "type").String() == "ping" {
			c.sendPong(gjson.GetBytes(message, "id").String())
			continue
		}

		select {
		case c.frames <- message:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("WebSocket ping failed", "err", err)
				return
			}
		}
	}
}

func (c *Conn) sendPong(id string) {
	pong, _ := json.Marshal(map[string]interface{}{
		"type":      "pong",
		"id":        id,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, pong); err != nil {
		c.logger.Debug("WebSocket pong failed", "err", err)
	}
}
