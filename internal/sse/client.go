// Package sse provides a Server-Sent Events transport for job progress streams.
//
// A connection parses the text/event-stream framing and hands every event's
// data payload to the stream controller as one frame. It never reconnects:
// the job keeps running server side and the REST call reports its outcome.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/finops/cli/internal/stream"
)

// maxErrorBody bounds how much of a rejected response is quoted in errors.
const maxErrorBody = 512

// Option configures Dial.
type Option func(*dialer)

type dialer struct {
	client *http.Client
	logger *log.Logger
	buffer int
}

// WithHTTPClient sets the client used for the streaming request. The client
// must not carry a Timeout, since progress streams stay open for minutes.
func WithHTTPClient(c *http.Client) Option {
	return func(d *dialer) { d.client = c }
}

// WithLogger sets the logger used for protocol-level debug output.
func WithLogger(l *log.Logger) Option {
	return func(d *dialer) { d.logger = l }
}

// WithBuffer sets how many frames may queue before the reader blocks.
func WithBuffer(n int) Option {
	return func(d *dialer) { d.buffer = n }
}

// Conn is one open event stream.
type Conn struct {
	frames chan []byte
	errs   chan error
	cancel context.CancelFunc
	closed chan struct{}
	once   sync.Once
	logger *log.Logger
}

// Dial opens an event stream.
//
// Parameters:
//   - ctx: Context bounding the whole connection
//   - url: The progress endpoint
//   - apiKey: Bearer token; empty sends no Authorization header
//   - opts: Optional HTTP client, logger and buffer size
//
// Returns:
//   - *Conn: The open connection
//   - error: Request or handshake failure, including non-200 responses
func Dial(ctx context.Context, url, apiKey string, opts ...Option) (*Conn, error) {
	d := dialer{
		client: &http.Client{Timeout: 0},
		logger: log.Default(),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(&d)
	}

	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create SSE request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("SSE connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			return nil, fmt.Errorf("SSE connection failed with status: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("SSE connection failed with status %d: %s", resp.StatusCode, msg)
	}

	c := &Conn{
		frames: make(chan []byte, d.buffer),
		errs:   make(chan error, 1),
		cancel: cancel,
		closed: make(chan struct{}),
		logger: d.logger,
	}
	go c.read(resp.Body)
	return c, nil
}

// Factory returns a stream.Factory dialing url on every Start.
func Factory(url, apiKey string, opts ...Option) stream.Factory {
	return func(ctx context.Context) (stream.Conn, error) {
		c, err := Dial(ctx, url, apiKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Frames returns the data payloads in arrival order. It is closed when the
// stream ends.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Errors returns the channel carrying the read error that ended the stream.
func (c *Conn) Errors() <-chan error { return c.errs }

// Close aborts the request. Calling it more than once is harmless.
func (c *Conn) Close() error {
	err := stream.ErrClosed
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		err = nil
	})
	return err
}

// read parses the event stream until EOF, a read error or Close.
func (c *Conn) read(body io.ReadCloser) {
	defer close(c.frames)
	defer close(c.errs)
	defer body.Close()

	reader := bufio.NewReader(body)
	var (
		eventName string
		data      strings.Builder
		hasData   bool
	)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !c.isClosed() {
				c.logger.Debug("SSE read failed", "err", err)
				c.errs <- err
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			// Blank line ends the event.
			if hasData {
				if !c.emit(frameFor(eventName, data.String())) {
					return
				}
			}
			eventName = ""
			data.Reset()
			hasData = false
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "":
			// Comment line, used by servers as keep-alive.
		case "event":
			eventName = value
		case "data":
			if hasData {
				data.WriteString("\n")
			}
			data.WriteString(value)
			hasData = true
		default:
			// id and retry are ignored; the client never reconnects.
		}
	}
}

func (c *Conn) emit(frame []byte) bool {
	select {
	case c.frames <- frame:
		return true
	case <-c.closed:
		return false
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// frameFor returns the data payload as a frame. A JSON object without its
// own type inherits the SSE event name.
func frameFor(eventName, data string) []byte {
	frame := []byte(data)
	if eventName == "" || eventName == "message" {
		return frame
	}
	parsed := gjson.ParseBytes(frame)
	if !gjson.ValidBytes(frame) || !parsed.IsObject() || parsed.Get("type").Exists() {
		return frame
	}
	withType, err := sjson.SetBytes(frame, "type", eventName)
	if err != nil {
		return frame
	}
	return withType
}
