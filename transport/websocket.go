package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// Options tunes websocket-backed connections.
type Options struct {
	// WriteTimeout bounds each write when the caller's context carries no
	// earlier deadline. Zero disables the default bound.
	WriteTimeout time.Duration
	// ReadLimit caps the size of one inbound message. Zero leaves gorilla's
	// default (unlimited).
	ReadLimit int64
}

type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established gorilla/websocket connection.
func NewConn(conn *websocket.Conn, opts Options) Conn {
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &wsConn{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
	}
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return Message{}, Classify(err)
	}

	switch typ {
	case websocket.BinaryMessage:
		return Message{Type: Binary, Data: data}, nil
	case websocket.TextMessage:
		return Message{Type: Text, Data: data}, nil
	default:
		return Message{}, fmt.Errorf("%w: unexpected frame type %d", ErrProtocol, typ)
	}
}

func (c *wsConn) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var frame int
	switch msg.Type {
	case Binary:
		frame = websocket.BinaryMessage
	case Text:
		frame = websocket.TextMessage
	default:
		return fmt.Errorf("%w: cannot send message type %d", ErrProtocol, msg.Type)
	}

	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return Classify(err)
	}

	// Cancelling ctx expires the deadline so a blocked write returns. The
	// connection is unusable for writes afterwards.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(frame, msg.Data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Classify(err)
	}
	return nil
}

func (c *wsConn) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.Send(ctx, Message{Type: Text, Data: data})
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Upgrader accepts inbound websocket connections.
type Upgrader struct {
	upgrader websocket.Upgrader
	opts     Options
}

// NewUpgrader creates an Upgrader that accepts the listed origins. An empty
// list accepts any origin.
func NewUpgrader(allowedOrigins []string, opts Options) *Upgrader {
	origins := slices.Clone(allowedOrigins)
	return &Upgrader{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(origins) == 0 || origin == "" {
					return true
				}
				return slices.Contains(origins, origin)
			},
		},
		opts: opts,
	}
}

// Upgrade completes the websocket handshake. On failure gorilla has already
// written an HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return NewConn(conn, u.opts), nil
}

// Dialer opens outbound websocket connections to a fixed URL.
type Dialer struct {
	URL       string
	Timeout   time.Duration
	Handshake string

	opts   Options
	dialer *websocket.Dialer
}

// NewDialer creates a Dialer for url. When handshake is non-empty it is sent
// as a text message right after every successful dial.
func NewDialer(url string, timeout time.Duration, handshake string, opts Options) *Dialer {
	return &Dialer{
		URL:       url,
		Timeout:   timeout,
		Handshake: handshake,
		opts:      opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	ws, resp, err := d.dialer.DialContext(ctx, d.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}

	conn := NewConn(ws, d.opts)
	if d.Handshake != "" {
		if err := conn.Send(ctx, Message{Type: Text, Data: []byte(d.Handshake)}); err != nil {
			conn.Close(CloseInternalError, "handshake failed")
			return nil, fmt.Errorf("failed to send handshake: %w", err)
		}
	}
	return conn, nil
}
