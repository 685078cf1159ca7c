// Package mock provides an in-memory transport.Conn for tests.
//
// A Conn plays both ends: the test pushes what the remote peer "sends" with
// Push/PushText/PushBinary, simulates the peer going away with Hangup, and
// inspects what the code under test sent with Sent or Next.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/transport"
)

type Conn struct {
	inbound chan transport.Message
	sent    chan transport.Message
	hangup  chan struct{}
	closed  chan struct{}

	mu          sync.Mutex
	history     []transport.Message
	sendErr     error
	sendDelay   time.Duration
	closeCode   int
	closeReason string
	closeCount  int

	hangupOnce sync.Once
	closeOnce  sync.Once
}

// NewConn creates an open Conn.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan transport.Message, 64),
		sent:    make(chan transport.Message, 64),
		hangup:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Push queues a message as if the peer had sent it.
func (c *Conn) Push(msg transport.Message) {
	c.inbound <- msg
}

func (c *Conn) PushText(s string) {
	c.Push(transport.Message{Type: transport.Text, Data: []byte(s)})
}

func (c *Conn) PushBinary(b []byte) {
	c.Push(transport.Message{Type: transport.Binary, Data: b})
}

// Hangup simulates the peer closing. Messages already pushed are still
// delivered before Receive reports ErrPeerClosed.
func (c *Conn) Hangup() {
	c.hangupOnce.Do(func() { close(c.hangup) })
}

// FailSends makes every subsequent Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// DelaySends makes every subsequent Send block for d or until its context
// ends, whichever is first.
func (c *Conn) DelaySends(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendDelay = d
}

func (c *Conn) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case <-c.closed:
		return transport.Message{}, transport.ErrClosed
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return transport.Message{}, transport.ErrClosed
	case <-c.hangup:
		select {
		case msg := <-c.inbound:
			return msg, nil
		default:
		}
		return transport.Message{}, fmt.Errorf("%w: mock hangup", transport.ErrPeerClosed)
	case <-ctx.Done():
		return transport.Message{}, fmt.Errorf("%w: %v", transport.ErrClosed, ctx.Err())
	}
}

func (c *Conn) Send(ctx context.Context, msg transport.Message) error {
	c.mu.Lock()
	sendErr, delay := c.sendErr, c.sendDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", transport.ErrTransport, ctx.Err())
		}
	}

	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	if sendErr != nil {
		return sendErr
	}

	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()

	select {
	case c.sent <- msg:
	default:
	}
	return nil
}

func (c *Conn) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(ctx, transport.Message{Type: transport.Text, Data: data})
}

func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Sent returns every message sent so far, in order.
func (c *Conn) Sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Message(nil), c.history...)
}

// Next waits up to timeout for the next sent message.
func (c *Conn) Next(timeout time.Duration) (transport.Message, error) {
	select {
	case msg := <-c.sent:
		return msg, nil
	case <-time.After(timeout):
		return transport.Message{}, errors.New("mock: timed out waiting for sent message")
	}
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// CloseCode returns the code passed to the first Close call.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Dialer hands out pre-built connections in order and counts dial attempts.
type Dialer struct {
	mu    sync.Mutex
	conns []*Conn
	err   error
	dials int
}

// NewDialer creates a Dialer that returns conns, one per Dial.
func NewDialer(conns ...*Conn) *Dialer {
	return &Dialer{conns: conns}
}

// FailingDialer creates a Dialer whose every Dial returns err.
func FailingDialer(err error) *Dialer {
	return &Dialer{err: err}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("mock: no connections left")
	}

	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

// Dials returns the number of Dial calls made.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
