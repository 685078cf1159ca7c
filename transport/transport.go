// Package transport abstracts the full-duplex message connections the relay
// holds to plugins, admin dashboards and the recognition service.
//
// Conn is implemented over gorilla/websocket by Upgrade and Dial, and in
// memory by the mock subpackage. Errors returned by Receive and Send are
// classified into ErrPeerClosed, ErrProtocol, ErrTransport and ErrClosed so
// callers can route every failure to one teardown path while still logging
// the cause.
package transport

import "context"

// MessageType distinguishes binary payloads (audio) from text payloads
// (JSON control and event messages).
type MessageType int

const (
	Binary MessageType = iota + 1
	Text
)

func (t MessageType) String() string {
	switch t {
	case Binary:
		return "binary"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// Message is one complete frame received from or sent to a peer.
type Message struct {
	Type MessageType
	Data []byte
}

// Close codes sent to peers.
const (
	CloseNormal                = 1000
	CloseGoingAway             = 1001
	CloseInternalError         = 1011
	CloseUnknownUser           = 4001
	CloseRecognizerUnavailable = 4002
	CloseProtocolViolation     = 4003
)

// Conn is a message connection owned by exactly one session. Receive may run
// concurrently with Send; Send and SendJSON are safe for concurrent use. Close
// is idempotent and unblocks a pending Receive.
type Conn interface {
	// Receive blocks until the next message arrives or the connection fails.
	Receive(ctx context.Context) (Message, error)
	// Send writes one message. A context deadline bounds the write.
	Send(ctx context.Context, msg Message) error
	// SendJSON encodes v and writes it as a text message.
	SendJSON(ctx context.Context, v any) error
	// Close sends a close frame with code and reason, then releases the
	// connection.
	Close(code int, reason string) error
}
