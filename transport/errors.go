package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// Failure classes for Receive and Send.
var (
	ErrPeerClosed = errors.New("peer closed connection")
	ErrProtocol   = errors.New("protocol error")
	ErrTransport  = errors.New("transport error")
	ErrClosed     = errors.New("connection closed")
)

// Classify wraps err with its failure class. Errors already carrying a class
// are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrPeerClosed),
		errors.Is(err, ErrProtocol),
		errors.Is(err, ErrTransport),
		errors.Is(err, ErrClosed):
		return err
	case errors.Is(err, net.ErrClosed), errors.Is(err, websocket.ErrCloseSent):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseProtocolError,
			websocket.CloseUnsupportedData,
			websocket.CloseInvalidFramePayloadData,
			websocket.ClosePolicyViolation,
			websocket.CloseMessageTooBig:
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		default:
			return fmt.Errorf("%w: %v", ErrPeerClosed, err)
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Cause names the failure class of err for logs and events.
func Cause(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
