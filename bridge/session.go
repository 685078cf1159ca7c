package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/relay/broadcast"
	"github.com/tailored-agentic-units/relay/keyword"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/transport"
	"github.com/tailored-agentic-units/relay/trigger"
)

var errShutdown = errors.New("relay shutting down")

type session struct {
	id       string
	userID   int64
	started  time.Time
	plugin   transport.Conn
	upstream transport.Conn
	index    *keyword.Index
	state    atomic.Int32

	// emitMu orders transcript handling against terminate: events are
	// emitted under the read lock while Active, and the move to Closing
	// takes the write lock.
	emitMu     sync.RWMutex
	cancelEmit context.CancelFunc

	closeOnce sync.Once
	cause     error

	frames      atomic.Int64
	transcripts atomic.Int64
	triggers    atomic.Int64
}

func newSession(userID int64, plugin transport.Conn, started time.Time) *session {
	return &session{
		id:      uuid.Must(uuid.NewV7()).String(),
		userID:  userID,
		started: started,
		plugin:  plugin,
	}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// terminate records the first terminal cause and closes both connections.
// Later calls are no-ops.
func (s *session) terminate(cause error) {
	s.closeOnce.Do(func() {
		if s.cancelEmit != nil {
			s.cancelEmit()
		}
		s.emitMu.Lock()
		s.cause = cause
		s.setState(StateClosing)
		s.emitMu.Unlock()

		code, reason := closeCode(cause)
		s.plugin.Close(code, reason)
		s.upstream.Close(transport.CloseNormal, "session closed")
	})
}

// fail terminates the session with err and hands err back to the errgroup.
func (s *session) fail(err error) error {
	s.terminate(err)
	return err
}

// closeCode picks the close frame sent to the plugin for a terminal cause.
func closeCode(cause error) (int, string) {
	switch {
	case errors.Is(cause, errShutdown):
		return transport.CloseGoingAway, "server shutting down"
	case errors.Is(cause, transport.ErrProtocol):
		return transport.CloseProtocolViolation, "protocol violation"
	}

	var se *SessionError
	if errors.As(cause, &se) && se.Side == SideRecognizer {
		return transport.CloseRecognizerUnavailable, "recognizer disconnected"
	}

	if errors.Is(cause, transport.ErrPeerClosed) || errors.Is(cause, transport.ErrClosed) {
		return transport.CloseNormal, ""
	}
	return transport.CloseInternalError, "transport error"
}

// Serve runs one plugin session on an accepted connection and blocks until
// it is closed. Both connections are closed and the registry entry removed on
// every return path.
//
// Serve returns ErrUnknownUser, ErrUserLookup, ErrRulesUnavailable or
// ErrRecognizerUnavailable when the session never became active, a
// *SessionError describing the failure that ended an active session, or nil
// when ctx was cancelled.
func (b *Bridge) Serve(ctx context.Context, userID int64, plugin transport.Conn) error {
	s := newSession(userID, plugin, b.now())

	exists, err := b.deps.Users.UserExists(ctx, userID)
	if err != nil {
		return b.reject(ctx, s, transport.CloseInternalError, "user lookup failed",
			fmt.Errorf("%w: %v", ErrUserLookup, err))
	}
	if !exists {
		return b.reject(ctx, s, transport.CloseUnknownUser, "unknown user", ErrUnknownUser)
	}

	b.deps.Registry.RegisterPlugin(userID, plugin)
	defer b.deps.Registry.UnregisterPlugin(userID, plugin)

	rules, err := b.deps.Rules.LoadKeywordRules(ctx, userID)
	if err != nil {
		return b.reject(ctx, s, transport.CloseInternalError, "keyword rules unavailable",
			fmt.Errorf("%w: %v", ErrRulesUnavailable, err))
	}
	s.index = keyword.Build(rules)

	upstream, err := b.deps.Dialer.Dial(ctx)
	if err != nil {
		return b.reject(ctx, s, transport.CloseRecognizerUnavailable, "recognizer unavailable",
			fmt.Errorf("%w: %v", ErrRecognizerUnavailable, err))
	}
	s.upstream = upstream
	s.setState(StateActive)

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventSessionOpen,
		Level:     observability.LevelInfo,
		Timestamp: b.now(),
		Source:    "bridge.Serve",
		UserID:    userID,
		SessionID: s.id,
		Data:      map[string]any{"keywords": s.index.Len()},
	})

	return b.run(ctx, s)
}

func (b *Bridge) reject(ctx context.Context, s *session, code int, reason string, err error) error {
	s.setState(StateClosed)
	s.plugin.Close(code, reason)

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventSessionRejected,
		Level:     observability.LevelWarning,
		Timestamp: b.now(),
		Source:    "bridge.Serve",
		UserID:    s.userID,
		SessionID: s.id,
		Data: map[string]any{
			"close_code": code,
			"error":      err.Error(),
		},
	})
	return err
}

func (b *Bridge) run(ctx context.Context, s *session) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, s.cancelEmit = context.WithCancel(gctx)
	defer s.cancelEmit()

	stop := context.AfterFunc(ctx, func() { s.terminate(errShutdown) })
	defer stop()

	// A loop that fails because ctx ended reports the shutdown, not the
	// connection error it observed.
	finish := func(err error) error {
		if ctx.Err() != nil {
			err = errShutdown
		}
		return s.fail(err)
	}

	g.Go(func() error { return finish(b.forwardAudio(gctx, s)) })
	g.Go(func() error { return finish(b.relayTranscripts(gctx, s)) })
	g.Wait()

	s.setState(StateClosed)
	cause := s.cause

	level := observability.LevelInfo
	data := map[string]any{
		"cause":       transport.Cause(cause),
		"duration_ms": b.now().Sub(s.started).Milliseconds(),
		"frames":      s.frames.Load(),
		"transcripts": s.transcripts.Load(),
		"triggers":    s.triggers.Load(),
	}
	var se *SessionError
	if errors.As(cause, &se) {
		data["side"] = string(se.Side)
		if errors.Is(cause, transport.ErrProtocol) || errors.Is(cause, transport.ErrTransport) {
			level = observability.LevelWarning
			data["error"] = cause.Error()
		}
	}
	if errors.Is(cause, errShutdown) {
		data["cause"] = "shutdown"
	}

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventSessionClose,
		Level:     level,
		Timestamp: b.now(),
		Source:    "bridge.Serve",
		UserID:    s.userID,
		SessionID: s.id,
		Data:      data,
	})

	if errors.Is(cause, errShutdown) {
		return nil
	}
	return cause
}

// forwardAudio relays plugin frames upstream in receive order.
func (b *Bridge) forwardAudio(ctx context.Context, s *session) error {
	for {
		msg, err := s.plugin.Receive(ctx)
		if err != nil {
			return &SessionError{Side: SidePlugin, Err: transport.Classify(err)}
		}
		if msg.Type != transport.Binary {
			return &SessionError{
				Side: SidePlugin,
				Err:  fmt.Errorf("%w: unexpected %s frame from plugin", transport.ErrProtocol, msg.Type),
			}
		}

		if err := s.upstream.Send(ctx, msg); err != nil {
			return &SessionError{Side: SideRecognizer, Err: transport.Classify(err)}
		}
		s.frames.Add(1)
	}
}

// relayTranscripts handles recognizer messages in arrival order. Only the
// "text" field is read; other fields are ignored.
func (b *Bridge) relayTranscripts(ctx context.Context, s *session) error {
	for {
		msg, err := s.upstream.Receive(ctx)
		if err != nil {
			return &SessionError{Side: SideRecognizer, Err: transport.Classify(err)}
		}
		if !gjson.ValidBytes(msg.Data) {
			return &SessionError{
				Side: SideRecognizer,
				Err:  fmt.Errorf("%w: recognizer message is not JSON", transport.ErrProtocol),
			}
		}

		text := gjson.GetBytes(msg.Data, "text").String()
		if text == "" {
			continue
		}

		if err := b.handleTranscript(ctx, s, text); err != nil {
			return err
		}
	}
}

func (b *Bridge) handleTranscript(ctx context.Context, s *session, text string) error {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()

	if s.State() != StateActive {
		return nil
	}

	now := b.now()
	s.transcripts.Add(1)
	b.deps.Broadcaster.Broadcast(ctx, s.userID, broadcast.Recognized(text, now))
	if ctx.Err() != nil {
		return nil
	}

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventRecognized,
		Level:     observability.LevelVerbose,
		Timestamp: now,
		Source:    "bridge.relayTranscripts",
		UserID:    s.userID,
		SessionID: s.id,
		Data:      map[string]any{"text": text},
	})

	ev, ok := trigger.EvaluateAt(text, s.index, now)
	if !ok {
		return nil
	}

	if err := s.plugin.SendJSON(ctx, ev.Command()); err != nil {
		return &SessionError{Side: SidePlugin, Err: transport.Classify(err)}
	}
	s.triggers.Add(1)

	b.deps.Broadcaster.Broadcast(ctx, s.userID, broadcast.NewLogEvent(broadcast.SeveritySuccess, ev.Message(), now))
	b.deps.Journal.Record(s.userID, ev)

	b.observer.OnEvent(ctx, observability.Event{
		Type:      EventTrigger,
		Level:     observability.LevelInfo,
		Timestamp: now,
		Source:    "bridge.relayTranscripts",
		UserID:    s.userID,
		SessionID: s.id,
		Data: map[string]any{
			"keyword": ev.Keyword,
			"target":  ev.Target,
		},
	})
	return nil
}
