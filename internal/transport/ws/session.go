package ws

import (
	"context"
	"sync"
	"time"

	"voice-server-go/internal/platform/logging"
)

// SessionHandler drives one upgraded browser connection. Handle blocks for
// the life of the call; Close must make it return.
type SessionHandler interface {
	Handle()
	Close()
	GetSessionID() string
}

// Session owns one upgraded connection and the handler running on it.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger
	started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	closeOnce sync.Once
}

func NewSession(parent context.Context, handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      handler.GetSessionID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Session) ID() string { return s.id }

// Age is how long the session has been running.
func (s *Session) Age() time.Duration { return time.Since(s.started) }

// Idle is how long the browser has been silent; zero without a connection.
func (s *Session) Idle() time.Duration {
	if s.conn == nil {
		return 0
	}
	return s.conn.Idle()
}

// Run blocks in the handler, then closes the session and reports why it
// ended: nil when the handler returned on its own, otherwise the reason
// passed to Close.
func (s *Session) Run(onDone func(error)) {
	s.handler.Handle()
	cause := context.Cause(s.ctx)
	s.Close(nil)
	s.logger.DebugTag("CALL", "session %s ran for %s", s.id, s.Age().Round(time.Millisecond))
	if onDone != nil {
		onDone(cause)
	}
}

// Close stops the handler, waiting at most defaultCloseTimeout, and then
// closes the socket. Only the first call has any effect.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrSessionShutdown
		}
		s.cancel(reason)

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.handler.Close()
		}()
		select {
		case <-done:
		case <-time.After(defaultCloseTimeout):
			s.logger.WarnTag("CALL", "session %s handler did not stop within %s", s.id, defaultCloseTimeout)
		}

		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.WarnTag("CALL", "session %s close: %v", s.id, err)
			}
		}
	})
}
