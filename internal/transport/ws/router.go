package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voice-server-go/internal/platform/logging"
	"voice-server-go/internal/platform/observability"
)

// HandlerBuilder turns an upgraded browser connection into a call handler.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// Router upgrades /ws/call requests and hands each one to a Session.
type Router struct {
	hub      *Hub
	logger   *logging.Logger
	upgrader websocket.Upgrader
	deadline time.Duration

	mu      sync.RWMutex
	builder HandlerBuilder
}

func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	r := &Router{
		hub:      hub,
		logger:   logger,
		deadline: opts.HandshakeTimeout,
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
	}
	if r.deadline <= 0 {
		r.deadline = 10 * time.Second
	}
	if r.upgrader.CheckOrigin == nil {
		r.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return r
}

// SetHandlerBuilder installs the builder; until then upgrades get 503.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.mu.Lock()
	r.builder = builder
	r.mu.Unlock()
}

func (r *Router) currentBuilder() HandlerBuilder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builder
}

func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	build := r.currentBuilder()
	if build == nil {
		http.Error(w, "call handler not ready", http.StatusServiceUnavailable)
		return
	}
	if r.hub.Full() {
		r.logger.WarnTag("CALL", "refusing call from %s: %d calls live", req.RemoteAddr, r.hub.Count())
		http.Error(w, "too many live calls", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeoutCause(req.Context(), r.deadline, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	_, endSpan := observability.StartSpan(ctx, "transport.websocket", "upgrade")
	session, err := r.open(w, req, build)
	endSpan(err)
	if err != nil || session == nil {
		return
	}

	go session.Run(func(cause error) {
		r.hub.Unregister(session.ID())
		if cause != nil && !errors.Is(cause, ErrSessionShutdown) {
			r.logger.WarnTag("CALL", "call %s ended abnormally: %v", session.ID(), cause)
		}
		r.logger.InfoTag("CALL", "call %s finished after %s", session.ID(), session.Age().Round(time.Millisecond))
	})
}

// open upgrades the request and registers a session for it. A nil session
// with nil error means the upgrader already answered the client.
func (r *Router) open(w http.ResponseWriter, req *http.Request, build HandlerBuilder) (*Session, error) {
	raw, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.ErrorTag("CALL", "upgrade from %s failed: %v", req.RemoteAddr, err)
		return nil, err
	}

	clientID := clientIdentity(req)
	conn := NewConnection(clientID, raw)
	handler, err := build(conn, req)
	if err == nil && handler == nil {
		err = errors.New("builder returned no handler")
	}
	if err != nil {
		r.logger.ErrorTag("CALL", "call setup for %s failed: %v", clientID, err)
		_ = conn.CloseWithStatus(websocket.CloseInternalServerErr, "call unavailable")
		return nil, err
	}

	// detached from the handshake deadline
	session := NewSession(context.WithoutCancel(req.Context()), handler, conn, r.logger)
	if !r.hub.Register(session) {
		session.Close(ErrSessionShutdown)
		return nil, errors.New("call limit reached during setup")
	}
	r.logger.InfoTag("CALL", "call %s started client=%s remote=%s", session.ID(), clientID, req.RemoteAddr)
	return session, nil
}

func clientIdentity(req *http.Request) string {
	for _, v := range []string{req.Header.Get("Client-Id"), req.URL.Query().Get("client-id")} {
		if v != "" {
			return v
		}
	}
	return uuid.NewString()
}
