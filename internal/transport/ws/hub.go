package ws

import (
	"context"
	"sync"
	"time"

	"voice-server-go/internal/platform/logging"
)

// Hub tracks live browser calls and enforces the concurrent call limit.
type Hub struct {
	logger *logging.Logger
	limit  int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub allows at most limit concurrent sessions; 0 means no limit.
func NewHub(logger *logging.Logger, limit int) *Hub {
	return &Hub{logger: logger, limit: limit, sessions: make(map[string]*Session)}
}

// Full reports whether a new call would be refused.
func (h *Hub) Full() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.limit > 0 && len(h.sessions) >= h.limit
}

// Register adds session unless the hub is full.
func (h *Hub) Register(session *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && len(h.sessions) >= h.limit {
		return false
	}
	h.sessions[session.ID()] = session
	return true
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// CloseAll ends every live call with reason and empties the hub.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	h.mu.Lock()
	live := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		live = append(live, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.Close(reason)
	}
	if len(live) > 0 {
		h.logger.InfoTag("CALL", "closed %d browser calls: %v", len(live), reason)
	}
}

// Count is the number of live sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Reap closes every call whose browser has sent nothing for longer than
// idle and returns how many it closed.
func (h *Hub) Reap(idle time.Duration) int {
	h.mu.Lock()
	var stale []*Session
	for id, s := range h.sessions {
		if s.Idle() > idle {
			stale = append(stale, s)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, s := range stale {
		h.logger.WarnTag("CALL", "closing call %s: browser idle for %s", s.ID(), s.Idle().Round(time.Second))
		s.Close(ErrSessionIdle)
	}
	return len(stale)
}

// Watch reaps idle calls until ctx is done. A non-positive idle disables it.
func (h *Hub) Watch(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(max(idle/2, 100*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Reap(idle)
		}
	}
}
