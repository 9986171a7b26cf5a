package ws

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRegistryFull is returned by Register when the connection ceiling is hit.
var ErrRegistryFull = errors.New("connection registry at capacity")

// Channel is the outbound side of a live client connection. A
// *websocket.Conn satisfies it.
type Channel interface {
	WriteJSON(v any) error
	Close() error
}

type connection struct {
	ch            Channel
	lastHeartbeat time.Time
}

// ConnInfo is a point-in-time snapshot of one registered connection.
type ConnInfo struct {
	UserID        string
	LastHeartbeat time.Time
}

// Hub is the process-local connection registry: at most one live channel per
// user id. It is rebuilt empty on process restart; presence is only valid
// within this instance.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	limit  int // 0 = unbounded
	nowFn  func() time.Time
	logger *zap.SugaredLogger
}

func NewHub(limit int, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		conns:  make(map[string]*connection),
		limit:  limit,
		nowFn:  time.Now,
		logger: logger,
	}
}

// Register adds a connection for the given user. A second register for the
// same user supersedes (and closes) the previous channel without counting
// against the ceiling; a genuinely new user is refused with ErrRegistryFull
// when the registry is at capacity, and no existing connection is evicted.
func (h *Hub) Register(userID string, ch Channel) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.conns[userID]; ok {
		_ = old.ch.Close()
	} else if h.limit > 0 && len(h.conns) >= h.limit {
		return ErrRegistryFull
	}
	h.conns[userID] = &connection{ch: ch, lastHeartbeat: h.nowFn()}
	return nil
}

// Unregister removes and closes the user's connection. Idempotent.
func (h *Hub) Unregister(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[userID]; ok {
		_ = c.ch.Close()
		delete(h.conns, userID)
	}
}

// Release removes the user's connection only if it still is ch. A handler
// whose channel was superseded by a reconnect must not tear down its
// successor's registration.
func (h *Hub) Release(userID string, ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[userID]; ok && c.ch == ch {
		_ = c.ch.Close()
		delete(h.conns, userID)
	}
}

// Send writes the payload to the user's live channel, if any. Fire and
// forget: a write failure unregisters the connection and returns false, and
// offline users are simply skipped (they catch up via the history query on
// reconnect).
func (h *Hub) Send(userID string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := c.ch.WriteJSON(payload); err != nil {
		h.logger.Debugw("ws write failed, dropping connection", "user_id", userID, "error", err)
		h.Release(userID, c.ch)
		return false
	}
	return true
}

// Heartbeat records a client-acknowledged liveness signal. Returns false if
// the user has no registered connection.
func (h *Hub) Heartbeat(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[userID]
	if !ok {
		return false
	}
	c.lastHeartbeat = h.nowFn()
	return true
}

// IsOnline reports whether the user has a registered connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.conns[userID]
	return ok
}

// OnlineUsers returns the ids of all currently registered users.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// Connections snapshots the registry for the liveness sweep.
func (h *Hub) Connections() []ConnInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	res := make([]ConnInfo, 0, len(h.conns))
	for id, c := range h.conns {
		res = append(res, ConnInfo{UserID: id, LastHeartbeat: c.lastHeartbeat})
	}
	return res
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}
