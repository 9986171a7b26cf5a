package ws_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobbridge/internal/domain"
	"jobbridge/internal/security"
	"jobbridge/internal/service"
	"jobbridge/internal/ws"
)

const testOrigin = "http://localhost:3000"

// ── in-memory repositories ───────────────────────────────────────────────────

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo(users ...*domain.User) *memUserRepo {
	r := &memUserRepo{users: make(map[string]*domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.User
	for _, u := range r.users {
		if u.IsOnline && u.IsActive {
			cp := *u
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *memUserRepo) SetOnlineStatus(ctx context.Context, id string, isOnline bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.IsOnline = isOnline
	}
	return nil
}

func (r *memUserRepo) isOnline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	return ok && u.IsOnline
}

type memMessageRepo struct {
	mu   sync.Mutex
	msgs []*domain.Message
	seq  int
}

func (r *memMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m.ID = fmt.Sprintf("m%d", r.seq)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *memMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memMessageRepo) ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Message
	// msgs is in insertion order; walk backwards for newest first
	for i := len(r.msgs) - 1; i >= 0; i-- {
		m := r.msgs[i]
		if m.IsDeleted {
			continue
		}
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			cp := *m
			res = append(res, &cp)
		}
	}
	if offset >= len(res) {
		return nil, nil
	}
	res = res[offset:]
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *memMessageRepo) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, m := range r.msgs {
		if m.SenderID == otherID && m.ReceiverID == readerID && m.ReadAt == nil && !m.IsDeleted {
			at := now
			m.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (r *memMessageRepo) SoftDelete(ctx context.Context, id, senderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ID == id && m.SenderID == senderID && !m.IsDeleted {
			m.IsDeleted = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memMessageRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.ReceiverID == userID && m.ReadAt == nil && !m.IsDeleted {
			n++
		}
	}
	return n, nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Touch(ctx context.Context, senderID, receiverID, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lo, hi := domain.PairKey(senderID, receiverID)
	key := lo + "|" + hi
	s, ok := r.sessions[key]
	if !ok {
		s = &domain.Session{
			ID:           key,
			Participants: [2]string{lo, hi},
			UnreadCounts: map[string]int{lo: 0, hi: 0},
		}
		r.sessions[key] = s
	}
	id := messageID
	s.LastMessageID = &id
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	s.UnreadCounts[receiverID]++
	return nil
}

func (r *memSessionRepo) ResetUnread(ctx context.Context, userID, otherID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lo, hi := domain.PairKey(userID, otherID)
	if s, ok := r.sessions[lo+"|"+hi]; ok {
		s.UnreadCounts[userID] = 0
	}
	return nil
}

func (r *memSessionRepo) ListFor(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Session
	for _, s := range r.sessions {
		if s.Participants[0] == userID || s.Participants[1] == userID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LastActivity.After(res[j].LastActivity) })
	return res, nil
}

func (r *memSessionRepo) GetByParticipants(ctx context.Context, userA, userB string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lo, hi := domain.PairKey(userA, userB)
	if s, ok := r.sessions[lo+"|"+hi]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

// ── test fixture ─────────────────────────────────────────────────────────────

type gatewayFixture struct {
	srv     *httptest.Server
	hub     *ws.Hub
	tokens  *security.TokenService
	users   *memUserRepo
	chatSvc *service.ChatService
}

func newGatewayFixture(t *testing.T, connLimit int) *gatewayFixture {
	t.Helper()

	users := newMemUserRepo(
		&domain.User{ID: "u1", Username: "amara", IsActive: true},
		&domain.User{ID: "u2", Username: "bruno", IsActive: true},
	)
	messages := &memMessageRepo{}
	sessions := newMemSessionRepo()

	encryptor, err := security.NewEncryptor([]byte("test-key"))
	require.NoError(t, err)
	logger := zap.NewNop().Sugar()
	chatSvc := service.NewChatService(messages, sessions, users, encryptor, logger, 100, 5000)
	tokens := security.NewTokenService("test-secret", time.Hour)
	hub := ws.NewHub(connLimit, logger)

	r := chi.NewRouter()
	r.Get("/ws/chat/{userID}", ws.MakeHandler(hub, tokens, users, chatSvc, logger, []string{testOrigin}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &gatewayFixture{srv: srv, hub: hub, tokens: tokens, users: users, chatSvc: chatSvc}
}

func (f *gatewayFixture) wsURL(userID string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/chat/" + userID
}

func (f *gatewayFixture) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	conn, resp, err := f.dialRaw(userID, username)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *gatewayFixture) dialRaw(userID, username string) (*websocket.Conn, *http.Response, error) {
	token, err := f.tokens.CreateForUser(username)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer "+token)
	return websocket.DefaultDialer.Dial(f.wsURL(userID), header)
}

// waitOnline blocks until every id is registered with the hub: the handshake
// completes client-side before the server registers the connection.
func waitOnline(t *testing.T, f *gatewayFixture, ids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !f.hub.IsOnline(id) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env map[string]any
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestChatMessageDeliveredToBothParties(t *testing.T) {
	f := newGatewayFixture(t, 0)

	sender := f.dial(t, "u1", "amara")
	receiver := f.dial(t, "u2", "bruno")
	waitOnline(t, f, "u1", "u2")

	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":        "chat_message",
		"receiver_id": "u2",
		"content":     "hola",
	}))

	got := readEnvelope(t, receiver)
	assert.Equal(t, "chat_message", got["type"])
	assert.Equal(t, "u1", got["sender_id"])
	assert.Equal(t, "hola", got["content"])
	assert.Equal(t, "amara", got["sender_name"])
	assert.Equal(t, "text", got["message_type"])
	assert.Equal(t, false, got["is_read"])

	echo := readEnvelope(t, sender)
	assert.Equal(t, "chat_message", echo["type"])
	assert.Equal(t, got["id"], echo["id"])

	n, err := f.chatSvc.UnreadTotal(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOfflineReceiverCatchesUpViaHistory(t *testing.T) {
	f := newGatewayFixture(t, 0)

	sender := f.dial(t, "u1", "amara")

	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":        "chat_message",
		"receiver_id": "u2",
		"content":     "see you at the workshop",
	}))
	echo := readEnvelope(t, sender)
	assert.Equal(t, "chat_message", echo["type"])

	history, err := f.chatSvc.History(context.Background(), "u2", "u1", 50, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "see you at the workshop", history[0].Content)
	assert.False(t, history[0].IsRead)
}

func TestTypingForwardedToReceiverOnly(t *testing.T) {
	f := newGatewayFixture(t, 0)

	sender := f.dial(t, "u1", "amara")
	receiver := f.dial(t, "u2", "bruno")
	waitOnline(t, f, "u1", "u2")

	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":        "typing",
		"receiver_id": "u2",
		"is_typing":   true,
	}))

	got := readEnvelope(t, receiver)
	assert.Equal(t, "typing_indicator", got["type"])
	assert.Equal(t, "u1", got["sender_id"])
	assert.Equal(t, true, got["is_typing"])

	// nothing persisted and nothing echoed: the next sender read times out
	require.NoError(t, sender.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var env map[string]any
	assert.Error(t, sender.ReadJSON(&env))
}

func TestMarkReadNotifiesOriginalSender(t *testing.T) {
	f := newGatewayFixture(t, 0)

	sender := f.dial(t, "u1", "amara")
	receiver := f.dial(t, "u2", "bruno")
	waitOnline(t, f, "u1", "u2")

	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":        "chat_message",
		"receiver_id": "u2",
		"content":     "hola",
	}))
	readEnvelope(t, receiver) // the message itself
	readEnvelope(t, sender)   // the echo

	require.NoError(t, receiver.WriteJSON(map[string]any{
		"type":          "mark_read",
		"other_user_id": "u1",
	}))

	got := readEnvelope(t, sender)
	assert.Equal(t, "messages_read", got["type"])
	assert.Equal(t, "u2", got["reader_id"])
}

func TestHeartbeatAcknowledged(t *testing.T) {
	f := newGatewayFixture(t, 0)

	conn := f.dial(t, "u1", "amara")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "heartbeat"}))

	got := readEnvelope(t, conn)
	assert.Equal(t, "heartbeat_ack", got["type"])
}

func TestAuthRejectedBeforeUpgrade(t *testing.T) {
	f := newGatewayFixture(t, 0)

	t.Run("TokenUserMismatch", func(t *testing.T) {
		conn, resp, err := f.dialRaw("u2", "amara")
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("MissingToken", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", testOrigin)
		conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL("u1"), header)
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("BadOrigin", func(t *testing.T) {
		token, err := f.tokens.CreateForUser("amara")
		require.NoError(t, err)
		header := http.Header{}
		header.Set("Origin", "http://evil.example")
		header.Set("Authorization", "Bearer "+token)
		conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL("u1"), header)
		require.Error(t, err)
		require.Nil(t, conn)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestCapacityRefusedWithCloseCode(t *testing.T) {
	f := newGatewayFixture(t, 1)

	f.dial(t, "u1", "amara")
	require.Eventually(t, func() bool { return f.hub.IsOnline("u1") },
		2*time.Second, 10*time.Millisecond)

	// the second user upgrades fine, then gets the capacity close
	second := f.dial(t, "u2", "bruno")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, ws.CloseCapacity), "expected close code %d, got %v", ws.CloseCapacity, err)
	assert.False(t, f.hub.IsOnline("u2"))
}

func TestConcurrentWritesToOneConnection(t *testing.T) {
	f := newGatewayFixture(t, 0)

	conn := f.dial(t, "u1", "amara")
	waitOnline(t, f, "u1")

	// gorilla permits one writer per connection; pushes from many
	// goroutines and the read loop's own acks must share the serialization
	const writers, perWriter, heartbeats = 8, 10, 10
	payload := map[string]any{"type": "bulk", "data": strings.Repeat("x", 16*1024)}

	done := make(chan error, 1)
	go func() {
		for i := 0; i < writers*perWriter+heartbeats; i++ {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var env map[string]any
			if err := conn.ReadJSON(&env); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				assert.True(t, f.hub.Send("u1", payload))
			}
		}()
	}
	for i := 0; i < heartbeats; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "heartbeat"}))
	}
	wg.Wait()

	require.NoError(t, <-done)
	assert.True(t, f.hub.IsOnline("u1"))
}

func TestOnlineStatusTracksConnection(t *testing.T) {
	f := newGatewayFixture(t, 0)

	conn := f.dial(t, "u1", "amara")

	require.Eventually(t, func() bool { return f.users.isOnline("u1") },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, f.hub.IsOnline("u1"))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return !f.users.isOnline("u1") },
		2*time.Second, 10*time.Millisecond)
	assert.False(t, f.hub.IsOnline("u1"))
}
