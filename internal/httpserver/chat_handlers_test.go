package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobbridge/internal/domain"
	"jobbridge/internal/security"
	"jobbridge/internal/service"
)

type stubUserRepo struct{}

func (stubUserRepo) Create(ctx context.Context, u *domain.User) error { return nil }

func (stubUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Username: "user-" + id, IsActive: true}, nil
}

func (stubUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

func (stubUserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) { return nil, nil }

func (stubUserRepo) SetOnlineStatus(ctx context.Context, id string, isOnline bool) error {
	return nil
}

// stubMessageRepo pretends to hold total messages between any pair.
type stubMessageRepo struct {
	total int
}

func (s *stubMessageRepo) Create(ctx context.Context, m *domain.Message) error { return nil }

func (s *stubMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return nil, domain.ErrNotFound
}

func (s *stubMessageRepo) ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*domain.Message, error) {
	n := s.total - offset
	if n < 0 {
		n = 0
	}
	if n > limit {
		n = limit
	}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	res := make([]*domain.Message, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, &domain.Message{
			ID:         fmt.Sprintf("m%d", offset+i),
			SenderID:   userA,
			ReceiverID: userB,
			Content:    "plain",
			Kind:       domain.KindText,
			CreatedAt:  base.Add(-time.Duration(offset+i) * time.Minute),
		})
	}
	return res, nil
}

func (s *stubMessageRepo) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	return 0, nil
}

func (s *stubMessageRepo) SoftDelete(ctx context.Context, id, senderID string) error {
	return domain.ErrNotFound
}

func (s *stubMessageRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

type stubSessionRepo struct{}

func (stubSessionRepo) Touch(ctx context.Context, senderID, receiverID, messageID string, at time.Time) error {
	return nil
}

func (stubSessionRepo) ResetUnread(ctx context.Context, userID, otherID string) error { return nil }

func (stubSessionRepo) ListFor(ctx context.Context, userID string) ([]*domain.Session, error) {
	return nil, nil
}

func (stubSessionRepo) GetByParticipants(ctx context.Context, userA, userB string) (*domain.Session, error) {
	return nil, domain.ErrNotFound
}

func newHistoryService(t *testing.T, total int) *service.ChatService {
	t.Helper()
	enc, err := security.NewEncryptor([]byte("test-key"))
	require.NoError(t, err)
	return service.NewChatService(&stubMessageRepo{total: total}, stubSessionRepo{}, stubUserRepo{},
		enc, zap.NewNop().Sugar(), 100, 5000)
}

func getHistory(t *testing.T, chatSvc *service.ChatService, query string) map[string]any {
	t.Helper()
	target := "/api/chat/messages/u2"
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("otherUserID", "u2")
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = WithUser(ctx, &domain.User{ID: "u1", Username: "amara", IsActive: true})

	w := httptest.NewRecorder()
	handleGetHistory(chatSvc)(w, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHistoryHasMoreUsesServedPageSize(t *testing.T) {
	chatSvc := newHistoryService(t, 120)

	// an oversized limit is clamped to a full page, which means more remain
	body := getHistory(t, chatSvc, "limit=1000")
	assert.Len(t, body["messages"], 100)
	assert.Equal(t, true, body["has_more"])

	// the next page is short, so the listing is exhausted
	body = getHistory(t, chatSvc, "limit=1000&skip=100")
	assert.Len(t, body["messages"], 20)
	assert.Equal(t, false, body["has_more"])

	// absent and non-positive limits fall back to the default page size
	body = getHistory(t, chatSvc, "")
	assert.Len(t, body["messages"], 50)
	assert.Equal(t, true, body["has_more"])

	body = getHistory(t, chatSvc, "limit=-5")
	assert.Len(t, body["messages"], 50)
	assert.Equal(t, true, body["has_more"])
}
