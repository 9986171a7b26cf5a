package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobbridge/internal/domain"
	"jobbridge/internal/security"
)

const defaultHistoryLimit = 50

// ChatService implements the message store and session index operations on
// top of the repositories. All content passes through the encryptor before it
// reaches a repo and is decrypted again when building responses.
type ChatService struct {
	messages  domain.MessageRepository
	sessions  domain.SessionRepository
	users     domain.UserRepository
	encryptor *security.Encryptor
	logger    *zap.SugaredLogger

	HistoryMaxLimit int
	MaxContentRunes int
}

func NewChatService(
	messages domain.MessageRepository,
	sessions domain.SessionRepository,
	users domain.UserRepository,
	encryptor *security.Encryptor,
	logger *zap.SugaredLogger,
	historyMaxLimit int,
	maxContentRunes int,
) *ChatService {
	if historyMaxLimit <= 0 {
		historyMaxLimit = 100
	}
	if maxContentRunes <= 0 {
		maxContentRunes = 5000
	}
	return &ChatService{
		messages:        messages,
		sessions:        sessions,
		users:           users,
		encryptor:       encryptor,
		logger:          logger,
		HistoryMaxLimit: historyMaxLimit,
		MaxContentRunes: maxContentRunes,
	}
}

// SendMessage validates, persists and rolls up a new direct message. The
// message is durable once this returns; pushing it to live connections is the
// caller's concern. A failed rollup does not fail the send: the session row
// goes stale until the next successful touch.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID, content, kind string) (*domain.Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("sender and receiver are required: %w", domain.ErrInvalidInput)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("cannot send a message to yourself: %w", domain.ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrInvalidInput)
	}
	if len([]rune(content)) > s.MaxContentRunes {
		return nil, fmt.Errorf("message content exceeds %d characters: %w", s.MaxContentRunes, domain.ErrInvalidInput)
	}
	if kind == "" {
		kind = domain.KindText
	}
	if !domain.ValidKind(kind) {
		return nil, fmt.Errorf("unknown message kind %q: %w", kind, domain.ErrInvalidInput)
	}

	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("get receiver: %w", err)
	}
	if !receiver.IsActive {
		return nil, fmt.Errorf("get receiver: %w", domain.ErrNotFound)
	}

	encrypted, err := s.encryptor.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    encrypted,
		Kind:       kind,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.sessions.Touch(ctx, senderID, receiverID, msg.ID, msg.CreatedAt); err != nil {
		// Message is already durable; the rollup reconciles on the next send.
		s.logger.Warnw("session rollup stale after send",
			"message_id", msg.ID, "sender_id", senderID, "receiver_id", receiverID, "error", err)
	}

	return msg, nil
}

// History returns the requested page of non-deleted messages between the two
// users in chronological order.
func (s *ChatService) History(ctx context.Context, userID, otherID string, limit, offset int) ([]*MessageResponse, error) {
	if otherID == "" || otherID == userID {
		return nil, fmt.Errorf("invalid chat partner: %w", domain.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > s.HistoryMaxLimit {
		limit = s.HistoryMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.messages.ListBetween(ctx, userID, otherID, limit, offset)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order (repo returns newest first).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return s.ToResponses(ctx, msgs)
}

// MarkRead stamps all unread messages from otherID to readerID and zeroes the
// reader's unread counter for the pair. Returns how many messages changed;
// calling it again right away returns 0.
func (s *ChatService) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	if otherID == "" || otherID == readerID {
		return 0, fmt.Errorf("invalid chat partner: %w", domain.ErrInvalidInput)
	}
	n, err := s.messages.MarkRead(ctx, readerID, otherID)
	if err != nil {
		return 0, err
	}
	if err := s.sessions.ResetUnread(ctx, readerID, otherID); err != nil {
		// Counter reconciles on the next mark-read; the messages themselves
		// are already stamped.
		s.logger.Warnw("unread counter stale after mark-read",
			"reader_id", readerID, "other_id", otherID, "error", err)
	}
	return n, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete; anyone
// else (or a missing id) gets domain.ErrNotFound.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	if messageID == "" {
		return fmt.Errorf("message id is required: %w", domain.ErrInvalidInput)
	}
	return s.messages.SoftDelete(ctx, messageID, requesterID)
}

// UnreadTotal counts all unread, non-deleted messages addressed to userID
// across every conversation.
func (s *ChatService) UnreadTotal(ctx context.Context, userID string) (int, error) {
	return s.messages.UnreadCount(ctx, userID)
}

// Sessions returns the user's inbox: one entry per chat partner, most recent
// activity first.
func (s *ChatService) Sessions(ctx context.Context, userID string) ([]*SessionResponse, error) {
	sessions, err := s.sessions.ListFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]*SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		otherID := sess.Other(userID)
		otherName := "Unknown"
		if u, err := s.users.GetByID(ctx, otherID); err == nil {
			otherName = u.Username
		}

		var last *MessageResponse
		if sess.LastMessageID != nil {
			if m, err := s.messages.GetByID(ctx, *sess.LastMessageID); err == nil {
				last, _ = s.ToResponse(ctx, m)
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("get last message: %w", err)
			}
		}

		res = append(res, &SessionResponse{
			ID:           sess.ID,
			Participants: sess.Participants[:],
			OtherUserID:  otherID,
			OtherName:    otherName,
			LastMessage:  last,
			UnreadCount:  sess.UnreadCounts[userID],
			LastActivity: sess.LastActivity,
		})
	}
	return res, nil
}

// MessageResponse mirrors the API shape expected by the frontend.
type MessageResponse struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Kind       string    `json:"message_type"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
	IsDeleted  bool      `json:"is_deleted"`
}

// SessionResponse is one inbox entry.
type SessionResponse struct {
	ID           string           `json:"id"`
	Participants []string         `json:"participants"`
	OtherUserID  string           `json:"other_user_id"`
	OtherName    string           `json:"other_name"`
	LastMessage  *MessageResponse `json:"last_message"`
	UnreadCount  int              `json:"unread_count"`
	LastActivity time.Time        `json:"last_activity"`
}

// ToResponse converts a domain message into a decrypted response DTO.
func (s *ChatService) ToResponse(ctx context.Context, m *domain.Message) (*MessageResponse, error) {
	content := m.Content
	if !m.IsDeleted {
		if dec, err := s.encryptor.Decrypt(m.Content); err == nil {
			content = dec
		}
		// on decrypt error fall back to the stored form rather than dropping
		// the message from the view
	}
	var senderName string
	if u, err := s.users.GetByID(ctx, m.SenderID); err == nil {
		senderName = u.Username
	}
	return &MessageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		SenderName: senderName,
		Content:    content,
		Kind:       m.Kind,
		CreatedAt:  m.CreatedAt,
		IsRead:     m.IsRead(),
		IsDeleted:  m.IsDeleted,
	}, nil
}

// ToResponses converts a slice of domain messages into response DTOs.
func (s *ChatService) ToResponses(ctx context.Context, msgs []*domain.Message) ([]*MessageResponse, error) {
	res := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		dto, err := s.ToResponse(ctx, m)
		if err != nil {
			return nil, err
		}
		res = append(res, dto)
	}
	return res, nil
}
