package ws

import "jobbridge/internal/service"

// Inbound event types.
const (
	EventChatMessage = "chat_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
	EventHeartbeat   = "heartbeat"
)

// Outbound event types.
const (
	EventTypingIndicator = "typing_indicator"
	EventMessagesRead    = "messages_read"
	EventHeartbeatAck    = "heartbeat_ack"
	EventPing            = "ping"
	EventError           = "error"
)

// CloseCapacity is the close code sent when the registry is full; clients are
// expected to retry with backoff rather than re-authenticate.
const CloseCapacity = 4029

// inboundEvent is the closed set of fields a client may send. Unknown types
// fall through to the dispatch default and are ignored.
type inboundEvent struct {
	Type        string `json:"type"`
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	IsTyping    bool   `json:"is_typing"`
	OtherUserID string `json:"other_user_id"`
}

func chatMessageEnvelope(m *service.MessageResponse) map[string]any {
	return map[string]any{
		"type":         EventChatMessage,
		"id":           m.ID,
		"sender_id":    m.SenderID,
		"receiver_id":  m.ReceiverID,
		"sender_name":  m.SenderName,
		"content":      m.Content,
		"message_type": m.Kind,
		"created_at":   m.CreatedAt,
		"is_read":      m.IsRead,
	}
}

func typingEnvelope(senderID string, isTyping bool) map[string]any {
	return map[string]any{
		"type":      EventTypingIndicator,
		"sender_id": senderID,
		"is_typing": isTyping,
	}
}

func messagesReadEnvelope(readerID string) map[string]any {
	return map[string]any{
		"type":      EventMessagesRead,
		"reader_id": readerID,
	}
}

func pingEnvelope() map[string]any {
	return map[string]any{"type": EventPing}
}

func heartbeatAckEnvelope() map[string]any {
	return map[string]any{"type": EventHeartbeatAck}
}
