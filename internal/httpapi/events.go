package httpapi

// Event kinds streamed over /v1/stream. Each topic family has a fixed
// payload shape; shapes are never mixed across families.
const (
	eventChatMessage       = "chat-message"
	eventTypingIndicator   = "typing-indicator"
	eventLikeCountUpdate   = "like-count-update"
	eventNotification      = "notification"
	eventNotificationState = "notification-state"
)

// messageDTO is shared by the REST message endpoints and the
// chat-message stream payload; both surfaces show the same shape.
type messageDTO struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	SenderUsername string  `json:"sender_username"`
	SenderAvatar   *string `json:"sender_avatar_url,omitempty"`
	Type           string  `json:"type"`
	Text           *string `json:"text,omitempty"`
	MediaURL       *string `json:"media_url,omitempty"`
	SharedPostID   *string `json:"shared_post_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// Typing events carry no message identifier; they are transient and
// never persisted.
type typingEventDTO struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	CreatedAt      string `json:"created_at"`
}

type likeCountEventDTO struct {
	PostID    string `json:"post_id"`
	LikeCount int    `json:"like_count"`
}

type notificationEventDTO struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	PostID      *string `json:"post_id,omitempty"`
	CommentID   *string `json:"comment_id,omitempty"`
	ActorID     string  `json:"actor_id"`
	ActorName   string  `json:"actor_username"`
	ActorAvatar *string `json:"actor_avatar_url,omitempty"`
	UnreadCount int     `json:"unread_count"`
	CreatedAt   string  `json:"created_at"`
}

// Synthetic initial state for a notifications subscription: the unread
// count at subscribe time. The client increments locally per streamed
// notification afterwards.
type notificationStateDTO struct {
	UnreadCount int `json:"unread_count"`
}
