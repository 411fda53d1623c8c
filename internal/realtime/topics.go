package realtime

import "github.com/google/uuid"

// Topic keys are derived deterministically from the owning entity and
// never renamed. Three families exist; payload shapes are fixed per
// family and never mixed.

func ConversationTopic(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

func PostLikesTopic(postID uuid.UUID) string {
	return "post-likes:" + postID.String()
}

func UserNotificationsTopic(userID uuid.UUID) string {
	return "user-notifications:" + userID.String()
}
