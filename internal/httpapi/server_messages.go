package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"glimpse/internal/realtime"
)

const maxMessageLen = 4000

type messageListResponse struct {
	Messages          []messageDTO `json:"messages"`
	HasMore           bool         `json:"has_more"`
	NextCursor        string       `json:"next_cursor,omitempty"`
	LastSeenMessageID *string      `json:"last_seen_message_id"`
}

// handleListMessages returns a conversation's history newest first.
// Fetching history is what marks the other parties' messages read, so
// a client that has rendered the page has acknowledged everything on
// it.
func (s server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}
	limit := limitQuery(r, 50, 100)
	cursor, hasCursor := cursorQuery(r)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	isMember, err := s.isConversationMember(ctx, convID, userID)
	if err != nil {
		logError(ctx, "membership check failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if !isMember {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}

	sql := `
		select m.id, m.sender_id, u.username, u.avatar_url,
		       m.type, m.body, m.media_url, m.shared_post_id, m.created_at
		from messages m
		join users u on u.id = m.sender_id
		where m.conversation_id = $1
	`
	args := []any{convID}
	if hasCursor {
		sql += ` and (m.created_at, m.id) < (select created_at, id from messages where id = $2)`
		args = append(args, cursor)
	}
	sql += ` order by m.created_at desc, m.id desc limit $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		logError(ctx, "list messages failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	defer rows.Close()

	messages := make([]messageDTO, 0, limit)
	for rows.Next() {
		var (
			m         messageDTO
			id        uuid.UUID
			senderID  uuid.UUID
			sharedID  *uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &senderID, &m.SenderUsername, &m.SenderAvatar,
			&m.Type, &m.Text, &m.MediaURL, &sharedID, &createdAt); err != nil {
			logError(ctx, "scan message failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		m.ID = id.String()
		m.ConversationID = convID.String()
		m.SenderID = senderID.String()
		if sharedID != nil {
			v := sharedID.String()
			m.SharedPostID = &v
		}
		m.CreatedAt = fmtTime(createdAt)
		messages = append(messages, m)
	}
	rows.Close()

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	// Only the page the requester actually fetched counts as read;
	// older unfetched messages stay unread. Re-reads are no-ops.
	if peerIDs := peerMessageIDs(messages, userID); len(peerIDs) > 0 {
		if _, err := s.db.Exec(ctx, `
			insert into message_reads (message_id, user_id)
			select m.id, $2
			from messages m
			where m.id = any($1)
			on conflict do nothing
		`, peerIDs, userID); err != nil {
			logError(ctx, "mark messages read failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
	}

	lastSeen, err := s.lastSeenMessageID(ctx, convID, userID)
	if err != nil {
		logError(ctx, "last seen lookup failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	resp := messageListResponse{Messages: messages, HasMore: hasMore, LastSeenMessageID: lastSeen}
	if hasMore && len(messages) > 0 {
		resp.NextCursor = messages[len(messages)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// peerMessageIDs lists the fetched messages authored by someone other
// than the requester. Ids come straight from the database, so a parse
// failure never happens in practice; such rows are skipped.
func peerMessageIDs(messages []messageDTO, requester uuid.UUID) []uuid.UUID {
	self := requester.String()
	var ids []uuid.UUID
	for _, m := range messages {
		if m.SenderID == self {
			continue
		}
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// lastSeenMessageID is the newest message the requester sent that
// another member has read. The client renders its "seen" marker there.
func (s server) lastSeenMessageID(ctx context.Context, convID, userID uuid.UUID) (*string, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		select m.id
		from messages m
		join message_reads mr on mr.message_id = m.id
		where m.conversation_id = $1
		  and m.sender_id = $2
		  and mr.user_id <> $2
		order by m.created_at desc, m.id desc
		limit 1
	`, convID, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := id.String()
	return &v, nil
}

func (s server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}

	var req struct {
		Type         string  `json:"type"`
		Text         *string `json:"text"`
		MediaURL     *string `json:"media_url"`
		SharedPostID *string `json:"shared_post_id"`
	}
	if !readJSONLimited(w, r, &req, 64*1024) {
		return
	}
	if req.Type == "" {
		req.Type = "text"
	}

	var sharedPostID *uuid.UUID
	switch req.Type {
	case "text":
		if req.Text == nil || strings.TrimSpace(*req.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text required"})
			return
		}
		if len(*req.Text) > maxMessageLen {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message too long"})
			return
		}
	case "photo":
		if req.MediaURL == nil || strings.TrimSpace(*req.MediaURL) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "media_url required"})
			return
		}
	case "post_share":
		if req.SharedPostID == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "shared_post_id required"})
			return
		}
		id, err := uuid.Parse(*req.SharedPostID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shared_post_id"})
			return
		}
		sharedPostID = &id
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown message type"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	isMember, err := s.isConversationMember(ctx, convID, userID)
	if err != nil {
		logError(ctx, "membership check failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if !isMember {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		logError(ctx, "begin tx failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "send failed"})
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		msgID     uuid.UUID
		createdAt time.Time
	)
	if err := tx.QueryRow(ctx, `
		insert into messages (conversation_id, sender_id, type, body, media_url, shared_post_id)
		values ($1, $2, $3, $4, $5, $6)
		returning id, created_at
	`, convID, userID, req.Type, req.Text, req.MediaURL, sharedPostID).Scan(&msgID, &createdAt); err != nil {
		logError(ctx, "insert message failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "send failed"})
		return
	}

	if _, err := tx.Exec(ctx, `
		update conversations set updated_at = now() where id = $1
	`, convID); err != nil {
		logError(ctx, "touch conversation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "send failed"})
		return
	}

	if err := tx.Commit(ctx); err != nil {
		logError(ctx, "commit failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "send failed"})
		return
	}

	var (
		username  string
		avatarURL *string
	)
	if err := s.db.QueryRow(ctx, `select username, avatar_url from users where id = $1`, userID).Scan(&username, &avatarURL); err != nil {
		logError(ctx, "lookup sender failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	dto := messageDTO{
		ID:             msgID.String(),
		ConversationID: convID.String(),
		SenderID:       userID.String(),
		SenderUsername: username,
		SenderAvatar:   avatarURL,
		Type:           req.Type,
		Text:           req.Text,
		MediaURL:       req.MediaURL,
		SharedPostID:   req.SharedPostID,
		CreatedAt:      fmtTime(createdAt),
	}

	// Fan out only after the row is durable.
	s.br.Publish(realtime.ConversationTopic(convID), realtime.Event{
		Kind:  eventChatMessage,
		Actor: userID.String(),
		Data:  dto,
	})

	s.notifyConversationMembers(ctx, convID, userID)

	writeJSON(w, http.StatusCreated, dto)
}

func (s server) notifyConversationMembers(ctx context.Context, convID, senderID uuid.UUID) {
	rows, err := s.db.Query(ctx, `
		select user_id from conversation_members
		where conversation_id = $1 and user_id <> $2
	`, convID, senderID)
	if err != nil {
		logError(ctx, "list members failed", err)
		return
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			logError(ctx, "scan member failed", err)
			return
		}
		members = append(members, id)
	}

	for _, id := range members {
		s.notify(ctx, notificationInput{
			RecipientID: id,
			ActorID:     senderID,
			Type:        "message",
		})
	}
}

// handleTyping broadcasts a transient typing indicator. Nothing is
// stored; watchers that miss it miss it.
func (s server) handleTyping(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	isMember, err := s.isConversationMember(ctx, convID, userID)
	if err != nil {
		logError(ctx, "membership check failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if !isMember {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}

	var username string
	if err := s.db.QueryRow(ctx, `select username from users where id = $1`, userID).Scan(&username); err != nil {
		logError(ctx, "lookup sender failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	s.br.Publish(realtime.ConversationTopic(convID), realtime.Event{
		Kind:  eventTypingIndicator,
		Actor: userID.String(),
		Data: typingEventDTO{
			ConversationID: convID.String(),
			SenderID:       userID.String(),
			SenderUsername: username,
			CreatedAt:      fmtTime(time.Now()),
		},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
