package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const maxConversationMembers = 32

type conversationMemberDTO struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
	IsAdmin   bool    `json:"is_admin"`
}

type conversationDTO struct {
	ID          string                  `json:"id"`
	Name        *string                 `json:"name"`
	IsGroup     bool                    `json:"is_group"`
	Members     []conversationMemberDTO `json:"members"`
	LastMessage *messageDTO             `json:"last_message"`
	UnreadCount int                     `json:"unread_count"`
	UpdatedAt   string                  `json:"updated_at"`
}

// handleCreateConversation starts a conversation. A two-party request
// without a name reuses the existing direct conversation between the
// pair instead of creating another one.
func (s server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		MemberIDs []string `json:"member_ids"`
		Name      *string  `json:"name"`
	}
	if !readJSONLimited(w, r, &req, 32*1024) {
		return
	}
	if len(req.MemberIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "member_ids required"})
		return
	}

	members := map[uuid.UUID]struct{}{userID: {}}
	for _, raw := range req.MemberIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid member id"})
			return
		}
		members[id] = struct{}{}
	}
	if len(members) < 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation needs another member"})
		return
	}
	if len(members) > maxConversationMembers {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "too many members"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	isGroup := len(members) > 2 || req.Name != nil

	if !isGroup {
		var peer uuid.UUID
		for id := range members {
			if id != userID {
				peer = id
			}
		}
		var existing uuid.UUID
		err := s.db.QueryRow(ctx, `
			select c.id
			from conversations c
			join conversation_members a on a.conversation_id = c.id and a.user_id = $1
			join conversation_members b on b.conversation_id = c.id and b.user_id = $2
			where not c.is_group
			limit 1
		`, userID, peer).Scan(&existing)
		if err == nil {
			conv, err := s.fetchConversation(ctx, existing, userID)
			if err != nil {
				logError(ctx, "fetch conversation failed", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
				return
			}
			writeJSON(w, http.StatusOK, conv)
			return
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			logError(ctx, "lookup direct conversation failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
	}

	var memberCount int
	ids := make([]uuid.UUID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	if err := s.db.QueryRow(ctx, `
		select count(*) from users where id = any($1)
	`, ids).Scan(&memberCount); err != nil {
		logError(ctx, "count members failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if memberCount != len(ids) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown member"})
		return
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		logError(ctx, "begin tx failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create conversation failed"})
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var convID uuid.UUID
	if err := tx.QueryRow(ctx, `
		insert into conversations (name, is_group)
		values ($1, $2)
		returning id
	`, req.Name, isGroup).Scan(&convID); err != nil {
		logError(ctx, "insert conversation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create conversation failed"})
		return
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
			insert into conversation_members (conversation_id, user_id, is_admin)
			values ($1, $2, $3)
		`, convID, id, id == userID); err != nil {
			logError(ctx, "insert member failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create conversation failed"})
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logError(ctx, "commit failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create conversation failed"})
		return
	}

	conv, err := s.fetchConversation(ctx, convID, userID)
	if err != nil {
		logError(ctx, "fetch conversation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	limit := limitQuery(r, 30, 100)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		select c.id
		from conversations c
		join conversation_members m on m.conversation_id = c.id
		where m.user_id = $1
		order by c.updated_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		logError(ctx, "list conversations failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			logError(ctx, "scan conversation id failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		ids = append(ids, id)
	}
	rows.Close()

	convs := make([]conversationDTO, 0, len(ids))
	for _, id := range ids {
		conv, err := s.fetchConversation(ctx, id, userID)
		if err != nil {
			logError(ctx, "fetch conversation failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		convs = append(convs, conv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
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

	conv, err := s.fetchConversation(ctx, convID, userID)
	if err != nil {
		logError(ctx, "fetch conversation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s server) handleAddConversationMember(w http.ResponseWriter, r *http.Request) {
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
		UserID string `json:"user_id"`
	}
	if !readJSONLimited(w, r, &req, 4*1024) {
		return
	}
	newMember, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var isGroup, isAdmin bool
	err = s.db.QueryRow(ctx, `
		select c.is_group, m.is_admin
		from conversations c
		join conversation_members m on m.conversation_id = c.id and m.user_id = $2
		where c.id = $1
	`, convID, userID).Scan(&isGroup, &isAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		logError(ctx, "lookup conversation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if !isGroup {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot add members to a direct conversation"})
		return
	}
	if !isAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}

	var memberCount int
	if err := s.db.QueryRow(ctx, `
		select count(*) from conversation_members where conversation_id = $1
	`, convID).Scan(&memberCount); err != nil {
		logError(ctx, "count members failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if memberCount >= maxConversationMembers {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation is full"})
		return
	}

	if _, err := s.db.Exec(ctx, `
		insert into conversation_members (conversation_id, user_id)
		values ($1, $2)
		on conflict do nothing
	`, convID, newMember); err != nil {
		logError(ctx, "insert member failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "add member failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRemoveConversationMember removes a member from a group. Admins
// can remove anyone; a member can always remove themselves to leave.
func (s server) handleRemoveConversationMember(w http.ResponseWriter, r *http.Request) {
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
	target, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var isGroup, isAdmin bool
	err = s.db.QueryRow(ctx, `
		select c.is_group, m.is_admin
		from conversations c
		join conversation_members m on m.conversation_id = c.id and m.user_id = $2
		where c.id = $1
	`, convID, userID).Scan(&isGroup, &isAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		logError(ctx, "lookup conversation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if !isGroup {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot remove members from a direct conversation"})
		return
	}
	if target != userID && !isAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}

	tag, err := s.db.Exec(ctx, `
		delete from conversation_members
		where conversation_id = $1 and user_id = $2
	`, convID, target)
	if err != nil {
		logError(ctx, "delete member failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "remove member failed"})
		return
	}
	if tag.RowsAffected() == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s server) isConversationMember(ctx context.Context, convID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		select exists(
			select 1 from conversation_members
			where conversation_id = $1 and user_id = $2
		)
	`, convID, userID).Scan(&ok)
	return ok, err
}

func (s server) fetchConversation(ctx context.Context, convID, viewerID uuid.UUID) (conversationDTO, error) {
	var (
		c         conversationDTO
		updatedAt time.Time
	)
	err := s.db.QueryRow(ctx, `
		select c.name, c.is_group, c.updated_at,
		       (select count(*)
		        from messages msg
		        where msg.conversation_id = c.id
		          and msg.sender_id <> $2
		          and not exists(
		              select 1 from message_reads mr
		              where mr.message_id = msg.id and mr.user_id = $2
		          ))::int
		from conversations c
		where c.id = $1
	`, convID, viewerID).Scan(&c.Name, &c.IsGroup, &updatedAt, &c.UnreadCount)
	if err != nil {
		return conversationDTO{}, err
	}
	c.ID = convID.String()
	c.UpdatedAt = fmtTime(updatedAt)

	rows, err := s.db.Query(ctx, `
		select u.id, u.username, u.avatar_url, m.is_admin
		from conversation_members m
		join users u on u.id = m.user_id
		where m.conversation_id = $1
		order by m.joined_at
	`, convID)
	if err != nil {
		return conversationDTO{}, err
	}
	defer rows.Close()

	c.Members = make([]conversationMemberDTO, 0, 4)
	for rows.Next() {
		var (
			m  conversationMemberDTO
			id uuid.UUID
		)
		if err := rows.Scan(&id, &m.Username, &m.AvatarURL, &m.IsAdmin); err != nil {
			return conversationDTO{}, err
		}
		m.ID = id.String()
		c.Members = append(c.Members, m)
	}
	if err := rows.Err(); err != nil {
		return conversationDTO{}, err
	}

	last, err := s.fetchLastMessage(ctx, convID)
	if err != nil {
		return conversationDTO{}, err
	}
	c.LastMessage = last
	return c, nil
}

func (s server) fetchLastMessage(ctx context.Context, convID uuid.UUID) (*messageDTO, error) {
	var (
		m         messageDTO
		id        uuid.UUID
		senderID  uuid.UUID
		sharedID  *uuid.UUID
		createdAt time.Time
	)
	err := s.db.QueryRow(ctx, `
		select m.id, m.sender_id, u.username, u.avatar_url,
		       m.type, m.body, m.media_url, m.shared_post_id, m.created_at
		from messages m
		join users u on u.id = m.sender_id
		where m.conversation_id = $1
		order by m.created_at desc, m.id desc
		limit 1
	`, convID).Scan(&id, &senderID, &m.SenderUsername, &m.SenderAvatar,
		&m.Type, &m.Text, &m.MediaURL, &sharedID, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.ID = id.String()
	m.ConversationID = convID.String()
	m.SenderID = senderID.String()
	if sharedID != nil {
		v := sharedID.String()
		m.SharedPostID = &v
	}
	m.CreatedAt = fmtTime(createdAt)
	return &m, nil
}
