package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"glimpse/internal/realtime"
)

func (s server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	limit := limitQuery(r, 30, 100)
	cursor, hasCursor := cursorQuery(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sql := `
		select n.id, n.type, n.post_id, n.comment_id, n.read, n.created_at,
		       u.id, u.username, u.avatar_url
		from notifications n
		join users u on u.id = n.actor_id
		where n.recipient_id = $1
	`
	args := []any{userID}
	if hasCursor {
		sql += ` and (n.created_at, n.id) < (select created_at, id from notifications where id = $2)`
		args = append(args, cursor)
	}
	sql += ` order by n.created_at desc, n.id desc limit $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		logError(ctx, "list notifications failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	defer rows.Close()

	type notificationRowDTO struct {
		notificationEventDTO
		Read bool `json:"read"`
	}

	items := make([]notificationRowDTO, 0, limit)
	for rows.Next() {
		var (
			n         notificationRowDTO
			id        uuid.UUID
			postID    *uuid.UUID
			commentID *uuid.UUID
			actorID   uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &n.Type, &postID, &commentID, &n.Read, &createdAt,
			&actorID, &n.ActorName, &n.ActorAvatar); err != nil {
			logError(ctx, "scan notification failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		n.ID = id.String()
		n.ActorID = actorID.String()
		if postID != nil {
			v := postID.String()
			n.PostID = &v
		}
		if commentID != nil {
			v := commentID.String()
			n.CommentID = &v
		}
		n.CreatedAt = fmtTime(createdAt)
		items = append(items, n)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	resp := map[string]any{"notifications": items, "has_more": hasMore}
	if hasMore {
		resp["next_cursor"] = items[len(items)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s server) handleUnreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	count, err := s.unreadNotificationCount(ctx, userID)
	if err != nil {
		logError(ctx, "unread count failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, notificationStateDTO{UnreadCount: count})
}

// handleMarkNotificationsRead clears the unread set and pushes the new
// zero state to any open stream so badges reset everywhere at once.
func (s server) handleMarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if _, err := s.db.Exec(ctx, `
		update notifications set read = true
		where recipient_id = $1 and not read
	`, userID); err != nil {
		logError(ctx, "mark notifications read failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		return
	}

	s.br.Publish(realtime.UserNotificationsTopic(userID), realtime.Event{
		Kind:  eventNotificationState,
		Actor: userID.String(),
		Data:  notificationStateDTO{UnreadCount: 0},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s server) unreadNotificationCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		select count(*) from notifications
		where recipient_id = $1 and not read
	`, userID).Scan(&count)
	return count, err
}
