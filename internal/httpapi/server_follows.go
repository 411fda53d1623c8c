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

func (s server) lookupUserID(ctx context.Context, username string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `select id from users where username = $1`, username).Scan(&id)
	return id, err
}

func (s server) handleFollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	target, err := s.lookupUserID(ctx, strings.TrimSpace(chi.URLParam(r, "username")))
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		logError(ctx, "lookup user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if target == userID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot follow yourself"})
		return
	}

	tag, err := s.db.Exec(ctx, `
		insert into follows (follower_id, following_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, target)
	if err != nil {
		logError(ctx, "insert follow failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "follow failed"})
		return
	}

	// Only a fresh follow notifies; re-following is a no-op.
	if tag.RowsAffected() > 0 {
		s.notify(ctx, notificationInput{
			RecipientID: target,
			ActorID:     userID,
			Type:        "follow",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"following": true})
}

func (s server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	target, err := s.lookupUserID(ctx, strings.TrimSpace(chi.URLParam(r, "username")))
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		logError(ctx, "lookup user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	if _, err := s.db.Exec(ctx, `
		delete from follows where follower_id = $1 and following_id = $2
	`, userID, target); err != nil {
		logError(ctx, "delete follow failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unfollow failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"following": false})
}

func (s server) handleListFollowers(w http.ResponseWriter, r *http.Request) {
	s.listFollowEdge(w, r, "followers")
}

func (s server) handleListFollowing(w http.ResponseWriter, r *http.Request) {
	s.listFollowEdge(w, r, "following")
}

func (s server) listFollowEdge(w http.ResponseWriter, r *http.Request, direction string) {
	limit := limitQuery(r, 50, 100)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	target, err := s.lookupUserID(ctx, strings.TrimSpace(chi.URLParam(r, "username")))
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		logError(ctx, "lookup user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	sql := `
		select u.id, u.username, u.full_name, u.bio, u.website, u.avatar_url, u.created_at
		from follows f
		join users u on u.id = f.follower_id
		where f.following_id = $1
		order by f.created_at desc
		limit $2
	`
	if direction == "following" {
		sql = `
			select u.id, u.username, u.full_name, u.bio, u.website, u.avatar_url, u.created_at
			from follows f
			join users u on u.id = f.following_id
			where f.follower_id = $1
			order by f.created_at desc
			limit $2
		`
	}

	rows, err := s.db.Query(ctx, sql, target, limit)
	if err != nil {
		logError(ctx, "list follows failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	defer rows.Close()

	users := make([]userDTO, 0, limit)
	for rows.Next() {
		var (
			u         userDTO
			id        uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &u.Username, &u.FullName, &u.Bio, &u.Website, &u.AvatarURL, &createdAt); err != nil {
			logError(ctx, "scan user failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		u.ID = id.String()
		u.CreatedAt = fmtTime(createdAt)
		users = append(users, u)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
