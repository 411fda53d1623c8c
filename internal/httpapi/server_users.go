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

type profileDTO struct {
	userDTO
	PostCount      int  `json:"post_count"`
	FollowerCount  int  `json:"follower_count"`
	FollowingCount int  `json:"following_count"`
	IsFollowing    bool `json:"is_following"`
}

func (s server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := userIDFromCtx(r.Context())
	username := strings.TrimSpace(chi.URLParam(r, "username"))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var (
		p         profileDTO
		id        uuid.UUID
		createdAt time.Time
	)
	err := s.db.QueryRow(ctx, `
		select
			u.id, u.username, u.full_name, u.bio, u.website, u.avatar_url, u.created_at,
			(select count(*) from posts where user_id = u.id)::int,
			(select count(*) from follows where following_id = u.id)::int,
			(select count(*) from follows where follower_id = u.id)::int,
			exists(select 1 from follows where follower_id = $2 and following_id = u.id)
		from users u
		where u.username = $1
	`, username, viewerID).Scan(
		&id, &p.Username, &p.FullName, &p.Bio, &p.Website, &p.AvatarURL, &createdAt,
		&p.PostCount, &p.FollowerCount, &p.FollowingCount, &p.IsFollowing,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	if err != nil {
		logError(ctx, "fetch profile failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	p.ID = id.String()
	p.CreatedAt = fmtTime(createdAt)
	writeJSON(w, http.StatusOK, p)
}

func (s server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		FullName  *string `json:"full_name"`
		Bio       *string `json:"bio"`
		Website   *string `json:"website"`
		AvatarURL *string `json:"avatar_url"`
	}
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}
	if req.Bio != nil && len(*req.Bio) > 500 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bio too long"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		update users
		set full_name = coalesce($2, full_name),
		    bio = coalesce($3, bio),
		    website = coalesce($4, website),
		    avatar_url = coalesce($5, avatar_url),
		    updated_at = now()
		where id = $1
	`, userID, req.FullName, req.Bio, req.Website, req.AvatarURL)
	if err != nil {
		logError(ctx, "update profile failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		return
	}

	u, err := s.fetchUser(ctx, userID)
	if err != nil {
		logError(ctx, "fetch user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]any{"users": []userDTO{}})
		return
	}
	limit := limitQuery(r, 20, 50)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		select id, username, full_name, bio, website, avatar_url, created_at
		from users
		where username ilike $1 or full_name ilike $1
		order by username
		limit $2
	`, "%"+q+"%", limit)
	if err != nil {
		logError(ctx, "search users failed", err)
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
