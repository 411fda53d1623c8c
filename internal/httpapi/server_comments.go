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
)

const maxCommentLen = 2200

type commentDTO struct {
	ID        string        `json:"id"`
	PostID    string        `json:"post_id"`
	ParentID  *string       `json:"parent_id"`
	Author    postAuthorDTO `json:"author"`
	Body      string        `json:"body"`
	CreatedAt string        `json:"created_at"`
}

func (s server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid post id"})
		return
	}

	var req struct {
		Body     string  `json:"body"`
		ParentID *string `json:"parent_id"`
	}
	if !readJSONLimited(w, r, &req, 32*1024) {
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "comment body required"})
		return
	}
	if len(req.Body) > maxCommentLen {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "comment too long"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var authorID uuid.UUID
	err = s.db.QueryRow(ctx, `select user_id from posts where id = $1`, postID).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "post not found"})
		return
	}
	if err != nil {
		logError(ctx, "lookup post failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	var parentID *uuid.UUID
	if req.ParentID != nil {
		pid, err := uuid.Parse(*req.ParentID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid parent id"})
			return
		}
		// Replies stay within the same post.
		var parentPost uuid.UUID
		err = s.db.QueryRow(ctx, `select post_id from comments where id = $1`, pid).Scan(&parentPost)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && parentPost != postID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parent comment not found"})
			return
		}
		if err != nil {
			logError(ctx, "lookup parent comment failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		parentID = &pid
	}

	var (
		commentID uuid.UUID
		createdAt time.Time
	)
	if err := s.db.QueryRow(ctx, `
		insert into comments (post_id, user_id, parent_id, body)
		values ($1, $2, $3, $4)
		returning id, created_at
	`, postID, userID, parentID, req.Body).Scan(&commentID, &createdAt); err != nil {
		logError(ctx, "insert comment failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "comment failed"})
		return
	}

	s.notify(ctx, notificationInput{
		RecipientID: authorID,
		ActorID:     userID,
		Type:        "comment",
		PostID:      &postID,
		CommentID:   &commentID,
	})
	s.notifyMentions(ctx, userID, req.Body, &postID, &commentID)

	var (
		username  string
		avatarURL *string
	)
	if err := s.db.QueryRow(ctx, `select username, avatar_url from users where id = $1`, userID).Scan(&username, &avatarURL); err != nil {
		logError(ctx, "lookup commenter failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	dto := commentDTO{
		ID:        commentID.String(),
		PostID:    postID.String(),
		ParentID:  req.ParentID,
		Author:    postAuthorDTO{ID: userID.String(), Username: username, AvatarURL: avatarURL},
		Body:      req.Body,
		CreatedAt: fmtTime(createdAt),
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (s server) handleListComments(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid post id"})
		return
	}
	limit := limitQuery(r, 50, 100)
	cursor, hasCursor := cursorQuery(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sql := `
		select c.id, c.parent_id, c.body, c.created_at,
		       u.id, u.username, u.avatar_url
		from comments c
		join users u on u.id = c.user_id
		where c.post_id = $1
	`
	args := []any{postID}
	if hasCursor {
		sql += ` and (c.created_at, c.id) > (select created_at, id from comments where id = $2)`
		args = append(args, cursor)
	}
	sql += ` order by c.created_at asc, c.id asc limit $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		logError(ctx, "list comments failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	defer rows.Close()

	comments := make([]commentDTO, 0, limit)
	for rows.Next() {
		var (
			c         commentDTO
			id        uuid.UUID
			parentID  *uuid.UUID
			authorID  uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &parentID, &c.Body, &createdAt, &authorID, &c.Author.Username, &c.Author.AvatarURL); err != nil {
			logError(ctx, "scan comment failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		c.ID = id.String()
		c.PostID = postID.String()
		if parentID != nil {
			v := parentID.String()
			c.ParentID = &v
		}
		c.Author.ID = authorID.String()
		c.CreatedAt = fmtTime(createdAt)
		comments = append(comments, c)
	}

	hasMore := len(comments) > limit
	if hasMore {
		comments = comments[:limit]
	}
	resp := map[string]any{"comments": comments, "has_more": hasMore}
	if hasMore {
		resp["next_cursor"] = comments[len(comments)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	commentID, err := uuid.Parse(chi.URLParam(r, "commentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid comment id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// The commenter or the post owner may delete.
	tag, err := s.db.Exec(ctx, `
		delete from comments c
		using posts p
		where c.id = $1
		  and p.id = c.post_id
		  and (c.user_id = $2 or p.user_id = $2)
	`, commentID, userID)
	if err != nil {
		logError(ctx, "delete comment failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
		return
	}
	if tag.RowsAffected() == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "comment not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
