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

const maxCaptionLen = 2200

type mediaDTO struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	MediumURL    string `json:"medium_url"`
	Width        *int   `json:"width"`
	Height       *int   `json:"height"`
}

type postAuthorDTO struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}

type postDTO struct {
	ID           string        `json:"id"`
	Author       postAuthorDTO `json:"author"`
	Caption      *string       `json:"caption"`
	Media        []mediaDTO    `json:"media"`
	LikeCount    int           `json:"like_count"`
	CommentCount int           `json:"comment_count"`
	Liked        bool          `json:"liked"`
	CreatedAt    string        `json:"created_at"`
}

type postListResponse struct {
	Posts      []postDTO `json:"posts"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

func (s server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req struct {
		Caption *string    `json:"caption"`
		Media   []mediaDTO `json:"media"`
	}
	if !readJSONLimited(w, r, &req, 256*1024) {
		return
	}
	if len(req.Media) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "post needs at least one media item"})
		return
	}
	if len(req.Media) > 10 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "too many media items"})
		return
	}
	if req.Caption != nil && len(*req.Caption) > maxCaptionLen {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "caption too long"})
		return
	}
	for _, m := range req.Media {
		if strings.TrimSpace(m.URL) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "media url required"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		logError(ctx, "begin tx failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create post failed"})
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		postID    uuid.UUID
		createdAt time.Time
	)
	if err := tx.QueryRow(ctx, `
		insert into posts (user_id, caption)
		values ($1, $2)
		returning id, created_at
	`, userID, req.Caption).Scan(&postID, &createdAt); err != nil {
		logError(ctx, "insert post failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create post failed"})
		return
	}

	for i, m := range req.Media {
		thumb := m.ThumbnailURL
		if thumb == "" {
			thumb = m.URL
		}
		medium := m.MediumURL
		if medium == "" {
			medium = m.URL
		}
		if _, err := tx.Exec(ctx, `
			insert into post_media (post_id, url, thumbnail_url, medium_url, position, width, height)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, postID, m.URL, thumb, medium, i, m.Width, m.Height); err != nil {
			logError(ctx, "insert post media failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create post failed"})
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logError(ctx, "commit failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create post failed"})
		return
	}

	if req.Caption != nil {
		s.notifyMentions(ctx, userID, *req.Caption, &postID, nil)
	}

	post, err := s.fetchPost(ctx, postID, userID)
	if err != nil {
		logError(ctx, "fetch post failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := userIDFromCtx(r.Context())
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid post id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	post, err := s.fetchPost(ctx, postID, viewerID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "post not found"})
		return
	}
	if err != nil {
		logError(ctx, "fetch post failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		delete from posts where id = $1 and user_id = $2
	`, postID, userID)
	if err != nil {
		logError(ctx, "delete post failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
		return
	}
	if tag.RowsAffected() == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "post not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGetFeed returns posts from followed users plus the viewer's
// own, newest first, keyset paginated by the cursor post's created_at.
func (s server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	limit := limitQuery(r, 20, 50)
	cursor, hasCursor := cursorQuery(r)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	sql := `
		select p.id
		from posts p
		where (p.user_id = $1
		       or p.user_id in (select following_id from follows where follower_id = $1))
	`
	args := []any{userID}
	if hasCursor {
		sql += ` and (p.created_at, p.id) < (select created_at, id from posts where id = $2)`
		args = append(args, cursor)
	}
	sql += ` order by p.created_at desc, p.id desc limit $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	s.writePostPage(ctx, w, userID, sql, args, limit)
}

func (s server) handleListUserPosts(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := userIDFromCtx(r.Context())
	limit := limitQuery(r, 20, 50)
	cursor, hasCursor := cursorQuery(r)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
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
		select p.id
		from posts p
		where p.user_id = $1
	`
	args := []any{target}
	if hasCursor {
		sql += ` and (p.created_at, p.id) < (select created_at, id from posts where id = $2)`
		args = append(args, cursor)
	}
	sql += ` order by p.created_at desc, p.id desc limit $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1)

	s.writePostPage(ctx, w, viewerID, sql, args, limit)
}

// writePostPage runs an id-selecting query, hydrates each post and
// writes the page with the limit+1 has_more convention.
func (s server) writePostPage(ctx context.Context, w http.ResponseWriter, viewerID uuid.UUID, sql string, args []any, limit int) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		logError(ctx, "list posts failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			logError(ctx, "scan post id failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		ids = append(ids, id)
	}
	rows.Close()

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	posts := make([]postDTO, 0, len(ids))
	for _, id := range ids {
		post, err := s.fetchPost(ctx, id, viewerID)
		if err != nil {
			logError(ctx, "fetch post failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}
		posts = append(posts, post)
	}

	resp := postListResponse{Posts: posts, HasMore: hasMore}
	if hasMore && len(posts) > 0 {
		resp.NextCursor = posts[len(posts)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s server) fetchPost(ctx context.Context, postID, viewerID uuid.UUID) (postDTO, error) {
	var (
		p         postDTO
		id        uuid.UUID
		authorID  uuid.UUID
		createdAt time.Time
	)
	err := s.db.QueryRow(ctx, `
		select
			p.id, p.caption, p.created_at,
			u.id, u.username, u.avatar_url,
			(select count(*) from likes where post_id = p.id)::int,
			(select count(*) from comments where post_id = p.id)::int,
			exists(select 1 from likes where post_id = p.id and user_id = $2)
		from posts p
		join users u on u.id = p.user_id
		where p.id = $1
	`, postID, viewerID).Scan(
		&id, &p.Caption, &createdAt,
		&authorID, &p.Author.Username, &p.Author.AvatarURL,
		&p.LikeCount, &p.CommentCount, &p.Liked,
	)
	if err != nil {
		return postDTO{}, err
	}
	p.ID = id.String()
	p.Author.ID = authorID.String()
	p.CreatedAt = fmtTime(createdAt)

	rows, err := s.db.Query(ctx, `
		select url, thumbnail_url, medium_url, width, height
		from post_media
		where post_id = $1
		order by position
	`, postID)
	if err != nil {
		return postDTO{}, err
	}
	defer rows.Close()

	p.Media = make([]mediaDTO, 0, 4)
	for rows.Next() {
		var m mediaDTO
		if err := rows.Scan(&m.URL, &m.ThumbnailURL, &m.MediumURL, &m.Width, &m.Height); err != nil {
			return postDTO{}, err
		}
		p.Media = append(p.Media, m)
	}
	return p, rows.Err()
}
