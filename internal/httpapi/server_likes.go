package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"glimpse/internal/realtime"
)

// handleToggleLike flips the viewer's like on a post. After the write
// commits it recounts likes from the table and publishes the fresh
// total, so watchers converge on the stored count even when toggles
// race.
func (s server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
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

	tag, err := s.db.Exec(ctx, `
		insert into likes (user_id, post_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, postID)
	if err != nil {
		logError(ctx, "insert like failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "like failed"})
		return
	}

	liked := tag.RowsAffected() > 0
	if !liked {
		if _, err := s.db.Exec(ctx, `
			delete from likes where user_id = $1 and post_id = $2
		`, userID, postID); err != nil {
			logError(ctx, "delete like failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unlike failed"})
			return
		}
	}

	count, err := s.publishLikeCount(ctx, postID, userID)
	if err != nil {
		logError(ctx, "recount likes failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	if liked {
		s.notify(ctx, notificationInput{
			RecipientID: authorID,
			ActorID:     userID,
			Type:        "like",
			PostID:      &postID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"liked": liked, "like_count": count})
}

// publishLikeCount recounts from the likes table and fans the total
// out to the post's watchers.
func (s server) publishLikeCount(ctx context.Context, postID, actorID uuid.UUID) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `
		select count(*) from likes where post_id = $1
	`, postID).Scan(&count); err != nil {
		return 0, err
	}

	s.br.Publish(realtime.PostLikesTopic(postID), realtime.Event{
		Kind:  eventLikeCountUpdate,
		Actor: actorID.String(),
		Data:  likeCountEventDTO{PostID: postID.String(), LikeCount: count},
	})
	return count, nil
}

func (s server) handleListPostLikes(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(chi.URLParam(r, "postID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid post id"})
		return
	}
	limit := limitQuery(r, 50, 100)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		select u.id, u.username, u.full_name, u.bio, u.website, u.avatar_url, u.created_at
		from likes l
		join users u on u.id = l.user_id
		where l.post_id = $1
		order by l.created_at desc
		limit $2
	`, postID, limit)
	if err != nil {
		logError(ctx, "list likes failed", err)
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
