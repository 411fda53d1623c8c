package httpapi

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"glimpse/internal/realtime"
)

// Identical notifications (same recipient, actor, type and post, with
// null posts matching null) created within this window collapse into
// the first one.
const notificationDedupInterval = time.Hour

const notificationDedupQuery = `
	select exists(
		select 1 from notifications
		where recipient_id = $1
		  and actor_id = $2
		  and type = $3
		  and post_id is not distinct from $4
		  and created_at > now() - make_interval(secs => $5)
	)
`

type notificationInput struct {
	RecipientID uuid.UUID
	ActorID     uuid.UUID
	Type        string // like | comment | follow | mention | message
	PostID      *uuid.UUID
	CommentID   *uuid.UUID
}

// createNotification inserts a notification row and fans it out to the
// recipient's live stream. Self-notifications are always suppressed,
// and an identical notification (same recipient, actor, type, post)
// created within the last hour is deduplicated: like → unlike → like
// must not spam the recipient.
//
// Publish only ever follows a successful insert.
func (s server) createNotification(ctx context.Context, in notificationInput) error {
	if in.RecipientID == in.ActorID {
		return nil
	}

	var duplicate bool
	err := s.db.QueryRow(ctx, notificationDedupQuery,
		in.RecipientID, in.ActorID, in.Type, in.PostID, notificationDedupInterval.Seconds()).Scan(&duplicate)
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	var (
		id        uuid.UUID
		createdAt time.Time
	)
	if err := s.db.QueryRow(ctx, `
		insert into notifications (recipient_id, actor_id, type, post_id, comment_id)
		values ($1, $2, $3, $4, $5)
		returning id, created_at
	`, in.RecipientID, in.ActorID, in.Type, in.PostID, in.CommentID).Scan(&id, &createdAt); err != nil {
		return err
	}

	var (
		actorName   string
		actorAvatar *string
	)
	if err := s.db.QueryRow(ctx, `
		select username, avatar_url from users where id = $1
	`, in.ActorID).Scan(&actorName, &actorAvatar); err != nil {
		return err
	}

	unread, err := s.unreadNotificationCount(ctx, in.RecipientID)
	if err != nil {
		return err
	}

	dto := notificationEventDTO{
		ID:          id.String(),
		Type:        in.Type,
		ActorID:     in.ActorID.String(),
		ActorName:   actorName,
		ActorAvatar: actorAvatar,
		UnreadCount: unread,
		CreatedAt:   fmtTime(createdAt),
	}
	if in.PostID != nil {
		v := in.PostID.String()
		dto.PostID = &v
	}
	if in.CommentID != nil {
		v := in.CommentID.String()
		dto.CommentID = &v
	}

	s.br.Publish(realtime.UserNotificationsTopic(in.RecipientID), realtime.Event{
		Kind:  eventNotification,
		Actor: in.ActorID.String(),
		Data:  dto,
	})
	return nil
}

// notify is the best-effort wrapper mutation handlers use after their
// own commit: a failed notification never fails the mutation.
func (s server) notify(ctx context.Context, in notificationInput) {
	if err := s.createNotification(ctx, in); err != nil {
		logError(ctx, "create notification failed", err)
	}
}

var mentionRe = regexp.MustCompile(`@([a-zA-Z0-9_]{3,30})`)

func parseMentions(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// notifyMentions sends a mention notification to each @username in
// text that resolves to a real user.
func (s server) notifyMentions(ctx context.Context, actorID uuid.UUID, text string, postID, commentID *uuid.UUID) {
	usernames := parseMentions(text)
	if len(usernames) == 0 {
		return
	}

	rows, err := s.db.Query(ctx, `select id from users where username = any($1)`, usernames)
	if err != nil {
		logError(ctx, "mention lookup failed", err)
		return
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			logError(ctx, "mention scan failed", err)
			return
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		s.notify(ctx, notificationInput{
			RecipientID: id,
			ActorID:     actorID,
			Type:        "mention",
			PostID:      postID,
			CommentID:   commentID,
		})
	}
}
