package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"glimpse/internal/tokens"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

type userDTO struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	FullName  *string `json:"full_name"`
	Bio       *string `json:"bio"`
	Website   *string `json:"website"`
	AvatarURL *string `json:"avatar_url"`
	CreatedAt string  `json:"created_at"`
}

type authResponse struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

func (s server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string  `json:"username"`
		Email    string  `json:"email"`
		Password string  `json:"password"`
		FullName *string `json:"full_name"`
	}
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !usernameRe.MatchString(req.Username) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username must be 3-30 chars of letters, digits or underscore"})
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 chars"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logError(r.Context(), "hash password failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var (
		id        uuid.UUID
		createdAt time.Time
	)
	err = s.db.QueryRow(ctx, `
		insert into users (username, email, full_name, password_hash)
		values ($1, $2, $3, $4)
		returning id, created_at
	`, req.Username, req.Email, req.FullName, string(hash)).Scan(&id, &createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "username or email already taken"})
			return
		}
		logError(ctx, "insert user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register failed"})
		return
	}

	token, err := s.newSession(ctx, id)
	if err != nil {
		logError(ctx, "create session failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register failed"})
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Token: token,
		User: userDTO{
			ID:        id.String(),
			Username:  req.Username,
			FullName:  req.FullName,
			CreatedAt: fmtTime(createdAt),
		},
	})
}

func (s server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !readJSONLimited(w, r, &req, 16*1024) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	login := strings.TrimSpace(req.Username)
	var (
		u            userDTO
		id           uuid.UUID
		passwordHash string
		createdAt    time.Time
	)
	err := s.db.QueryRow(ctx, `
		select id, username, full_name, bio, website, avatar_url, password_hash, created_at
		from users
		where username = $1 or email = lower($1)
	`, login).Scan(&id, &u.Username, &u.FullName, &u.Bio, &u.Website, &u.AvatarURL, &passwordHash, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	if err != nil {
		logError(ctx, "lookup user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := s.newSession(ctx, id)
	if err != nil {
		logError(ctx, "create session failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	u.ID = id.String()
	u.CreatedAt = fmtTime(createdAt)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: u})
}

func (s server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	hash := tokens.HashSessionToken(s.pepper, token)
	if _, err := s.db.Exec(ctx, `delete from sessions where token_hash = $1`, hash); err != nil {
		logError(ctx, "delete session failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "logout failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	u, err := s.fetchUser(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if err != nil {
		logError(ctx, "fetch user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s server) newSession(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := tokens.NewSessionToken()
	if err != nil {
		return "", err
	}
	hash := tokens.HashSessionToken(s.pepper, token)
	_, err = s.db.Exec(ctx, `
		insert into sessions (user_id, token_hash, expires_at)
		values ($1, $2, now() + make_interval(secs => $3))
	`, userID, hash, s.sessionTTL.Seconds())
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s server) fetchUser(ctx context.Context, id uuid.UUID) (userDTO, error) {
	var (
		u         userDTO
		createdAt time.Time
	)
	err := s.db.QueryRow(ctx, `
		select id, username, full_name, bio, website, avatar_url, created_at
		from users
		where id = $1
	`, id).Scan(&id, &u.Username, &u.FullName, &u.Bio, &u.Website, &u.AvatarURL, &createdAt)
	if err != nil {
		return userDTO{}, err
	}
	u.ID = id.String()
	u.CreatedAt = fmtTime(createdAt)
	return u, nil
}
