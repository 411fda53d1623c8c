package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(serverErrorLoggerMiddleware)
	r.Use(corsMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newIPRateLimiter(240, time.Minute).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	s := server{
		db:                     d.DB,
		br:                     d.Broker,
		pepper:                 d.Pepper,
		sessionTTL:             time.Duration(d.SessionTTLDays) * 24 * time.Hour,
		streamMaxSubscriptions: d.StreamMaxSubscriptions,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)

		// The websocket authenticates itself at open; it cannot sit
		// behind the header-only middleware because browsers dial with
		// a query token.
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/me", s.handleMe)
			r.Patch("/me", s.handleUpdateProfile)

			r.Get("/users/search", s.handleSearchUsers)
			r.Route("/users/{username}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Get("/posts", s.handleListUserPosts)
				r.Get("/followers", s.handleListFollowers)
				r.Get("/following", s.handleListFollowing)
				r.Post("/follow", s.handleFollow)
				r.Delete("/follow", s.handleUnfollow)
			})

			r.Get("/feed", s.handleGetFeed)
			r.Post("/posts", s.handleCreatePost)
			r.Route("/posts/{postID}", func(r chi.Router) {
				r.Get("/", s.handleGetPost)
				r.Delete("/", s.handleDeletePost)
				r.Post("/like", s.handleToggleLike)
				r.Get("/likes", s.handleListPostLikes)
				r.Get("/comments", s.handleListComments)
				r.Post("/comments", s.handleCreateComment)
			})
			r.Delete("/comments/{commentID}", s.handleDeleteComment)

			r.Get("/conversations", s.handleListConversations)
			r.Post("/conversations", s.handleCreateConversation)
			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Post("/members", s.handleAddConversationMember)
				r.Delete("/members/{userID}", s.handleRemoveConversationMember)
				r.Get("/messages", s.handleListMessages)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/typing", s.handleTyping)
			})

			r.Get("/notifications", s.handleListNotifications)
			r.Get("/notifications/unread-count", s.handleUnreadNotificationCount)
			r.Post("/notifications/mark-read", s.handleMarkNotificationsRead)
		})
	})

	return r
}
