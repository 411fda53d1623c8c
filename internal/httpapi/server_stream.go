package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"golang.org/x/time/rate"

	"glimpse/internal/realtime"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxFrameSize   = 4096
	wsSendBufferSize = 256
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth gates the socket; cross-origin pages holding a valid
	// token are legitimate clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is what the client sends on the socket. Target carries
// the conversation or post id; notifications subscriptions need none.
type clientFrame struct {
	Op     string `json:"op"` // subscribe | unsubscribe | ping
	ID     string `json:"id"`
	Topic  string `json:"topic,omitempty"`  // conversation | post-likes | notifications
	Target string `json:"target,omitempty"` // uuid for conversation and post-likes
}

// serverFrame is what the server sends back. Exactly one of OK, Error
// or Event is meaningful per frame; ID echoes the client's
// subscription id so frames from different subscriptions can share the
// socket without ambiguity.
type serverFrame struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// streamConn multiplexes every subscription of one websocket client.
// A single writer goroutine owns the socket; everything else hands
// frames to it through send.
type streamConn struct {
	s      server
	conn   *websocket.Conn
	userID uuid.UUID

	ctx    context.Context
	cancel context.CancelFunc

	send    chan serverFrame
	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[string]*streamSub
	wg   sync.WaitGroup
}

type streamSub struct {
	id     string
	target uuid.UUID // conversation, post or user id the topic was authorized for
	sub    *realtime.Subscription
	cancel context.CancelFunc
}

// handleStream upgrades to a websocket and serves the multiplexed
// event stream. Auth happens once at open; browsers cannot set headers
// on websocket dials, so a ?token= query parameter is accepted too.
func (s server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	userID, err := s.resolveSession(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth lookup failed"})
		return
	}
	if userID == uuid.Nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logError(r.Context(), "websocket upgrade failed", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &streamConn{
		s:      s,
		conn:   conn,
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan serverFrame, wsSendBufferSize),
		// Inbound control frames are cheap to send and can hammer the
		// authorizer; 10/s with a small burst is plenty for a UI.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		subs:    make(map[string]*streamSub),
	}

	go sc.writeLoop()
	sc.readLoop()

	// Socket is gone. Tear down every subscription with it.
	cancel()
	sc.closeAllSubs()
	sc.wg.Wait()
}

func (sc *streamConn) readLoop() {
	defer sc.conn.Close()

	sc.conn.SetReadLimit(wsMaxFrameSize)
	_ = sc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	sc.conn.SetPongHandler(func(string) error {
		return sc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame clientFrame
		if err := sc.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logErrorNoCtx("websocket read failed", err)
			}
			return
		}
		if !sc.limiter.Allow() {
			sc.reply(serverFrame{ID: frame.ID, Error: "too many requests"})
			continue
		}
		sc.dispatch(frame)
	}
}

func (sc *streamConn) dispatch(frame clientFrame) {
	switch frame.Op {
	case "subscribe":
		sc.handleSubscribe(frame)
	case "unsubscribe":
		sc.handleUnsubscribe(frame)
	case "ping":
		sc.reply(serverFrame{ID: frame.ID, Event: "pong"})
	default:
		sc.reply(serverFrame{ID: frame.ID, Error: "unknown op"})
	}
}

func (sc *streamConn) handleSubscribe(frame clientFrame) {
	if frame.ID == "" {
		sc.reply(serverFrame{Error: "subscription id required"})
		return
	}

	sc.mu.Lock()
	if _, exists := sc.subs[frame.ID]; exists {
		sc.mu.Unlock()
		sc.reply(serverFrame{ID: frame.ID, Error: "subscription id in use"})
		return
	}
	if len(sc.subs) >= sc.s.streamMaxSubscriptions {
		sc.mu.Unlock()
		sc.reply(serverFrame{ID: frame.ID, Error: "too many subscriptions"})
		return
	}
	sc.mu.Unlock()

	authCtx, cancelAuth := context.WithTimeout(sc.ctx, 10*time.Second)
	topic, target, err := sc.authorizeTopic(authCtx, frame)
	cancelAuth()
	if err != nil {
		sc.reply(serverFrame{ID: frame.ID, Error: err.Error()})
		return
	}

	subCtx, cancelSub := context.WithCancel(sc.ctx)
	ss := &streamSub{
		id:     frame.ID,
		target: target,
		sub:    sc.s.br.Subscribe(topic),
		cancel: cancelSub,
	}

	sc.mu.Lock()
	// Re-check: a racing subscribe may have claimed the id while we
	// were authorizing.
	if _, exists := sc.subs[frame.ID]; exists {
		sc.mu.Unlock()
		cancelSub()
		ss.sub.Close()
		sc.reply(serverFrame{ID: frame.ID, Error: "subscription id in use"})
		return
	}
	sc.subs[frame.ID] = ss
	sc.mu.Unlock()

	sc.reply(serverFrame{ID: frame.ID, OK: true})

	sc.wg.Add(1)
	go sc.runSub(subCtx, ss, frame)
}

// runSub owns one subscription: it sends the synthetic initial state,
// then forwards broker events until the subscription or the connection
// goes away. The broker listener was registered before the state reads
// below, so nothing published in between is lost.
func (sc *streamConn) runSub(ctx context.Context, ss *streamSub, frame clientFrame) {
	defer sc.wg.Done()
	defer ss.sub.Close()

	switch frame.Topic {
	case "post-likes":
		stateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		var count int
		err := sc.s.db.QueryRow(stateCtx, `select count(*) from likes where post_id = $1`, ss.target).Scan(&count)
		cancel()
		if err != nil {
			logErrorNoCtx("initial like count failed on "+ss.sub.Topic(), err)
			sc.dropSub(ss, "initial state failed")
			return
		}
		sc.reply(serverFrame{ID: ss.id, Event: eventLikeCountUpdate, Data: likeCountEventDTO{PostID: ss.target.String(), LikeCount: count}})
	case "notifications":
		stateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		count, err := sc.s.unreadNotificationCount(stateCtx, sc.userID)
		cancel()
		if err != nil {
			logErrorNoCtx("initial unread count failed on "+ss.sub.Topic(), err)
			sc.dropSub(ss, "initial state failed")
			return
		}
		sc.reply(serverFrame{ID: ss.id, Event: eventNotificationState, Data: notificationStateDTO{UnreadCount: count}})
	}

	actor := sc.userID.String()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ss.sub.Events():
			if !ok {
				return
			}
			if !shouldForward(frame.Topic, ev, actor) {
				continue
			}
			sc.reply(serverFrame{ID: ss.id, Event: ev.Kind, Data: ev.Data})
		}
	}
}

// shouldForward decides whether a broker event reaches a subscriber.
// A sender already sees its own messages and typing locally, so its
// own conversation events are not echoed back. Like counts and
// notification state stay convergent only if everyone gets them, self
// included.
func shouldForward(frameTopic string, ev realtime.Event, subscriber string) bool {
	if frameTopic == "conversation" && ev.Actor == subscriber {
		return false
	}
	return true
}

// authorizeTopic validates the frame and returns the broker topic plus
// the entity id it was authorized for, so later reads never have to
// re-parse client input.
func (sc *streamConn) authorizeTopic(ctx context.Context, frame clientFrame) (string, uuid.UUID, error) {
	switch frame.Topic {
	case "conversation":
		convID, err := uuid.Parse(frame.Target)
		if err != nil {
			return "", uuid.Nil, errors.New("invalid target")
		}
		isMember, err := sc.s.isConversationMember(ctx, convID, sc.userID)
		if err != nil {
			logErrorNoCtx("membership check failed", err)
			return "", uuid.Nil, errors.New("authorization failed")
		}
		if !isMember {
			return "", uuid.Nil, errors.New("not a member")
		}
		return realtime.ConversationTopic(convID), convID, nil
	case "post-likes":
		postID, err := uuid.Parse(frame.Target)
		if err != nil {
			return "", uuid.Nil, errors.New("invalid target")
		}
		var exists bool
		if err := sc.s.db.QueryRow(ctx, `select exists(select 1 from posts where id = $1)`, postID).Scan(&exists); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			logErrorNoCtx("post lookup failed", err)
			return "", uuid.Nil, errors.New("authorization failed")
		}
		if !exists {
			return "", uuid.Nil, errors.New("post not found")
		}
		return realtime.PostLikesTopic(postID), postID, nil
	case "notifications":
		// Always the caller's own feed; no target to authorize.
		return realtime.UserNotificationsTopic(sc.userID), sc.userID, nil
	default:
		return "", uuid.Nil, errors.New("unknown topic")
	}
}

func (sc *streamConn) handleUnsubscribe(frame clientFrame) {
	sc.mu.Lock()
	ss, ok := sc.subs[frame.ID]
	if ok {
		delete(sc.subs, frame.ID)
	}
	sc.mu.Unlock()

	// Unsubscribing an unknown id still acks; the end state is the
	// same either way.
	if ok {
		ss.cancel()
		ss.sub.Close()
	}
	sc.reply(serverFrame{ID: frame.ID, OK: true})
}

func (sc *streamConn) dropSub(ss *streamSub, reason string) {
	sc.mu.Lock()
	delete(sc.subs, ss.id)
	sc.mu.Unlock()
	ss.cancel()
	sc.reply(serverFrame{ID: ss.id, Error: reason})
}

func (sc *streamConn) closeAllSubs() {
	sc.mu.Lock()
	subs := make([]*streamSub, 0, len(sc.subs))
	for _, ss := range sc.subs {
		subs = append(subs, ss)
	}
	sc.subs = make(map[string]*streamSub)
	sc.mu.Unlock()

	for _, ss := range subs {
		ss.cancel()
		ss.sub.Close()
	}
}

// reply queues a frame for the writer goroutine. A client too slow to
// drain its buffer loses the connection rather than stalling
// publishers.
func (sc *streamConn) reply(frame serverFrame) {
	select {
	case sc.send <- frame:
	case <-sc.ctx.Done():
	default:
		sc.cancel()
		_ = sc.conn.Close()
	}
}

// writeLoop is the only goroutine allowed to write the socket.
func (sc *streamConn) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	defer sc.conn.Close()

	for {
		select {
		case <-sc.ctx.Done():
			_ = sc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = sc.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-sc.send:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			payload, err := json.Marshal(frame)
			if err != nil {
				logErrorNoCtx("marshal frame failed", err)
				continue
			}
			if err := sc.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
