package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/portal-chat/internal/gateway"
	"github.com/npezzotti/portal-chat/internal/server"
	"github.com/npezzotti/portal-chat/internal/session"
	"github.com/npezzotti/portal-chat/internal/types"
)

const healthTimeout = 2 * time.Second

type PostMessageRequest struct {
	Content string `json:"content"`
}

type NoticeRequest struct {
	Message string `json:"message"`
}

type RoomLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := errorResponse(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("request failed: %v", err)
	}
	if errResp.RetryAfter > 0 {
		secs := int(math.Ceil(errResp.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Len(),
	})
}

func (s *ChatApp) globalStream(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.serveSSE(w, r, types.GlobalScope, actor.Id)
}

func (s *ChatApp) roomStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := RoomSessionFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.serveSSE(w, r, types.RoomScope(sess.ChatroomId), types.SenderFromSession(sess).Id)
}

func (s *ChatApp) globalWs(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.serveWs(w, r, types.GlobalScope, actor.Id)
}

func (s *ChatApp) roomWs(w http.ResponseWriter, r *http.Request) {
	sess, ok := RoomSessionFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.serveWs(w, r, types.RoomScope(sess.ChatroomId), types.SenderFromSession(sess).Id)
}

// serveSSE holds the request open as an event stream until the client goes
// away or the connection is closed server side.
func (s *ChatApp) serveSSE(w http.ResponseWriter, r *http.Request, scope types.Scope, identity string) {
	if err := s.gw.Admit(r.Context(), identity); err != nil {
		s.writeError(w, err)
		return
	}

	sink, err := server.NewSSESink(w)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	conn := s.registry.Register(scope, identity, sink)
	conn.Serve(r.Context())
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request, scope types.Scope, identity string) {
	if err := s.gw.Admit(r.Context(), identity); err != nil {
		s.writeError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	sink := server.NewWebSocketSink(ws, s.log, s.heartbeat)
	conn := s.registry.Register(scope, identity, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go sink.ReadPump(cancel)
	go conn.Serve(ctx)
}

func (s *ChatApp) globalHistory(w http.ResponseWriter, r *http.Request) {
	before, limit, err := historyParams(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msgs, err := s.gw.History(r.Context(), types.GlobalScope, before, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *ChatApp) roomHistory(w http.ResponseWriter, r *http.Request) {
	before, limit, err := historyParams(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	token := bearerOrCookie(r, session.CookieName)
	msgs, err := s.gw.HistoryWithSession(r.Context(), r.PathValue("roomId"), token, before, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func historyParams(r *http.Request) (time.Time, int, error) {
	var (
		before time.Time
		limit  int
		err    error
	)

	if v := r.URL.Query().Get("before"); v != "" {
		before, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return before, 0, err
		}
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			return before, 0, err
		}
	}

	return before, limit, nil
}

func (s *ChatApp) postGlobalMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	res, err := s.gw.Post(r.Context(), gateway.PostRequest{
		Scope:   types.GlobalScope,
		Sender:  types.Sender{Id: actor.Id, Name: actor.Name, DisplayName: actor.Name},
		Content: req.Content,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, res)
}

func (s *ChatApp) postRoomMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	token := bearerOrCookie(r, session.CookieName)
	res, err := s.gw.PostWithSession(r.Context(), r.PathValue("roomId"), token, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusCreated, res)
}

func (s *ChatApp) listBans(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	bans, err := s.gw.ListBans(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, bans)
}

func (s *ChatApp) createBan(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req gateway.BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	ban, err := s.gw.Ban(r.Context(), actor, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, ban)
}

func (s *ChatApp) liftBan(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	ban, err := s.gw.Unban(r.Context(), actor, r.PathValue("userId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, ban)
}

func (s *ChatApp) postNotice(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req NoticeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.gw.Notice(r.Context(), actor, req.Message); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *ChatApp) roomLogin(w http.ResponseWriter, r *http.Request) {
	var req RoomLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	token, sess, err := s.sessions.Login(r.Context(), r.PathValue("roomId"), req.Username, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, s.sessions.SessionCookie(token))
	s.writeJson(w, http.StatusOK, sess)
}

func (s *ChatApp) roomSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := RoomSessionFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.writeJson(w, http.StatusOK, sess)
}

func (s *ChatApp) roomLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, s.sessions.Revoke())
	w.WriteHeader(http.StatusNoContent)
}
