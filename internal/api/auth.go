package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/portal-chat/internal/gateway"
	"github.com/npezzotti/portal-chat/internal/session"
	"github.com/npezzotti/portal-chat/internal/types"
)

const tokenCookieKey = "token"

type contextKey string

const (
	actorKey       contextKey = "actor"
	roomSessionKey contextKey = "room-session"
)

// PortalClaims are issued by the portal's identity provider. Subject holds
// the user id.
type PortalClaims struct {
	Name string `json:"name"`
	jwt.StandardClaims
}

func WithActor(ctx context.Context, actor gateway.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFrom(ctx context.Context) (gateway.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(gateway.Actor)
	return actor, ok && actor.Id != ""
}

func WithRoomSession(ctx context.Context, sess *types.RoomSession) context.Context {
	return context.WithValue(ctx, roomSessionKey, sess)
}

func RoomSessionFrom(ctx context.Context) (*types.RoomSession, bool) {
	sess, ok := ctx.Value(roomSessionKey).(*types.RoomSession)
	return sess, ok && sess != nil
}

func (s *ChatApp) extractActorFromToken(tokenString string) (gateway.Actor, error) {
	claims := &PortalClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.portalKey, nil
	})
	if err != nil {
		return gateway.Actor{}, fmt.Errorf("parse token: %w", err)
	}

	if claims.Subject == "" {
		return gateway.Actor{}, errors.New("missing sub claim")
	}

	return gateway.Actor{Id: claims.Subject, Name: claims.Name}, nil
}

// bearerOrCookie returns the token from an Authorization bearer header,
// falling back to the named cookie.
func bearerOrCookie(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *ChatApp) portalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerOrCookie(r, tokenCookieKey)
		if tokenString == "" {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		actor, err := s.extractActorFromToken(tokenString)
		if err != nil {
			s.log.Printf("failed to extract actor from token: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithActor(r.Context(), actor)))
	}
}

// roomAuth admits requests carrying a valid session for the {roomId} path
// value.
func (s *ChatApp) roomAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerOrCookie(r, session.CookieName)

		sess, err := s.sessions.Verify(r.Context(), tokenString, r.PathValue("roomId"))
		if err != nil {
			s.writeError(w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithRoomSession(r.Context(), sess)))
	}
}
