// Package session issues and verifies room-scoped chat sessions. A session
// token is a signed JWT naming a room and a room credential. The token only
// proves who issued it: every verification re-reads the room and the
// credential and rejects the session if either is gone or inactive.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/portal-chat/internal/database"
	"github.com/npezzotti/portal-chat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	CookieName = "chatroom_session"

	DefaultTTL = 12 * time.Hour
)

var (
	ErrInvalidSession     = fmt.Errorf("%w: invalid room session", types.ErrUnauthorized)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid room credentials", types.ErrUnauthorized)
)

type Claims struct {
	ChatroomId   string `json:"chatroomId"`
	CredentialId string `json:"credentialId"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	jwt.StandardClaims
}

type Verifier struct {
	log        *log.Logger
	rooms      database.RoomLookup
	signingKey []byte
	ttl        time.Duration
}

func NewVerifier(logger *log.Logger, rooms database.RoomLookup, signingKey []byte, ttl time.Duration) *Verifier {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &Verifier{
		log:        logger,
		rooms:      rooms,
		signingKey: signingKey,
		ttl:        ttl,
	}
}

func (v *Verifier) Issue(roomId, credentialId, username, displayName string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		ChatroomId:   roomId,
		CredentialId: credentialId,
		Username:     username,
		DisplayName:  displayName,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(v.ttl).Unix(),
		},
	})

	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	return signed, nil
}

func (v *Verifier) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// Verify decodes tokenString and checks it against live state. The session
// must name expectedRoomId, and both the room and the credential must exist
// and be active. Failures return ErrInvalidSession; store outages return an
// error wrapping types.ErrStore instead.
func (v *Verifier) Verify(ctx context.Context, tokenString, expectedRoomId string) (*types.RoomSession, error) {
	if tokenString == "" {
		return nil, ErrInvalidSession
	}

	claims, err := v.parse(tokenString)
	if err != nil {
		v.log.Printf("room session: %v", err)
		return nil, ErrInvalidSession
	}

	if claims.ChatroomId != expectedRoomId {
		return nil, fmt.Errorf("%w: issued for another room", ErrInvalidSession)
	}

	room, err := v.rooms.GetChatRoom(ctx, claims.ChatroomId)
	if err != nil {
		return nil, v.lookupErr("room", err)
	}
	if !room.Active {
		return nil, fmt.Errorf("%w: room inactive", ErrInvalidSession)
	}

	cred, err := v.rooms.GetRoomCredential(ctx, claims.CredentialId)
	if err != nil {
		return nil, v.lookupErr("credential", err)
	}
	if !cred.Active {
		return nil, fmt.Errorf("%w: credential inactive", ErrInvalidSession)
	}
	if cred.RoomId != claims.ChatroomId {
		return nil, fmt.Errorf("%w: credential belongs to another room", ErrInvalidSession)
	}

	return &types.RoomSession{
		ChatroomId:   room.Id,
		CredentialId: cred.Id,
		Username:     cred.Username,
		DisplayName:  cred.DisplayName,
	}, nil
}

func (v *Verifier) lookupErr(what string, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", ErrInvalidSession, what)
	}
	return fmt.Errorf("verify session %s: %w", what, err)
}

// Login checks a room credential's password and issues a session for it.
func (v *Verifier) Login(ctx context.Context, roomId, username, password string) (string, *types.RoomSession, error) {
	room, err := v.rooms.GetChatRoom(ctx, roomId)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("login room: %w", err)
	}
	if !room.Active {
		return "", nil, fmt.Errorf("room %q inactive: %w", roomId, types.ErrNotFound)
	}

	cred, err := v.rooms.GetRoomCredentialByUsername(ctx, roomId, username)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("login credential: %w", err)
	}

	if !cred.Active || !VerifyPassword(cred.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := v.Issue(room.Id, cred.Id, cred.Username, cred.DisplayName)
	if err != nil {
		return "", nil, err
	}

	return token, &types.RoomSession{
		ChatroomId:   room.Id,
		CredentialId: cred.Id,
		Username:     cred.Username,
		DisplayName:  cred.DisplayName,
	}, nil
}

func (v *Verifier) SessionCookie(token string) *http.Cookie {
	return newSessionCookie(token, time.Now().Add(v.ttl))
}

// Revoke returns a cookie that makes the client discard its session. There
// is no server-side session state to clear.
func (v *Verifier) Revoke() *http.Cookie {
	c := newSessionCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

func newSessionCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
