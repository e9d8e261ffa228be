// Package gateway accepts chat posts and moderation actions and runs them
// through rate limiting, ban enforcement, persistence and broadcast.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/npezzotti/portal-chat/internal/database"
	"github.com/npezzotti/portal-chat/internal/moderation"
	"github.com/npezzotti/portal-chat/internal/ratelimit"
	"github.com/npezzotti/portal-chat/internal/stats"
	"github.com/npezzotti/portal-chat/internal/types"
)

const (
	MaxContentLength = 2000

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type RateLimiter interface {
	TryConsume(sender string, limitPerMinute int) ratelimit.Result
	RetryAfter(sender string) time.Duration
}

type BanRegistry interface {
	IsActive(ctx context.Context, userId string) (bool, error)
	Ban(ctx context.Context, params moderation.BanParams) (*types.Ban, error)
	Unban(ctx context.Context, userId string) (*types.Ban, error)
	List(ctx context.Context) ([]types.Ban, error)
}

type SessionVerifier interface {
	Verify(ctx context.Context, token, expectedRoomId string) (*types.RoomSession, error)
}

type Publisher interface {
	Publish(scope types.Scope, event *types.ChatEvent) error
}

type Store interface {
	database.MessageStore
	database.SettingsStore
	database.CapabilityStore
}

type Options struct {
	Logger           *log.Logger
	Store            Store
	Limiter          RateLimiter
	Bans             BanRegistry
	Sessions         SessionVerifier
	Publisher        Publisher
	Stats            stats.StatsProvider
	DefaultRateLimit int
}

type Gateway struct {
	log          *log.Logger
	store        Store
	limiter      RateLimiter
	bans         BanRegistry
	sessions     SessionVerifier
	publisher    Publisher
	stats        stats.StatsProvider
	defaultLimit int
	now          func() time.Time
}

func New(opts Options) *Gateway {
	return &Gateway{
		log:          opts.Logger,
		store:        opts.Store,
		limiter:      opts.Limiter,
		bans:         opts.Bans,
		sessions:     opts.Sessions,
		publisher:    opts.Publisher,
		stats:        opts.Stats,
		defaultLimit: opts.DefaultRateLimit,
		now:          time.Now,
	}
}

type PostRequest struct {
	Scope   types.Scope
	Sender  types.Sender
	Content string
}

type PostResult struct {
	Message   types.Message `json:"message"`
	Remaining int           `json:"remaining"`
}

// Post runs one chat post through the pipeline. Any failed check returns a
// *RejectedError and nothing is persisted or broadcast.
func (g *Gateway) Post(ctx context.Context, req PostRequest) (*PostResult, error) {
	res, err := g.post(ctx, req)
	if err != nil {
		g.stats.Incr(stats.PostsRejected)
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			g.log.Printf("post by %q to %s rejected after %s: %v", req.Sender.Id, req.Scope, rejected.Reached, err)
		}
		return nil, err
	}

	g.stats.Incr(stats.PostsAccepted)
	return res, nil
}

func (g *Gateway) post(ctx context.Context, req PostRequest) (*PostResult, error) {
	if req.Sender.Id == "" {
		return nil, reject(ReasonInvalidSession, StateReceived, errors.New("missing sender"))
	}

	content := strings.TrimSpace(req.Content)
	if err := validateContent(content); err != nil {
		return nil, reject(ReasonValidationFailed, StateReceived, err)
	}

	limit := g.rateLimit(ctx)
	quota := g.limiter.TryConsume(req.Sender.Id, limit)
	if !quota.Allowed {
		rejected := reject(ReasonRateLimited, StateReceived, fmt.Errorf("more than %d messages per minute", limit))
		rejected.RetryAfter = g.limiter.RetryAfter(req.Sender.Id)
		return nil, rejected
	}

	banned, err := g.bans.IsActive(ctx, req.Sender.Id)
	if err != nil {
		return nil, reject(ReasonStoreError, StateRateChecked, err)
	}
	if banned {
		return nil, reject(ReasonBanned, StateRateChecked, fmt.Errorf("sender %q is banned", req.Sender.Id))
	}

	msg, err := g.store.CreateMessage(ctx, database.CreateMessageParams{
		Id:          uuid.NewString(),
		RoomId:      req.Scope.RoomId,
		SenderId:    req.Sender.Id,
		SenderName:  req.Sender.Name,
		DisplayName: req.Sender.DisplayName,
		Content:     content,
		CreatedAt:   g.now().UTC(),
	})
	if err != nil {
		return nil, reject(ReasonStoreError, StateBanChecked, err)
	}

	if err := g.publisher.Publish(req.Scope, types.NewMessageEvent(msg)); err != nil {
		g.log.Printf("publish message %q: %v", msg.Id, err)
	}

	return &PostResult{Message: msg, Remaining: quota.Remaining}, nil
}

// PostWithSession verifies a room session token for roomId and posts as the
// session's credential.
func (g *Gateway) PostWithSession(ctx context.Context, roomId, token, content string) (*PostResult, error) {
	sess, err := g.verifySession(ctx, roomId, token)
	if err != nil {
		g.stats.Incr(stats.PostsRejected)
		return nil, err
	}

	return g.Post(ctx, PostRequest{
		Scope:   types.RoomScope(sess.ChatroomId),
		Sender:  types.SenderFromSession(sess),
		Content: content,
	})
}

func (g *Gateway) verifySession(ctx context.Context, roomId, token string) (*types.RoomSession, error) {
	sess, err := g.sessions.Verify(ctx, token, roomId)
	if err != nil {
		if errors.Is(err, types.ErrStore) {
			return nil, reject(ReasonStoreError, StateReceived, err)
		}
		return nil, reject(ReasonInvalidSession, StateReceived, err)
	}
	return sess, nil
}

func validateContent(content string) error {
	if content == "" {
		return errors.New("message is empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("message longer than %d characters", MaxContentLength)
	}
	return nil
}

// rateLimit reads the per-minute limit from settings, falling back to the
// configured default when it is unset or unreadable.
func (g *Gateway) rateLimit(ctx context.Context) int {
	value, err := g.store.GetSetting(ctx, database.SettingRateLimitPerMinute)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			g.log.Printf("read rate limit setting: %v", err)
		}
		return g.defaultLimit
	}

	limit, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		g.log.Printf("invalid rate limit setting %q: %v", value, err)
		return g.defaultLimit
	}

	return limit
}

// History returns messages of scope created before before, oldest first.
func (g *Gateway) History(ctx context.Context, scope types.Scope, before time.Time, limit int) ([]types.Message, error) {
	if before.IsZero() {
		before = g.now()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	msgs, err := g.store.ListMessages(ctx, scope.RoomId, before, limit)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", scope, err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// HistoryWithSession is History for the room of a verified session.
func (g *Gateway) HistoryWithSession(ctx context.Context, roomId, token string, before time.Time, limit int) ([]types.Message, error) {
	sess, err := g.verifySession(ctx, roomId, token)
	if err != nil {
		return nil, err
	}
	return g.History(ctx, types.RoomScope(sess.ChatroomId), before, limit)
}

// Admit refuses a push connection for an identity under an active ban.
func (g *Gateway) Admit(ctx context.Context, identity string) error {
	banned, err := g.bans.IsActive(ctx, identity)
	if err != nil {
		return err
	}
	if banned {
		return fmt.Errorf("%w: %q is banned", types.ErrPermissionDenied, identity)
	}
	return nil
}
