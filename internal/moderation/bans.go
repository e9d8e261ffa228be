// Package moderation enforces the chat ban list.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/npezzotti/portal-chat/internal/database"
	"github.com/npezzotti/portal-chat/internal/stats"
	"github.com/npezzotti/portal-chat/internal/types"
)

type Publisher interface {
	Publish(scope types.Scope, event *types.ChatEvent) error
}

type ConnectionCloser interface {
	CloseIdentity(identity string) int
}

type BanParams struct {
	UserId         string
	UserName       string
	Reason         *string
	BannedByUserId string
	BannedByName   string
}

// BanRegistry answers "is this user banned" from the durable store, with an
// optional short-lived cache, and applies bans and unbans. Bans are global:
// they are announced to the global room and close every open stream of the
// banned user.
type BanRegistry struct {
	log       *log.Logger
	store     database.BanStore
	publisher Publisher
	closer    ConnectionCloser
	stats     stats.StatsProvider
	cache     *banCache
}

// NewBanRegistry returns a registry over store. A cacheTTL of zero disables
// caching. closer may be nil.
func NewBanRegistry(logger *log.Logger, store database.BanStore, publisher Publisher, closer ConnectionCloser, st stats.StatsProvider, cacheTTL time.Duration) *BanRegistry {
	return &BanRegistry{
		log:       logger,
		store:     store,
		publisher: publisher,
		closer:    closer,
		stats:     st,
		cache:     newBanCache(cacheTTL),
	}
}

func (r *BanRegistry) IsActive(ctx context.Context, userId string) (bool, error) {
	var gen uint64
	if r.cache.enabled() {
		active, ok, g := r.cache.get(userId)
		if ok {
			return active, nil
		}
		gen = g
	}

	active := true
	if _, err := r.store.GetActiveBan(ctx, userId); err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return false, fmt.Errorf("ban lookup: %w", err)
		}
		active = false
	}

	if r.cache.enabled() {
		r.cache.set(userId, active, gen)
	}

	return active, nil
}

// Ban creates or refreshes the active ban for params.UserId.
func (r *BanRegistry) Ban(ctx context.Context, params BanParams) (*types.Ban, error) {
	if strings.TrimSpace(params.UserId) == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	if params.Reason != nil && strings.TrimSpace(*params.Reason) == "" {
		params.Reason = nil
	}

	ban, err := r.store.ActivateBan(ctx, database.ActivateBanParams{
		UserId:         params.UserId,
		UserName:       params.UserName,
		Reason:         params.Reason,
		BannedByUserId: params.BannedByUserId,
		BannedByName:   params.BannedByName,
	})
	if err != nil {
		return nil, fmt.Errorf("ban %q: %w", params.UserId, err)
	}
	r.cache.invalidate(params.UserId)
	r.stats.Incr(stats.BansIssued)

	if err := r.publisher.Publish(types.GlobalScope, types.NewBanEvent(ban.UserId, ban.Reason)); err != nil {
		r.log.Printf("publish ban of %q: %v", ban.UserId, err)
	}

	if r.closer != nil {
		if n := r.closer.CloseIdentity(ban.UserId); n > 0 {
			r.log.Printf("closed %d connection(s) of banned user %q", n, ban.UserId)
		}
	}

	return &ban, nil
}

// Unban lifts the active ban for userId. It fails with types.ErrNotFound
// when the user is not banned.
func (r *BanRegistry) Unban(ctx context.Context, userId string) (*types.Ban, error) {
	ban, err := r.store.DeactivateBan(ctx, userId)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("no active ban for %q: %w", userId, types.ErrNotFound)
		}
		return nil, fmt.Errorf("unban %q: %w", userId, err)
	}
	r.cache.invalidate(userId)
	r.stats.Incr(stats.BansLifted)

	if err := r.publisher.Publish(types.GlobalScope, types.NewUnbanEvent(userId)); err != nil {
		r.log.Printf("publish unban of %q: %v", userId, err)
	}

	return &ban, nil
}

func (r *BanRegistry) List(ctx context.Context) ([]types.Ban, error) {
	bans, err := r.store.ListActiveBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	return bans, nil
}

// Run evicts expired cache entries until ctx is cancelled. It returns at
// once when caching is disabled.
func (r *BanRegistry) Run(ctx context.Context) {
	if !r.cache.enabled() {
		return
	}

	ticker := time.NewTicker(r.cache.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.evictExpired()
		}
	}
}
