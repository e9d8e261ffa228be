package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/portal-chat/internal/moderation"
	"github.com/npezzotti/portal-chat/internal/types"
)

// Actor is the authenticated portal user performing a moderation action.
type Actor struct {
	Id   string
	Name string
}

type BanRequest struct {
	UserId   string  `json:"userId"`
	UserName string  `json:"userName"`
	Reason   *string `json:"reason"`
}

// authorize fails with types.ErrPermissionDenied unless actor holds the
// moderation capability.
func (g *Gateway) authorize(ctx context.Context, actor Actor) error {
	if actor.Id == "" {
		return fmt.Errorf("%w: no actor", types.ErrUnauthorized)
	}

	ok, err := g.store.CanModerate(ctx, actor.Id)
	if err != nil {
		return fmt.Errorf("check moderation capability of %q: %w", actor.Id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %q cannot moderate chat", types.ErrPermissionDenied, actor.Id)
	}

	return nil
}

func (g *Gateway) Ban(ctx context.Context, actor Actor, req BanRequest) (*types.Ban, error) {
	if err := g.authorize(ctx, actor); err != nil {
		return nil, err
	}

	userId := strings.TrimSpace(req.UserId)
	if userId == "" {
		return nil, fmt.Errorf("%w: userId is required", types.ErrValidation)
	}
	if userId == actor.Id {
		return nil, fmt.Errorf("%w: cannot ban yourself", types.ErrValidation)
	}

	userName := req.UserName
	if userName == "" {
		userName = userId
	}

	ban, err := g.bans.Ban(ctx, moderation.BanParams{
		UserId:         userId,
		UserName:       userName,
		Reason:         req.Reason,
		BannedByUserId: actor.Id,
		BannedByName:   actor.Name,
	})
	if err != nil {
		return nil, err
	}

	g.log.Printf("%q banned %q", actor.Id, userId)
	return ban, nil
}

func (g *Gateway) Unban(ctx context.Context, actor Actor, userId string) (*types.Ban, error) {
	if err := g.authorize(ctx, actor); err != nil {
		return nil, err
	}

	ban, err := g.bans.Unban(ctx, userId)
	if err != nil {
		return nil, err
	}

	g.log.Printf("%q lifted ban on %q", actor.Id, userId)
	return ban, nil
}

func (g *Gateway) ListBans(ctx context.Context, actor Actor) ([]types.Ban, error) {
	if err := g.authorize(ctx, actor); err != nil {
		return nil, err
	}

	bans, err := g.bans.List(ctx)
	if err != nil {
		return nil, err
	}
	if bans == nil {
		bans = []types.Ban{}
	}
	return bans, nil
}

// Notice broadcasts a system message to the global room.
func (g *Gateway) Notice(ctx context.Context, actor Actor, text string) error {
	if err := g.authorize(ctx, actor); err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if err := validateContent(text); err != nil {
		return errors.Join(types.ErrValidation, err)
	}

	return g.publisher.Publish(types.GlobalScope, types.NewSystemEvent(text))
}
