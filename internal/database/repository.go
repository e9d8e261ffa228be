package database

import (
	"context"
	"time"

	"github.com/npezzotti/portal-chat/internal/types"
)

type RoomLookup interface {
	GetChatRoom(ctx context.Context, roomId string) (types.ChatRoom, error)
	GetRoomCredential(ctx context.Context, credentialId string) (types.RoomCredential, error)
	GetRoomCredentialByUsername(ctx context.Context, roomId, username string) (types.RoomCredential, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	ListMessages(ctx context.Context, roomId string, before time.Time, limit int) ([]types.Message, error)
}

type BanStore interface {
	ActivateBan(ctx context.Context, params ActivateBanParams) (types.Ban, error)
	DeactivateBan(ctx context.Context, userId string) (types.Ban, error)
	GetActiveBan(ctx context.Context, userId string) (types.Ban, error)
	ListActiveBans(ctx context.Context) ([]types.Ban, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

type CapabilityStore interface {
	CanModerate(ctx context.Context, userId string) (bool, error)
}

// ChatRepository is everything the chat service reads from and writes to
// the durable store. Lookups that find nothing return an error wrapping
// types.ErrNotFound; any other failure wraps types.ErrStore.
type ChatRepository interface {
	Ping(ctx context.Context) error
	RoomLookup
	MessageStore
	BanStore
	SettingsStore
	CapabilityStore
}
