package database

import (
	"context"
	"time"

	"github.com/npezzotti/portal-chat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) GetChatRoom(ctx context.Context, roomId string) (types.ChatRoom, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.ChatRoom), args.Error(1)
}
func (m *MockChatRepository) GetRoomCredential(ctx context.Context, credentialId string) (types.RoomCredential, error) {
	args := m.Called(ctx, credentialId)
	return args.Get(0).(types.RoomCredential), args.Error(1)
}
func (m *MockChatRepository) GetRoomCredentialByUsername(ctx context.Context, roomId, username string) (types.RoomCredential, error) {
	args := m.Called(ctx, roomId, username)
	return args.Get(0).(types.RoomCredential), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, CreateMessageParams) types.Message); ok {
		return fn(ctx, params), args.Error(1)
	}
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, roomId string, before time.Time, limit int) ([]types.Message, error) {
	args := m.Called(ctx, roomId, before, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ActivateBan(ctx context.Context, params ActivateBanParams) (types.Ban, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Ban), args.Error(1)
}
func (m *MockChatRepository) DeactivateBan(ctx context.Context, userId string) (types.Ban, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.Ban), args.Error(1)
}
func (m *MockChatRepository) GetActiveBan(ctx context.Context, userId string) (types.Ban, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.Ban), args.Error(1)
}
func (m *MockChatRepository) ListActiveBans(ctx context.Context) ([]types.Ban, error) {
	args := m.Called(ctx)
	if bans, ok := args.Get(0).([]types.Ban); ok {
		return bans, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetSetting(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}
func (m *MockChatRepository) CanModerate(ctx context.Context, userId string) (bool, error) {
	args := m.Called(ctx, userId)
	return args.Bool(0), args.Error(1)
}
