package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/portal-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_storeErr(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "no rows", err: sql.ErrNoRows, expected: types.ErrNotFound},
		{name: "other", err: errors.New("connection reset"), expected: types.ErrStore},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := storeErr("op", tc.err)
			assert.ErrorIs(t, err, tc.expected)
			assert.Contains(t, err.Error(), "op")
		})
	}
}

func Test_nullString(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.Equal(t, sql.NullString{String: "r1", Valid: true}, nullString("r1"))
}

// newTestRepository connects to the database in TEST_DATABASE_DSN and
// applies migrations. Tests are skipped when it is not set.
func newTestRepository(t *testing.T) *PgChatRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	repo, err := NewPgChatRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.Migrate())
	require.NoError(t, repo.Migrate(), "second migrate should be a no-op")

	return repo
}

func TestPgChatRepository_Bans(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userId := "user-" + uuid.NewString()

	_, err := repo.GetActiveBan(ctx, userId)
	assert.ErrorIs(t, err, types.ErrNotFound)

	reason := "spam"
	first, err := repo.ActivateBan(ctx, ActivateBanParams{
		UserId:         userId,
		UserName:       "Spammer",
		Reason:         &reason,
		BannedByUserId: "mod-1",
		BannedByName:   "Mod",
	})
	require.NoError(t, err)
	assert.True(t, first.Active)
	require.NotNil(t, first.Reason)
	assert.Equal(t, "spam", *first.Reason)

	second, err := repo.ActivateBan(ctx, ActivateBanParams{UserId: userId, UserName: "Spammer", BannedByUserId: "mod-2", BannedByName: "Other"})
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id, "re-banning should update the active record")
	assert.Nil(t, second.Reason)

	lifted, err := repo.DeactivateBan(ctx, userId)
	require.NoError(t, err)
	assert.False(t, lifted.Active)
	assert.NotNil(t, lifted.LiftedAt)

	_, err = repo.DeactivateBan(ctx, userId)
	assert.ErrorIs(t, err, types.ErrNotFound)

	third, err := repo.ActivateBan(ctx, ActivateBanParams{UserId: userId, UserName: "Spammer", BannedByUserId: "mod-1", BannedByName: "Mod"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, third.Id, "banning after a lift should create a new record")
}

func TestPgChatRepository_Messages(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := range 3 {
		msg, err := repo.CreateMessage(ctx, CreateMessageParams{
			Id:         uuid.NewString(),
			SenderId:   "u1",
			SenderName: "User One",
			Content:    "hello",
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.Empty(t, msg.RoomId, "global messages have no room")
		ids = append(ids, msg.Id)
	}

	msgs, err := repo.ListMessages(ctx, "", now.Add(time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ids[1], msgs[0].Id, "expected oldest first")
	assert.Equal(t, ids[2], msgs[1].Id)
}

func TestPgChatRepository_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.GetChatRoom(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = repo.GetRoomCredential(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = repo.GetSetting(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, types.ErrNotFound)

	ok, err := repo.CanModerate(ctx, "missing-"+uuid.NewString())
	assert.NoError(t, err)
	assert.False(t, ok)
}
