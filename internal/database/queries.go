package database

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/portal-chat/internal/types"
)

const banColumns = "id, user_id, user_name, reason, banned_by_user_id, banned_by_name, active, created_at, lifted_at"

func (db *PgChatRepository) GetChatRoom(ctx context.Context, roomId string) (types.ChatRoom, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, active FROM chat_rooms "+
			"WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room types.ChatRoom
	if err := row.Scan(&room.Id, &room.Name, &room.Active); err != nil {
		return types.ChatRoom{}, storeErr("get chat room", err)
	}

	return room, nil
}

func (db *PgChatRepository) GetRoomCredential(ctx context.Context, credentialId string) (types.RoomCredential, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, room_id, username, display_name, password_hash, active FROM room_credentials "+
			"WHERE id = $1 LIMIT 1",
		credentialId,
	)

	return scanCredential(row, "get room credential")
}

func (db *PgChatRepository) GetRoomCredentialByUsername(ctx context.Context, roomId, username string) (types.RoomCredential, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, room_id, username, display_name, password_hash, active FROM room_credentials "+
			"WHERE room_id = $1 AND username = $2 LIMIT 1",
		roomId,
		username,
	)

	return scanCredential(row, "get room credential by username")
}

func scanCredential(row *sql.Row, op string) (types.RoomCredential, error) {
	var c types.RoomCredential
	err := row.Scan(
		&c.Id,
		&c.RoomId,
		&c.Username,
		&c.DisplayName,
		&c.PasswordHash,
		&c.Active,
	)
	if err != nil {
		return types.RoomCredential{}, storeErr(op, err)
	}

	return c, nil
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO chat_messages (id, room_id, sender_id, sender_name, display_name, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, COALESCE(room_id, ''), sender_id, sender_name, display_name, content, created_at",
		params.Id,
		nullString(params.RoomId),
		params.SenderId,
		params.SenderName,
		params.DisplayName,
		params.Content,
		params.CreatedAt.UTC(),
	)

	var msg types.Message
	if err := scanMessage(row, &msg); err != nil {
		return types.Message{}, storeErr("create message", err)
	}

	return msg, nil
}

// ListMessages returns up to limit messages of a room created before the
// given time, oldest first. An empty roomId selects the global room.
func (db *PgChatRepository) ListMessages(ctx context.Context, roomId string, before time.Time, limit int) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, COALESCE(room_id, ''), sender_id, sender_name, display_name, content, created_at "+
			"FROM chat_messages "+
			"WHERE room_id IS NOT DISTINCT FROM $1 AND created_at < $2 "+
			"ORDER BY created_at DESC LIMIT $3",
		nullString(roomId),
		before.UTC(),
		limit,
	)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, storeErr("scan message", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("list messages", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner, msg *types.Message) error {
	return s.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.DisplayName,
		&msg.Content,
		&msg.CreatedAt,
	)
}

func scanBan(s scanner) (types.Ban, error) {
	var (
		ban      types.Ban
		reason   sql.NullString
		liftedAt sql.NullTime
	)

	err := s.Scan(
		&ban.Id,
		&ban.UserId,
		&ban.UserName,
		&reason,
		&ban.BannedByUserId,
		&ban.BannedByName,
		&ban.Active,
		&ban.CreatedAt,
		&liftedAt,
	)
	if err != nil {
		return types.Ban{}, err
	}

	if reason.Valid {
		ban.Reason = &reason.String
	}
	if liftedAt.Valid {
		ban.LiftedAt = &liftedAt.Time
	}

	return ban, nil
}

// ActivateBan makes params.UserId banned. An already active ban is updated
// in place, otherwise a new record is created, so there is never more than
// one active ban per user.
func (db *PgChatRepository) ActivateBan(ctx context.Context, params ActivateBanParams) (types.Ban, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Ban{}, storeErr("begin activate ban", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var existingId int
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM chat_bans WHERE user_id = $1 AND active FOR UPDATE",
		params.UserId,
	).Scan(&existingId)

	var row *sql.Row
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row = tx.QueryRowContext(ctx,
			"INSERT INTO chat_bans (user_id, user_name, reason, banned_by_user_id, banned_by_name, active, created_at) "+
				"VALUES ($1, $2, $3, $4, $5, TRUE, $6) RETURNING "+banColumns,
			params.UserId,
			params.UserName,
			params.Reason,
			params.BannedByUserId,
			params.BannedByName,
			time.Now().UTC(),
		)
	case err != nil:
		return types.Ban{}, storeErr("find active ban", err)
	default:
		row = tx.QueryRowContext(ctx,
			"UPDATE chat_bans SET user_name = $2, reason = $3, banned_by_user_id = $4, banned_by_name = $5, created_at = $6 "+
				"WHERE id = $1 RETURNING "+banColumns,
			existingId,
			params.UserName,
			params.Reason,
			params.BannedByUserId,
			params.BannedByName,
			time.Now().UTC(),
		)
	}

	ban, err := scanBan(row)
	if err != nil {
		return types.Ban{}, storeErr("activate ban", err)
	}

	if err = tx.Commit(); err != nil {
		return types.Ban{}, storeErr("commit activate ban", err)
	}

	return ban, nil
}

func (db *PgChatRepository) DeactivateBan(ctx context.Context, userId string) (types.Ban, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE chat_bans SET active = FALSE, lifted_at = $2 "+
			"WHERE user_id = $1 AND active RETURNING "+banColumns,
		userId,
		time.Now().UTC(),
	)

	ban, err := scanBan(row)
	if err != nil {
		return types.Ban{}, storeErr("deactivate ban", err)
	}

	return ban, nil
}

func (db *PgChatRepository) GetActiveBan(ctx context.Context, userId string) (types.Ban, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+banColumns+" FROM chat_bans WHERE user_id = $1 AND active LIMIT 1",
		userId,
	)

	ban, err := scanBan(row)
	if err != nil {
		return types.Ban{}, storeErr("get active ban", err)
	}

	return ban, nil
}

func (db *PgChatRepository) ListActiveBans(ctx context.Context) ([]types.Ban, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+banColumns+" FROM chat_bans WHERE active ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, storeErr("list active bans", err)
	}
	defer rows.Close()

	bans := []types.Ban{}
	for rows.Next() {
		ban, err := scanBan(rows)
		if err != nil {
			return nil, storeErr("scan ban", err)
		}
		bans = append(bans, ban)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("list active bans", err)
	}

	return bans, nil
}

func (db *PgChatRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = $1",
		key,
	).Scan(&value)
	if err != nil {
		return "", storeErr("get setting", err)
	}

	return value, nil
}

// CanModerate reports whether the portal user holds the chat moderation
// permission. Unknown users cannot moderate.
func (db *PgChatRepository) CanModerate(ctx context.Context, userId string) (bool, error) {
	var permissions []string
	err := db.conn.QueryRowContext(ctx,
		"SELECT permissions FROM portal_users WHERE id = $1",
		userId,
	).Scan(pq.Array(&permissions))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("get permissions", err)
	}

	return slices.Contains(permissions, ModerateChatPermission), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
