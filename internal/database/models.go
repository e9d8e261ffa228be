package database

import "time"

const (
	SettingRateLimitPerMinute = "chat.rate_limit_per_minute"

	ModerateChatPermission = "canModerateChat"
)

type CreateMessageParams struct {
	Id          string
	RoomId      string
	SenderId    string
	SenderName  string
	DisplayName string
	Content     string
	CreatedAt   time.Time
}

type ActivateBanParams struct {
	UserId         string
	UserName       string
	Reason         *string
	BannedByUserId string
	BannedByName   string
}
