package types

import (
	"time"
)

type Message struct {
	Id          string    `json:"id"`
	RoomId      string    `json:"room_id,omitempty"`
	SenderId    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	DisplayName string    `json:"display_name,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

type Ban struct {
	Id             int        `json:"id"`
	UserId         string     `json:"user_id"`
	UserName       string     `json:"user_name"`
	Reason         *string    `json:"reason"`
	BannedByUserId string     `json:"banned_by_user_id"`
	BannedByName   string     `json:"banned_by_name"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	LiftedAt       *time.Time `json:"lifted_at,omitempty"`
}

type ChatRoom struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type RoomCredential struct {
	Id           string `json:"id"`
	RoomId       string `json:"room_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"active"`
}

// RoomSession is the identity asserted by a room session token. Its fields
// are only trusted after the room and credential have been re-checked.
type RoomSession struct {
	ChatroomId   string `json:"chatroomId"`
	CredentialId string `json:"credentialId"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
}

// Sender identifies the author of a chat post.
type Sender struct {
	Id          string
	Name        string
	DisplayName string
}

// SenderFromSession binds a room session to a sender. Credentials are
// namespaced so they never collide with portal user ids.
func SenderFromSession(s *RoomSession) Sender {
	return Sender{
		Id:          "credential:" + s.CredentialId,
		Name:        s.Username,
		DisplayName: s.DisplayName,
	}
}
