package types

const (
	EventMessage = "message"
	EventBan     = "ban"
	EventUnban   = "unban"
	EventSystem  = "system"
)

// ChatEvent is the unit of broadcast. Exactly one payload field is set,
// according to Type.
type ChatEvent struct {
	Type    string     `json:"type"`
	Message any        `json:"message,omitempty"`
	Ban     *BanNotice `json:"ban,omitempty"`
	UserId  string     `json:"userId,omitempty"`
}

type BanNotice struct {
	UserId string  `json:"userId"`
	Reason *string `json:"reason"`
}

func NewMessageEvent(msg any) *ChatEvent {
	return &ChatEvent{Type: EventMessage, Message: msg}
}

func NewBanEvent(userId string, reason *string) *ChatEvent {
	return &ChatEvent{Type: EventBan, Ban: &BanNotice{UserId: userId, Reason: reason}}
}

func NewUnbanEvent(userId string) *ChatEvent {
	return &ChatEvent{Type: EventUnban, UserId: userId}
}

func NewSystemEvent(text string) *ChatEvent {
	return &ChatEvent{Type: EventSystem, Message: text}
}
