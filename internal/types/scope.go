package types

// Scope partitions connections. The zero value is the global room, which
// never equals a named room since room ids are non-empty.
type Scope struct {
	RoomId string
}

var GlobalScope = Scope{}

func RoomScope(roomId string) Scope {
	return Scope{RoomId: roomId}
}

func (s Scope) IsGlobal() bool {
	return s.RoomId == ""
}

func (s Scope) Key() string {
	if s.IsGlobal() {
		return "global"
	}
	return "room:" + s.RoomId
}

func (s Scope) String() string {
	return s.Key()
}
