package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatEvent_JSON(t *testing.T) {
	reason := "spam"

	tcases := []struct {
		name     string
		event    *ChatEvent
		expected string
	}{
		{
			name:     "message",
			event:    NewMessageEvent(map[string]string{"content": "hi"}),
			expected: `{"type":"message","message":{"content":"hi"}}`,
		},
		{
			name:     "ban with reason",
			event:    NewBanEvent("u1", &reason),
			expected: `{"type":"ban","ban":{"userId":"u1","reason":"spam"}}`,
		},
		{
			name:     "ban without reason",
			event:    NewBanEvent("u1", nil),
			expected: `{"type":"ban","ban":{"userId":"u1","reason":null}}`,
		},
		{
			name:     "unban",
			event:    NewUnbanEvent("u1"),
			expected: `{"type":"unban","userId":"u1"}`,
		},
		{
			name:     "system",
			event:    NewSystemEvent("maintenance at noon"),
			expected: `{"type":"system","message":"maintenance at noon"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(b))
		})
	}
}

func TestScope(t *testing.T) {
	assert.True(t, GlobalScope.IsGlobal())
	assert.Equal(t, "global", GlobalScope.Key())
	assert.Equal(t, "room:r1", RoomScope("r1").Key())
	assert.NotEqual(t, GlobalScope, RoomScope("global"), "global scope must differ from any named room")
	assert.Equal(t, RoomScope("r1"), RoomScope("r1"))
}
