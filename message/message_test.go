package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{Content: "third", Timestamp: base.Add(2 * time.Second)},
		{Content: "first", Timestamp: base},
		{Content: "second", Timestamp: base.Add(time.Second)},
	}

	SortByTimestamp(msgs)

	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
}

func TestSortByTimestamp_StableOnEqualTimestamps(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{Content: "a", Timestamp: ts},
		{Content: "b", Timestamp: ts},
		{Content: "c", Timestamp: ts},
	}

	SortByTimestamp(msgs)

	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)
	assert.Equal(t, "c", msgs[2].Content)
}

func TestConstructors(t *testing.T) {
	u := NewUserMessage("hi")
	assert.Equal(t, RoleUser, u.Role)
	assert.False(t, u.Timestamp.IsZero())

	tm := NewToolMessage("call-1", "result")
	assert.Equal(t, RoleTool, tm.Role)
	assert.Equal(t, "call-1", tm.ToolCallID)
}
