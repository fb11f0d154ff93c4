package topic

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/flume/event"
	"github.com/calyptra/flume/message"
)

var testEC = event.ExecutionContext{
	ConversationID: "conv-1",
	ExecutionID:    "exec-1",
	RequestID:      "req-1",
	UserID:         "user-1",
}

// sequentialIDs returns a generator producing id-1, id-2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func userData(content string) []message.Message {
	return []message.Message{{Role: message.RoleUser, Content: content, Timestamp: time.Now().UTC()}}
}

func TestTopic_PublishAssignsSequentialOffsets(t *testing.T) {
	tp := New("topic-a")
	ids := sequentialIDs()

	ev0 := tp.PublishData(testEC, "node", "generate", userData("first"), nil, ids)
	ev1 := tp.PublishData(testEC, "node", "generate", userData("second"), nil, ids)

	require.NotNil(t, ev0)
	require.NotNil(t, ev1)
	assert.Equal(t, int64(0), ev0.Offset)
	assert.Equal(t, int64(1), ev1.Offset)
	assert.Equal(t, "topic-a", ev0.TopicName)
}

func TestTopic_PublishRecordsBacklinks(t *testing.T) {
	tp := New("topic-a")
	consumed := []*event.ConsumeFromTopicEvent{
		{Base: event.Base{EventID: "c-1"}},
		{Base: event.Base{EventID: "c-2"}},
	}

	ev := tp.PublishData(testEC, "node", "generate", userData("out"), consumed, sequentialIDs())
	require.NotNil(t, ev)
	assert.Equal(t, []string{"c-1", "c-2"}, ev.ConsumedEventIDs)
}

func TestTopic_DefaultConditionDeclinesEmptyData(t *testing.T) {
	tp := New("topic-a")

	ev := tp.PublishData(testEC, "node", "generate", nil, nil, sequentialIDs())
	assert.Nil(t, ev)
	assert.Empty(t, tp.Events())
}

func TestTopic_CustomCondition(t *testing.T) {
	tp := New("topic-a", WithCondition(func(data []message.Message) bool {
		return len(data) > 0 && data[0].Content != "skip"
	}))
	ids := sequentialIDs()

	assert.Nil(t, tp.PublishData(testEC, "node", "generate", userData("skip"), nil, ids))
	assert.NotNil(t, tp.PublishData(testEC, "node", "generate", userData("keep"), nil, ids))
}

func TestTopic_ConsumeIsExactlyOncePerConsumer(t *testing.T) {
	tp := New("topic-a")
	ids := sequentialIDs()
	tp.PublishData(testEC, "node", "generate", userData("one"), nil, ids)
	tp.PublishData(testEC, "node", "generate", userData("two"), nil, ids)

	require.True(t, tp.CanConsume("reader"))
	got := tp.Consume("reader")
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Data[0].Content)
	assert.Equal(t, "two", got[1].Data[0].Content)

	// Second consume without an intervening publish yields nothing.
	assert.False(t, tp.CanConsume("reader"))
	assert.Empty(t, tp.Consume("reader"))

	// An independent consumer still sees everything.
	require.True(t, tp.CanConsume("other"))
	assert.Len(t, tp.Consume("other"), 2)
}

func TestTopic_ConsumeResumesAtCursor(t *testing.T) {
	tp := New("topic-a")
	ids := sequentialIDs()
	tp.PublishData(testEC, "node", "generate", userData("one"), nil, ids)
	tp.Consume("reader")

	tp.PublishData(testEC, "node", "generate", userData("two"), nil, ids)
	got := tp.Consume("reader")
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Data[0].Content)
}

func TestEntryTopic_AcceptsOnlyFirstPublish(t *testing.T) {
	tp := NewEntry()
	ids := sequentialIDs()

	first := tp.PublishData(testEC, "wf", "event_driven_workflow", userData("input"), nil, ids)
	require.NotNil(t, first)

	second := tp.PublishData(testEC, "wf", "event_driven_workflow", userData("again"), nil, ids)
	assert.Nil(t, second)
	assert.Len(t, tp.Events(), 1)
}

func TestTopic_PublishFiresHandlerExactlyOncePerEvent(t *testing.T) {
	tp := New("topic-a")
	var fired []int64
	tp.SetPublishHandler(func(ev *event.PublishToTopicEvent) {
		fired = append(fired, ev.Offset)
	})
	ids := sequentialIDs()

	tp.PublishData(testEC, "node", "generate", userData("one"), nil, ids)
	tp.PublishData(testEC, "node", "generate", nil, nil, ids) // declined
	tp.PublishData(testEC, "node", "generate", userData("two"), nil, ids)

	assert.Equal(t, []int64{0, 1}, fired)
}

func TestTopic_Reset(t *testing.T) {
	tp := New("topic-a")
	tp.PublishData(testEC, "node", "generate", userData("one"), nil, sequentialIDs())
	tp.Consume("reader")

	tp.Reset()
	assert.Empty(t, tp.Events())
	assert.False(t, tp.CanConsume("reader"))

	// After reset the topic starts at offset zero again.
	ev := tp.PublishData(testEC, "node", "generate", userData("fresh"), nil, sequentialIDs())
	require.NotNil(t, ev)
	assert.Equal(t, int64(0), ev.Offset)
}

func TestTopic_RestoreRebuildsSequenceAndCursors(t *testing.T) {
	tp := New("topic-a")
	var handlerFired bool
	tp.SetPublishHandler(func(*event.PublishToTopicEvent) { handlerFired = true })

	pub0 := &event.PublishToTopicEvent{
		Base:      event.Base{EventID: "p-0", EventType: event.TypePublishToTopic},
		TopicName: "topic-a", Offset: 0, Data: userData("one"),
	}
	pub1 := &event.PublishToTopicEvent{
		Base:      event.Base{EventID: "p-1", EventType: event.TypePublishToTopic},
		TopicName: "topic-a", Offset: 1, Data: userData("two"),
	}
	con0 := &event.ConsumeFromTopicEvent{
		Base:      event.Base{EventID: "c-0", EventType: event.TypeConsumeFromTopic},
		TopicName: "topic-a", Offset: 0, ConsumerName: "reader",
	}

	require.NoError(t, tp.Restore(pub0))
	require.NoError(t, tp.Restore(pub1))
	require.NoError(t, tp.Restore(con0))

	// Replay never fires the publish handler.
	assert.False(t, handlerFired)

	// The consumer's cursor sits past offset 0, so only offset 1 remains.
	require.True(t, tp.CanConsume("reader"))
	got := tp.Consume("reader")
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Offset)
}

func TestTopic_RestoreRejectsOffsetGap(t *testing.T) {
	tp := New("topic-a")
	pub := &event.PublishToTopicEvent{
		Base:      event.Base{EventID: "p-2", EventType: event.TypePublishToTopic},
		TopicName: "topic-a", Offset: 2, Data: userData("orphan"),
	}
	assert.Error(t, tp.Restore(pub))
}

func TestTopic_RestoreRejectsConsumePastPublished(t *testing.T) {
	tp := New("topic-a")
	con := &event.ConsumeFromTopicEvent{
		Base:      event.Base{EventID: "c-9", EventType: event.TypeConsumeFromTopic},
		TopicName: "topic-a", Offset: 0, ConsumerName: "reader",
	}
	assert.Error(t, tp.Restore(con))
}

func TestTopic_RestoreRejectsForeignTopic(t *testing.T) {
	tp := New("topic-a")
	pub := &event.PublishToTopicEvent{
		Base:      event.Base{EventID: "p-0", EventType: event.TypePublishToTopic},
		TopicName: "topic-b", Offset: 0, Data: userData("stray"),
	}
	assert.Error(t, tp.Restore(pub))
}

func TestTopic_RestoreSameOffsetReplacesInPlace(t *testing.T) {
	tp := New("topic-a")
	orig := &event.PublishToTopicEvent{
		Base:      event.Base{EventID: "p-0", EventType: event.TypePublishToTopic},
		TopicName: "topic-a", Offset: 0, Data: userData("original"),
	}
	updated := &event.PublishToTopicEvent{
		Base:      event.Base{EventID: "p-0", EventType: event.TypePublishToTopic},
		TopicName: "topic-a", Offset: 0, Data: userData("merged"),
	}

	require.NoError(t, tp.Restore(orig))
	require.NoError(t, tp.Restore(updated))

	events := tp.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "merged", events[0].Data[0].Content)
}

func TestHumanInputTopic_AppendMergesPendingEvent(t *testing.T) {
	tp := NewHumanInput("approval")
	ev := tp.PublishData(testEC, "reviewer", "generate", userData("please approve"), nil, sequentialIDs())
	require.NotNil(t, ev)

	require.True(t, tp.CanAppendUserInput("approver", ev))
	merged, err := tp.AppendUserInput(ev, userData("approved"))
	require.NoError(t, err)
	require.Len(t, merged.Data, 2)
	assert.Equal(t, "please approve", merged.Data[0].Content)
	assert.Equal(t, "approved", merged.Data[1].Content)

	// The stored event itself was mutated: consuming sees the merge.
	got := tp.Consume("approver")
	require.Len(t, got, 1)
	assert.Len(t, got[0].Data, 2)
}

func TestHumanInputTopic_NoAppendAfterConsume(t *testing.T) {
	tp := NewHumanInput("approval")
	ev := tp.PublishData(testEC, "reviewer", "generate", userData("pending"), nil, sequentialIDs())
	require.NotNil(t, ev)

	tp.Consume("approver")
	assert.False(t, tp.CanAppendUserInput("approver", ev))
}

func TestDefaultTopic_NoUserInputAppend(t *testing.T) {
	tp := New("topic-a")
	ev := tp.PublishData(testEC, "node", "generate", userData("data"), nil, sequentialIDs())
	require.NotNil(t, ev)

	assert.False(t, tp.CanAppendUserInput("reader", ev))
	_, err := tp.AppendUserInput(ev, userData("late"))
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "topic", KindDefault.String())
	assert.Equal(t, "entry", KindEntry.String())
	assert.Equal(t, "output", KindOutput.String())
	assert.Equal(t, "human_input", KindHumanInput.String())
}
