package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func readySet(topics ...*Topic) func(*Topic) bool {
	set := make(map[*Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return func(t *Topic) bool { return set[t] }
}

func TestExpression_Sub(t *testing.T) {
	a := New("a")
	expr := Sub(a)

	assert.True(t, expr.Eval(readySet(a)))
	assert.False(t, expr.Eval(readySet()))
}

func TestExpression_And(t *testing.T) {
	a, b := New("a"), New("b")
	expr := And(Sub(a), Sub(b))

	assert.False(t, expr.Eval(readySet(a)))
	assert.False(t, expr.Eval(readySet(b)))
	assert.True(t, expr.Eval(readySet(a, b)))
}

func TestExpression_Or(t *testing.T) {
	a, b := New("a"), New("b")
	expr := Or(Sub(a), Sub(b))

	assert.True(t, expr.Eval(readySet(a)))
	assert.True(t, expr.Eval(readySet(b)))
	assert.False(t, expr.Eval(readySet()))
}

func TestExpression_Nested(t *testing.T) {
	a, b, c := New("a"), New("b"), New("c")
	expr := Or(And(Sub(a), Sub(b)), Sub(c))

	assert.False(t, expr.Eval(readySet(a)))
	assert.True(t, expr.Eval(readySet(a, b)))
	assert.True(t, expr.Eval(readySet(c)))
}

func TestExpression_ZeroValueIsNeverReady(t *testing.T) {
	var expr Expression

	// A zero expression has no topic leaf; it must evaluate false
	// without passing nil to the readiness predicate.
	assert.False(t, expr.Eval(func(tp *Topic) bool { return tp.CanConsume("n") }))
	assert.Empty(t, expr.Topics())
}

func TestExpression_TopicsDeduplicatedInOrder(t *testing.T) {
	a, b := New("a"), New("b")
	expr := Or(And(Sub(a), Sub(b)), Sub(a))

	topics := expr.Topics()
	assert.Equal(t, []*Topic{a, b}, topics)
}
