package topic

// Expression is a boolean AND/OR formula over topics gating node
// readiness. A node subscribed with And(a, b) only becomes ready once
// both topics have unconsumed data for it.
type Expression struct {
	op    exprOp
	topic *Topic
	left  *Expression
	right *Expression
}

type exprOp int

const (
	opTopic exprOp = iota
	opAnd
	opOr
)

// Sub subscribes to a single topic.
func Sub(t *Topic) Expression {
	return Expression{op: opTopic, topic: t}
}

// And requires both sub-expressions to be satisfied.
func And(a, b Expression) Expression {
	return Expression{op: opAnd, left: &a, right: &b}
}

// Or requires either sub-expression to be satisfied.
func Or(a, b Expression) Expression {
	return Expression{op: opOr, left: &a, right: &b}
}

// Eval evaluates the expression tree against a per-topic readiness
// predicate.
func (e Expression) Eval(ready func(*Topic) bool) bool {
	switch e.op {
	case opTopic:
		if e.topic == nil {
			return false
		}
		return ready(e.topic)
	case opAnd:
		return e.left.Eval(ready) && e.right.Eval(ready)
	case opOr:
		return e.left.Eval(ready) || e.right.Eval(ready)
	default:
		return false
	}
}

// Topics returns every topic referenced by the expression, de-duplicated,
// in left-to-right declaration order. Used at build time to wire topics
// before node linking.
func (e Expression) Topics() []*Topic {
	seen := make(map[string]bool)
	var out []*Topic
	var walk func(x *Expression)
	walk = func(x *Expression) {
		if x == nil {
			return
		}
		if x.op == opTopic {
			if x.topic != nil && !seen[x.topic.Name()] {
				seen[x.topic.Name()] = true
				out = append(out, x.topic)
			}
			return
		}
		walk(x.left)
		walk(x.right)
	}
	walk(&e)
	return out
}
