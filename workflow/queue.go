package workflow

// nodeQueue is the FIFO of ready nodes for one invocation.
//
// The readiness dispatcher appends to the tail while the run loop pops
// from the head, giving breadth-first propagation of publishes. A node
// may be enqueued more than once; a pop that finds nothing left to
// consume is skipped, so duplicates are harmless.
//
// All access happens on the single invocation goroutine, so no locking.
type nodeQueue struct {
	nodes []*Node
}

func newNodeQueue() *nodeQueue {
	return &nodeQueue{nodes: make([]*Node, 0, 16)}
}

func (q *nodeQueue) push(n *Node) {
	q.nodes = append(q.nodes, n)
}

func (q *nodeQueue) pop() (*Node, bool) {
	if len(q.nodes) == 0 {
		return nil, false
	}
	n := q.nodes[0]
	// Nil out the slot so the backing array does not retain the node.
	q.nodes[0] = nil
	if len(q.nodes) == 1 {
		q.nodes = q.nodes[:0]
	} else {
		q.nodes = q.nodes[1:]
	}
	return n, true
}

func (q *nodeQueue) len() int {
	return len(q.nodes)
}

func (q *nodeQueue) reset() {
	q.nodes = q.nodes[:0]
}
