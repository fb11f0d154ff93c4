package event

import "sort"

// Graph reconstructs the causally-ordered closure of a node's input
// events from the consumed_event_ids backlinks.
//
// A node with several subscriptions may receive events produced by
// different upstream branches at different times, so store fetch order is
// not causal order. The graph is built per invocation from the node's
// directly consumed events plus the full pool of prior publish/consume
// events for the request, then discarded.
//
// Graph nodes are consume events. The predecessor set of a consume event
// C is found through the publish event at (C.TopicName, C.Offset): its
// ConsumedEventIDs name the consume events that causally produced it.
type Graph struct {
	nodes map[string]*graphNode
}

type graphNode struct {
	event        *ConsumeFromTopicEvent
	predecessors []string
}

// BuildGraph constructs the graph rooted at the directly consumed events.
// The pool holds every prior event recorded for the request, keyed by
// event id; non-topic events in the pool are ignored. Backlinks that
// cannot be resolved in the pool are skipped rather than failed: a
// missing ancestor only truncates history, it does not invalidate the
// events that are present.
func BuildGraph(consumed []*ConsumeFromTopicEvent, pool map[string]Event) *Graph {
	g := &Graph{nodes: make(map[string]*graphNode)}

	// Index publish events by (topic, offset) so a consume event can be
	// traced back to the publish that produced its data.
	type slot struct {
		topic  string
		offset int64
	}
	publishes := make(map[slot]*PublishToTopicEvent)
	for _, ev := range pool {
		if pub, ok := ev.(*PublishToTopicEvent); ok {
			publishes[slot{pub.TopicName, pub.Offset}] = pub
		}
	}

	var visit func(c *ConsumeFromTopicEvent)
	visit = func(c *ConsumeFromTopicEvent) {
		if _, seen := g.nodes[c.EventID]; seen {
			return
		}
		node := &graphNode{event: c}
		g.nodes[c.EventID] = node

		pub, ok := publishes[slot{c.TopicName, c.Offset}]
		if !ok {
			return
		}
		for _, id := range pub.ConsumedEventIDs {
			prior, ok := pool[id]
			if !ok {
				continue
			}
			pred, ok := prior.(*ConsumeFromTopicEvent)
			if !ok {
				continue
			}
			node.predecessors = append(node.predecessors, pred.EventID)
			visit(pred)
		}
	}

	for _, c := range consumed {
		visit(c)
	}
	return g
}

// SortedEvents returns every event in the graph in deterministic
// topological order: an event never appears before any event it
// transitively consumed. Events with no ordering constraint between them
// are tie-broken by original publish offset, then by event id.
func (g *Graph) SortedEvents() []*ConsumeFromTopicEvent {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id, node := range g.nodes {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, pred := range node.predecessors {
			indegree[id]++
			dependents[pred] = append(dependents[pred], id)
		}
	}

	ready := make([]*ConsumeFromTopicEvent, 0, len(g.nodes))
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, g.nodes[id].event)
		}
	}

	ordered := make([]*ConsumeFromTopicEvent, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Offset != ready[j].Offset {
				return ready[i].Offset < ready[j].Offset
			}
			return ready[i].EventID < ready[j].EventID
		})
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, dep := range dependents[next.EventID] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, g.nodes[dep].event)
			}
		}
	}

	// A cycle would leave events unemitted; consumed_event_ids only ever
	// reference strictly older events, so append any stragglers in id
	// order rather than dropping data.
	if len(ordered) < len(g.nodes) {
		emitted := make(map[string]bool, len(ordered))
		for _, ev := range ordered {
			emitted[ev.EventID] = true
		}
		var rest []*ConsumeFromTopicEvent
		for id, node := range g.nodes {
			if !emitted[id] {
				rest = append(rest, node.event)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].EventID < rest[j].EventID })
		ordered = append(ordered, rest...)
	}

	return ordered
}
