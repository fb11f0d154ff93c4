package workflow

import (
	"errors"
	"fmt"
)

// Configuration errors are fatal at build time: the workflow cannot be
// constructed, let alone run.
var (
	// ErrNoEntryOrOutput means the graph references neither the entry
	// topic nor the output topic, so nothing could ever flow through it.
	ErrNoEntryOrOutput = errors.New("workflow has neither entry nor output topic")

	// ErrNoEntryTopic means a run was started on a workflow without an
	// entry topic to publish the input to.
	ErrNoEntryTopic = errors.New("workflow has no entry topic")

	// ErrMaxStepsExceeded means the run loop executed more node
	// invocations than the configured limit, indicating a runaway
	// publish/consume cycle.
	ErrMaxStepsExceeded = errors.New("max steps per invocation exceeded")
)

// DuplicateNodeError reports a node name collision at registration time.
type DuplicateNodeError struct {
	Name string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node name %q", e.Name)
}

// CorruptLogError reports replay state that contradicts itself, such as a
// consume event referencing an offset its topic never produced. The
// engine does not attempt silent repair.
type CorruptLogError struct {
	RequestID string
	Reason    string
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("corrupted event log for request %s: %s", e.RequestID, e.Reason)
}
