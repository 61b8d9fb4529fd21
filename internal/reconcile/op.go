// Package reconcile drives a single rule's convergence: it diffs desired
// against observed state, queues the minimal set of mutating operations,
// and executes them with retry classification and cross-invocation
// resumption.
package reconcile

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies one kind of queued operation.
type OpKind string

// Operation kinds. Each executes exactly one logical remote mutation
// (or one facet's diff) and may append follow-up operations.
const (
	OpDescribe      OpKind = "describe_rule"
	OpCreate        OpKind = "create_rule"
	OpUpdate        OpKind = "update_rule"
	OpDiffTags      OpKind = "diff_tags"
	OpDiffTargets   OpKind = "diff_targets"
	OpRemoveTags    OpKind = "remove_tags"
	OpSetTags       OpKind = "set_tags"
	OpRemoveTargets OpKind = "remove_targets"
	OpPutTargets    OpKind = "put_targets"
	OpGrantFunction OpKind = "grant_function_access"
	OpGrantTopic    OpKind = "grant_topic_access"
	OpGrantQueue    OpKind = "grant_queue_access"
	OpDelete        OpKind = "delete_rule"
)

// Op is one queued operation: a tagged kind with its own payload type,
// serialized so the queue survives across invocations.
type Op struct {
	Kind    OpKind          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Queue is the ordered worklist of operations not yet attempted or
// attempted-but-deferred. Operations are appended during diffing and
// during execution of other operations; an entry is removed only after
// it completes successfully or permanently fails.
type Queue struct {
	ops []Op
}

// NewQueue creates an empty operation queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends an operation to the tail of the queue. At most one entry
// per kind may be queued; adding an already-queued kind is a no-op.
func (q *Queue) Add(kind OpKind, payload any) error {
	if q.Has(kind) {
		return nil
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		raw = data
	}

	q.ops = append(q.ops, Op{Kind: kind, Payload: raw})
	return nil
}

// Has reports whether an operation of the given kind is queued.
func (q *Queue) Has(kind OpKind) bool {
	for _, op := range q.ops {
		if op.Kind == kind {
			return true
		}
	}
	return false
}

// Head returns the next operation to execute.
func (q *Queue) Head() (Op, bool) {
	if len(q.ops) == 0 {
		return Op{}, false
	}
	return q.ops[0], true
}

// Complete removes the operation of the given kind from the queue.
func (q *Queue) Complete(kind OpKind) {
	for i, op := range q.ops {
		if op.Kind == kind {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	return len(q.ops)
}

// Kinds returns the queued operation kinds in order.
func (q *Queue) Kinds() []OpKind {
	kinds := make([]OpKind, 0, len(q.ops))
	for _, op := range q.ops {
		kinds = append(kinds, op.Kind)
	}
	return kinds
}

// MarshalJSON serializes the queue as an ordered op array.
func (q *Queue) MarshalJSON() ([]byte, error) {
	if q.ops == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(q.ops)
}

// UnmarshalJSON restores the queue from an ordered op array.
func (q *Queue) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &q.ops)
}

// opPayload decodes an operation's payload into its concrete type.
func opPayload[T any](op Op) (T, error) {
	var value T
	if op.Payload == nil {
		return value, nil
	}
	if err := json.Unmarshal(op.Payload, &value); err != nil {
		return value, fmt.Errorf("failed to decode %s payload: %w", op.Kind, err)
	}
	return value, nil
}
