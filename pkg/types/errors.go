package types

import (
	"fmt"
	"time"
)

// ValidationError reports a field whose value violates its configured
// bound or grammar. It is returned synchronously at the point of
// mutation; no part of the mutation is applied when it is returned.
type ValidationError struct {
	Field  string
	Value  interface{}
	Min    interface{}
	Max    interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s: %v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %v must be between %v and %v", e.Field, e.Value, e.Min, e.Max)
}

// CyclicDependencyError reports an edge that would make the queue tree
// or the job/task dependency graph cyclic. Edges are checked at
// creation time; resolution assumes a DAG.
type CyclicDependencyError struct {
	Kind     string // "job", "task" or "queue"
	ID       string
	ParentID string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s %s cannot depend on %s: dependency cycle", e.Kind, e.ID, e.ParentID)
}

// InvalidStateTransitionError reports a task state transition outside
// the state machine.
type InvalidStateTransitionError struct {
	TaskID string
	From   WorkState
	To     WorkState
}

func (e *InvalidStateTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "queued"
	}
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, from, e.To)
}

// CapacityExceededError reports an assignment that would oversubscribe
// an agent's allocation budget or a queue's maximum-agents cap. During
// a scheduling tick it is local to one candidate pair, never fatal to
// the tick.
type CapacityExceededError struct {
	AgentID  string
	QueueID  string
	Resource string
}

func (e *CapacityExceededError) Error() string {
	if e.QueueID != "" {
		return fmt.Sprintf("queue %s is at maximum agents", e.QueueID)
	}
	return fmt.Sprintf("agent %s has no uncommitted %s", e.AgentID, e.Resource)
}

// StaleAgentError reports an operation against an agent whose heartbeat
// has aged past the staleness threshold.
type StaleAgentError struct {
	AgentID       string
	LastHeardFrom time.Time
}

func (e *StaleAgentError) Error() string {
	return fmt.Sprintf("agent %s is stale, last heard from at %s", e.AgentID, e.LastHeardFrom.Format(time.RFC3339))
}
