package stepgraph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates no edge from START was declared.
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrMultipleEntryPoints indicates more than one edge leaves START.
	ErrMultipleEntryPoints = errors.New("multiple entry points")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidEdge indicates an edge uses a sentinel on the wrong side.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrEmptyDestinations indicates a conditional edge with no allowed destinations.
	ErrEmptyDestinations = errors.New("conditional edge has no destinations")

	// ErrMissingEdge indicates a node has no outgoing edge.
	ErrMissingEdge = errors.New("node has no outgoing edge")

	// ErrConflictingEdges indicates a node has more than one outgoing edge declaration.
	ErrConflictingEdges = errors.New("node has conflicting outgoing edges")

	// ErrNoPathToEnd indicates END is unreachable from the entry point.
	ErrNoPathToEnd = errors.New("no path to END from entry")
)

// Sentinel errors for execution.
var (
	// ErrMaxSteps indicates the run exceeded its super-step budget.
	ErrMaxSteps = errors.New("exceeded maximum steps")

	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrInvalidTransition indicates a selector returned a destination outside its allowed set.
	ErrInvalidTransition = errors.New("selector returned undeclared destination")

	// ErrInterrupted is matched by every WorkflowInterrupt.
	ErrInterrupted = errors.New("workflow interrupted")
)

// Sentinel errors for checkpointing and resume.
var (
	// ErrThreadIDRequired indicates checkpointing was enabled without a thread ID.
	ErrThreadIDRequired = errors.New("thread ID required for checkpointing")

	// ErrCheckpointerRequired indicates Resume was called without a checkpoint store.
	ErrCheckpointerRequired = errors.New("checkpoint store required")

	// ErrSerializeState indicates state serialization failed.
	ErrSerializeState = errors.New("failed to serialize state")

	// ErrDeserializeState indicates state deserialization failed.
	ErrDeserializeState = errors.New("failed to deserialize state")

	// ErrNoCheckpoints indicates no checkpoints exist for the thread.
	ErrNoCheckpoints = errors.New("no checkpoints found for thread")

	// ErrInvalidResumeNode indicates the checkpoint's next node is not in the graph.
	ErrInvalidResumeNode = errors.New("invalid resume node")
)

// GraphValidationError collects every structural problem found by Compile.
// Each problem wraps one of the compile sentinels, so errors.Is works on
// the aggregate.
type GraphValidationError struct {
	Problems []error
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "graph validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap returns the individual problems for errors.Is/As support.
func (e *GraphValidationError) Unwrap() []error {
	return e.Problems
}

// UnknownChannelError indicates a write to a channel the schema does not declare.
type UnknownChannelError struct {
	Channel string
}

// Error implements the error interface.
func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %q", e.Channel)
}

// ChannelTypeError indicates a delta value of the wrong type for its channel.
type ChannelTypeError struct {
	Channel string
	Want    string
	Got     string
}

// Error implements the error interface.
func (e *ChannelTypeError) Error() string {
	return fmt.Sprintf("channel %q expects %s, got %s", e.Channel, e.Want, e.Got)
}

// InvalidTransitionError reports a selector result outside its allowed set.
type InvalidTransitionError struct {
	// FromNode is the node with the conditional edge.
	FromNode string
	// Returned is the value the selector returned.
	Returned string
	// Allowed is the declared destination set.
	Allowed []string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("selector from %s returned %q, allowed %v", e.FromNode, e.Returned, e.Allowed)
}

// Unwrap returns ErrInvalidTransition for errors.Is support.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g., "execute", "merge").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// DomainError is a problem a node recorded in the error channel while
// completing normally.
type DomainError struct {
	NodeID  string
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return fmt.Sprintf("node %s reported: %s", e.NodeID, e.Message)
}

// WorkflowInterrupt is returned when a run halts gracefully because a node
// failed or recorded a domain error. The interrupted checkpoint is committed
// before it is returned, so the run can be resumed.
type WorkflowInterrupt struct {
	// NodeID is the node that caused the interrupt.
	NodeID string
	// Message is the diagnostic appended to the message log.
	Message string
	// State is the committed state at the interrupt.
	State State
	// Cause is a *NodeError, *PanicError or *DomainError.
	Cause error
}

// Error implements the error interface.
func (e *WorkflowInterrupt) Error() string {
	return fmt.Sprintf("workflow interrupted at %s: %s", e.NodeID, e.Message)
}

// Is reports ErrInterrupted as a match.
func (e *WorkflowInterrupt) Is(target error) bool {
	return target == ErrInterrupted
}

// Unwrap returns the cause for errors.Is/As support.
func (e *WorkflowInterrupt) Unwrap() error {
	return e.Cause
}

// CancellationError captures the state when execution was cancelled.
// Nothing is committed for the step that was cancelled.
type CancellationError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// State is the last committed state.
	State State
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// WasExecuting is true if cancellation occurred during node execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// MaxStepsError provides context when the step budget is exhausted.
type MaxStepsError struct {
	// Max is the configured step limit.
	Max int
	// LastNodeID is the node that would have executed next.
	LastNodeID string
	// State is the state at termination.
	State State
}

// Error implements the error interface.
func (e *MaxStepsError) Error() string {
	return fmt.Sprintf("exceeded maximum steps (%d) at node %s", e.Max, e.LastNodeID)
}

// Unwrap returns ErrMaxSteps for errors.Is support.
func (e *MaxStepsError) Unwrap() error {
	return ErrMaxSteps
}

// CheckpointBackendError wraps a checkpoint store failure. It is fatal to
// the run.
type CheckpointBackendError struct {
	// NodeID is the node whose step was being committed.
	NodeID string
	// Op is the store operation ("put", "get", "put_writes", "encode").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointBackendError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointBackendError) Unwrap() error {
	return e.Err
}

// CacheBackendError wraps a result cache failure. The engine logs it and
// treats the lookup as a miss.
type CacheBackendError struct {
	NodeID string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *CacheBackendError) Error() string {
	return fmt.Sprintf("cache %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CacheBackendError) Unwrap() error {
	return e.Err
}
