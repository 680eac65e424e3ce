package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/serde"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Source records why a checkpoint was written.
type Source string

const (
	// SourceInput is the checkpoint holding a run's initial state.
	SourceInput Source = "input"
	// SourceLoop is the checkpoint committed after a completed super-step.
	SourceLoop Source = "loop"
	// SourceInterrupt is the checkpoint committed when a run was interrupted.
	SourceInterrupt Source = "interrupt"
)

// Metadata describes the step that produced a checkpoint.
type Metadata struct {
	Source   Source `json:"source"`
	Step     int    `json:"step"`
	Node     string `json:"node,omitempty"`
	Next     string `json:"next,omitempty"`
	CacheHit bool   `json:"cache_hit,omitempty"`
	Error    string `json:"error,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// Checkpoint is an immutable snapshot of channel state for one thread and
// namespace. Checkpoints of a (thread, namespace) pair form a single chain
// through ParentID; the greatest ID is the latest.
type Checkpoint struct {
	Version   int                        `json:"version"`
	ThreadID  string                     `json:"thread_id"`
	Namespace string                     `json:"checkpoint_ns"`
	ID        string                     `json:"checkpoint_id"`
	ParentID  string                     `json:"parent_checkpoint_id,omitempty"`
	Values    map[string]json.RawMessage `json:"channel_values"`
	Metadata  Metadata                   `json:"metadata"`
	CreatedAt time.Time                  `json:"created_at"`
}

// PendingWrite is a channel write recorded against a step's parent
// checkpoint before the step commits. Writes are cleared by the commit.
type PendingWrite struct {
	TaskID   string          `json:"task_id"`
	Channel  string          `json:"channel"`
	Value    json.RawMessage `json:"value"`
	Sequence int             `json:"sequence"`
}

// ListOptions bounds a List call.
type ListOptions struct {
	// Limit caps the number of results; zero means no limit.
	Limit int
	// Before excludes checkpoints whose ID is >= Before.
	Before string
}

// NewID returns a time-ordered checkpoint ID. IDs generated later in the
// same process sort lexicographically after earlier ones.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("checkpoint: generate id: %v", err))
	}
	return id.String()
}

// New creates a checkpoint with a fresh ID. Values must already be
// serialized per channel.
func New(values map[string]json.RawMessage, meta Metadata) Checkpoint {
	return Checkpoint{
		Version:   Version,
		ID:        NewID(),
		Values:    values,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
}

// Size returns the total encoded size of the channel values in bytes.
func (c *Checkpoint) Size() int {
	n := 0
	for _, v := range c.Values {
		n += len(v)
	}
	return n
}

// record is the serialized checkpoint body stored by the backends.
type record struct {
	Version int                        `json:"version"`
	Values  map[string]json.RawMessage `json:"channel_values"`
}

// encode splits a checkpoint into its serialized body and metadata.
func encode(c Checkpoint) (body, meta []byte, err error) {
	body, err = serde.Marshal(record{Version: c.Version, Values: c.Values})
	if err != nil {
		return nil, nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	meta, err = serde.Marshal(c.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return body, meta, nil
}

// decode restores the body and metadata written by encode.
func decode(c *Checkpoint, body, meta []byte) error {
	var r record
	if err := serde.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	if r.Version != Version {
		return fmt.Errorf("%w: got %d, expected %d", ErrVersionMismatch, r.Version, Version)
	}
	if err := serde.Unmarshal(meta, &c.Metadata); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	c.Version = r.Version
	c.Values = r.Values
	if c.Values == nil {
		c.Values = map[string]json.RawMessage{}
	}
	return nil
}

// prepare validates cp for a Put into (threadID, ns) against the current
// latest checkpoint and fills in the chained fields.
func prepare(threadID, ns string, cp Checkpoint, latest *Checkpoint) (Checkpoint, error) {
	if threadID == "" {
		return cp, fmt.Errorf("%w: thread ID is empty", ErrInvalidCheckpoint)
	}
	if cp.ID == "" {
		return cp, fmt.Errorf("%w: checkpoint ID is empty", ErrInvalidCheckpoint)
	}

	cp.ThreadID = threadID
	cp.Namespace = ns
	if cp.Version == 0 {
		cp.Version = Version
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.Values == nil {
		cp.Values = map[string]json.RawMessage{}
	}

	if latest == nil {
		if cp.ParentID != "" {
			return cp, fmt.Errorf("%w: parent %s does not exist", ErrParentMismatch, cp.ParentID)
		}
		return cp, nil
	}
	if cp.ID < latest.ID {
		return cp, fmt.Errorf("%w: %s precedes latest %s", ErrOutOfOrder, cp.ID, latest.ID)
	}
	if cp.ParentID != "" && cp.ParentID != latest.ID {
		return cp, fmt.Errorf("%w: parent %s, latest %s", ErrParentMismatch, cp.ParentID, latest.ID)
	}
	cp.ParentID = latest.ID
	return cp, nil
}

// writesComplete reports whether a pending-write key is fully initialized.
func writesComplete(threadID, checkpointID string) bool {
	return threadID != "" && checkpointID != ""
}
