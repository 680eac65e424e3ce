// Package checkpoint provides durable, per-thread checkpoint history so
// runs can be inspected and resumed.
package checkpoint

import (
	"context"
	"errors"
)

// Store persists checkpoint chains and pending writes.
// Implementations must be safe for concurrent use; callers must not run two
// engines against the same thread concurrently.
type Store interface {
	// Put commits cp as the new latest checkpoint of (threadID, ns),
	// chaining ParentID to the prior latest. Putting an ID that is already
	// stored is a no-op that returns the stored checkpoint. The commit
	// clears the pending writes recorded against the parent.
	Put(ctx context.Context, threadID, ns string, cp Checkpoint) (Checkpoint, error)

	// Get returns the checkpoint with checkpointID, or the latest one when
	// checkpointID is empty. Returns nil (not an error) if none exists.
	Get(ctx context.Context, threadID, ns, checkpointID string) (*Checkpoint, error)

	// List returns checkpoints in descending ID order.
	List(ctx context.Context, threadID, ns string, opts ListOptions) ([]Checkpoint, error)

	// PutWrites appends writes recorded by taskID against checkpointID.
	// A write with the same task and sequence replaces the earlier one.
	// It is a no-op when threadID or checkpointID is empty.
	PutWrites(ctx context.Context, threadID, ns, checkpointID, taskID string, writes []PendingWrite) error

	// Writes returns the pending writes recorded against checkpointID in
	// the order they were recorded.
	Writes(ctx context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error)

	// DeleteThread removes every checkpoint and write of a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidCheckpoint indicates a checkpoint is missing required fields.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrOutOfOrder indicates a Put whose ID sorts before the latest.
	ErrOutOfOrder = errors.New("checkpoint ID out of order")

	// ErrParentMismatch indicates a Put whose ParentID is not the latest.
	ErrParentMismatch = errors.New("checkpoint parent is not the latest")

	// ErrVersionMismatch indicates a stored checkpoint of another format version.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")
)
