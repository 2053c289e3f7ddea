package store

import "context"

// CheckpointStore tracks the last vehicle-cache version this gate has
// merged. A fresh store starts at 0 (never synced). The stored value is
// monotonically non-decreasing; SetCheckpoint with a smaller version is a
// no-op.
type CheckpointStore interface {
	Checkpoint(ctx context.Context) (int64, error)
	SetCheckpoint(ctx context.Context, version int64) error
}
