package store

import (
	"context"
	"time"
)

const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
)

// EventRecord is one access attempt queued at the gate for later delivery.
// ID is assigned once at append time and never changes across retries —
// the center deduplicates on it.
type EventRecord struct {
	ID              string
	CreatedAt       time.Time
	PlateNumber     string
	GateID          string
	AccessGranted   bool
	ConfidenceScore float64
	Accessing       bool
	SyncStatus      string
	RetryCount      int
}

// EventStore is the gate-local outbound event queue. Events are created by
// the decision engine, transitioned by the sync agent, and deleted only by
// the retention sweep.
type EventStore interface {
	// AppendEvent assigns an ID (and CreatedAt if zero) and persists the
	// event with status pending. Returns the assigned ID.
	AppendEvent(ctx context.Context, rec EventRecord) (string, error)

	// LatestEventByPlate returns the newest event for a plate regardless
	// of sync status, or nil, nil if the plate has never been seen.
	LatestEventByPlate(ctx context.Context, plate string) (*EventRecord, error)

	// PendingEvents returns up to limit pending events with
	// RetryCount < maxRetries, oldest first.
	PendingEvents(ctx context.Context, maxRetries, limit int) ([]EventRecord, error)

	// MarkSynced and IncrementRetry are bulk transitions; unknown IDs are
	// ignored.
	MarkSynced(ctx context.Context, ids []string) error
	IncrementRetry(ctx context.Context, ids []string) error

	// PruneSynced deletes synced events created before olderThan. Pending
	// events are never deleted regardless of age.
	PruneSynced(ctx context.Context, olderThan time.Time) (int64, error)
}
