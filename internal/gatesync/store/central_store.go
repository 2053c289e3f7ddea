package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidValidity rejects a vehicle whose validity end precedes its
// validity start at the admin write path.
var ErrInvalidValidity = errors.New("validity end precedes validity start")

// GateRecord is the center's view of one gate.
type GateRecord struct {
	GateID            string
	Location          string
	Status            string
	LastOnline        *time.Time
	LocalCacheUpdated *time.Time
}

// AccessLogRecord is one committed access event in the central history.
type AccessLogRecord struct {
	ID              string
	PlateNumber     string
	GateID          string
	AccessGranted   bool
	ConfidenceScore float64
	Accessing       bool
	Timestamp       time.Time
}

// IngestResult reports per-ID outcomes for one batch. An ID that was
// already committed counts as committed again — duplicate delivery is
// success, not an error.
type IngestResult struct {
	Committed []string
	Failed    []string
}

// DashboardStats feeds the admin overview page.
type DashboardStats struct {
	TotalVehicles           int
	TotalAttemptsToday      int
	SuccessfulAttemptsToday int
	TotalGates              int
	OnlineGates             int
}

// CentralStore is the authoritative store behind the sync coordinator and
// the admin API. It is the single writer of vehicle authorization truth.
type CentralStore interface {
	// VehiclesChangedSince returns rows whose LastModified is strictly
	// greater than version (UnixMilli), plus the current global version.
	// Ties are excluded so a gate at the current version gets an empty
	// delta, never a resend loop.
	VehiclesChangedSince(ctx context.Context, version int64) ([]VehicleRecord, int64, error)

	// CurrentVersion is the max vehicle LastModified in UnixMilli, 0 when
	// the registry is empty.
	CurrentVersion(ctx context.Context) (int64, error)

	VehicleByPlate(ctx context.Context, plate string) (*VehicleRecord, error)
	ListVehicles(ctx context.Context) ([]VehicleRecord, error)

	// PutVehicle creates or updates a vehicle, stamping LastModified with
	// the current time so the row enters the next delta. Returns
	// ErrInvalidValidity when ValidUntil precedes ValidFrom.
	PutVehicle(ctx context.Context, rec VehicleRecord) error

	// IngestEvents commits a batch idempotently by event ID: an ID already
	// present is reported committed without re-inserting. One bad record
	// never fails the batch.
	IngestEvents(ctx context.Context, events []AccessLogRecord) (IngestResult, error)

	// LatestLogByPlate returns the newest committed event for a plate, or
	// nil, nil if the plate has no history.
	LatestLogByPlate(ctx context.Context, plate string) (*AccessLogRecord, error)

	// UpsertGateStatus records a gate heartbeat, creating the gate row if
	// the ID is unknown (self-registration).
	UpsertGateStatus(ctx context.Context, gateID, status, location string, seenAt time.Time) error

	// MarkCacheUpdated stamps the gate's local_cache_updated after a delta
	// was served to it.
	MarkCacheUpdated(ctx context.Context, gateID string, t time.Time) error

	ListGates(ctx context.Context) ([]GateRecord, error)
	AccessLogs(ctx context.Context, gateID string, limit int) ([]AccessLogRecord, error)
	DashboardStats(ctx context.Context) (DashboardStats, error)
}
