package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a store that cannot serve the current operation.
// The decision path treats it as fail-closed: deny, do not fabricate state.
var ErrUnavailable = errors.New("store unavailable")

// VehicleRecord is a cached authorization row. The gate cache and the
// central registry share this shape; the center is the only writer of
// authorization truth, gates receive rows as deltas.
type VehicleRecord struct {
	PlateNumber  string
	OwnerName    string
	IsAuthorized bool
	ValidFrom    time.Time
	ValidUntil   *time.Time // nil = unbounded
	LastModified time.Time
}

// ValidAt reports whether the record authorizes access at t. All callers
// pass UTC instants; stored times are UTC as well.
func (r VehicleRecord) ValidAt(t time.Time) bool {
	if !r.IsAuthorized {
		return false
	}
	if t.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && t.After(*r.ValidUntil) {
		return false
	}
	return true
}

// VehicleStore is the gate-local vehicle cache.
type VehicleStore interface {
	// UpsertVehicles replaces cached rows by plate number. Rows absent
	// from recs are left untouched: delta payloads only add and update.
	UpsertVehicles(ctx context.Context, recs []VehicleRecord) error

	// VehicleByPlate returns nil, nil when the plate is not cached.
	VehicleByPlate(ctx context.Context, plate string) (*VehicleRecord, error)
}
