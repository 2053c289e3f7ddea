package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

var ErrInvalidPlate = errors.New("plate_number is required")

// Decision is the verdict for one access attempt. Accessing is the
// presence toggle: true means the vehicle is entering, false leaving.
type Decision struct {
	EventID    string
	Granted    bool
	Confidence float64
	Accessing  bool
}

// DecisionEngine authorizes plates from the local cache only. It never
// touches the network, which is what keeps the gate usable while the
// broker or the center is down.
type DecisionEngine struct {
	gateID   string
	vehicles store.VehicleStore
	events   store.EventStore
}

func NewDecisionEngine(gateID string, vehicles store.VehicleStore, events store.EventStore) *DecisionEngine {
	return &DecisionEngine{gateID: gateID, vehicles: vehicles, events: events}
}

// Decide looks up the plate, checks the validity window in UTC, computes
// the presence toggle and appends the attempt to the pending queue. Both
// grants and denials are logged; a store failure surfaces as
// store.ErrUnavailable and the caller must deny without logging twice.
func (e *DecisionEngine) Decide(ctx context.Context, plate string, confidence float64) (Decision, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return Decision{}, ErrInvalidPlate
	}

	now := time.Now().UTC()

	rec, err := e.vehicles.VehicleByPlate(ctx, plate)
	if err != nil {
		return Decision{}, unavailable("vehicle lookup", err)
	}
	granted := rec != nil && rec.ValidAt(now)

	// The toggle chain reads the newest event regardless of sync status
	// or verdict. First-ever sighting of an authorized plate toggles to
	// entering; denied attempts record false and do not open the gate, so
	// the chain stays consistent with who actually passed the barrier.
	accessing := false
	if granted {
		prev, err := e.events.LatestEventByPlate(ctx, plate)
		if err != nil {
			return Decision{}, unavailable("presence lookup", err)
		}
		if prev == nil {
			accessing = true
		} else {
			accessing = !prev.Accessing
		}
	}

	id, err := e.events.AppendEvent(ctx, store.EventRecord{
		CreatedAt:       now,
		PlateNumber:     plate,
		GateID:          e.gateID,
		AccessGranted:   granted,
		ConfidenceScore: confidence,
		Accessing:       accessing,
	})
	if err != nil {
		return Decision{}, unavailable("event append", err)
	}

	return Decision{
		EventID:    id,
		Granted:    granted,
		Confidence: confidence,
		Accessing:  accessing,
	}, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
}
