package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

// VehicleStore is an in-memory vehicle cache for tests and dev.
type VehicleStore struct {
	mu       sync.RWMutex
	vehicles map[string]store.VehicleRecord

	// FailAll makes every call return store.ErrUnavailable, for
	// fail-closed tests.
	FailAll bool
}

func NewVehicleStore() *VehicleStore {
	return &VehicleStore{vehicles: make(map[string]store.VehicleRecord)}
}

func (s *VehicleStore) UpsertVehicles(_ context.Context, recs []store.VehicleRecord) error {
	if s.FailAll {
		return store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		plate := strings.TrimSpace(rec.PlateNumber)
		if plate == "" {
			continue
		}
		s.vehicles[plate] = rec
	}
	return nil
}

func (s *VehicleStore) VehicleByPlate(_ context.Context, plate string) (*store.VehicleRecord, error) {
	if s.FailAll {
		return nil, store.ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.vehicles[plate]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// Count returns the number of cached vehicles. Test-only helper.
func (s *VehicleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}
