package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

// CentralStore is an in-memory authoritative store for tests and dev.
type CentralStore struct {
	mu       sync.Mutex
	vehicles map[string]store.VehicleRecord
	logs     map[string]store.AccessLogRecord
	gates    map[string]store.GateRecord
}

func NewCentralStore() *CentralStore {
	return &CentralStore{
		vehicles: make(map[string]store.VehicleRecord),
		logs:     make(map[string]store.AccessLogRecord),
		gates:    make(map[string]store.GateRecord),
	}
}

func (s *CentralStore) VehiclesChangedSince(_ context.Context, version int64) ([]store.VehicleRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.VehicleRecord
	for _, rec := range s.vehicles {
		if rec.LastModified.UnixMilli() > version {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].PlateNumber < out[j].PlateNumber
	})
	return out, s.currentVersionLocked(), nil
}

func (s *CentralStore) CurrentVersion(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVersionLocked(), nil
}

func (s *CentralStore) currentVersionLocked() int64 {
	var max int64
	for _, rec := range s.vehicles {
		if ms := rec.LastModified.UnixMilli(); ms > max {
			max = ms
		}
	}
	return max
}

func (s *CentralStore) VehicleByPlate(_ context.Context, plate string) (*store.VehicleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.vehicles[plate]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *CentralStore) ListVehicles(_ context.Context) ([]store.VehicleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.VehicleRecord, 0, len(s.vehicles))
	for _, rec := range s.vehicles {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlateNumber < out[j].PlateNumber })
	return out, nil
}

func (s *CentralStore) PutVehicle(_ context.Context, rec store.VehicleRecord) error {
	rec.PlateNumber = strings.TrimSpace(rec.PlateNumber)
	if rec.ValidFrom.IsZero() {
		rec.ValidFrom = time.Now().UTC()
	}
	if rec.ValidUntil != nil && rec.ValidUntil.Before(rec.ValidFrom) {
		return store.ErrInvalidValidity
	}
	rec.LastModified = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[rec.PlateNumber] = rec
	return nil
}

// PutVehicleAt stores a vehicle with an explicit LastModified, bypassing
// validation. Test-only helper for building deterministic delta fixtures.
func (s *CentralStore) PutVehicleAt(rec store.VehicleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[rec.PlateNumber] = rec
}

func (s *CentralStore) IngestEvents(_ context.Context, events []store.AccessLogRecord) (store.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.IngestResult
	for _, ev := range events {
		if ev.ID == "" || strings.TrimSpace(ev.PlateNumber) == "" || strings.TrimSpace(ev.GateID) == "" {
			res.Failed = append(res.Failed, ev.ID)
			continue
		}
		if _, exists := s.logs[ev.ID]; !exists {
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now().UTC()
			}
			s.logs[ev.ID] = ev
		}
		res.Committed = append(res.Committed, ev.ID)
	}
	return res, nil
}

func (s *CentralStore) LatestLogByPlate(_ context.Context, plate string) (*store.AccessLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *store.AccessLogRecord
	for id := range s.logs {
		rec := s.logs[id]
		if rec.PlateNumber != plate {
			continue
		}
		if latest == nil || rec.Timestamp.After(latest.Timestamp) {
			cp := rec
			latest = &cp
		}
	}
	return latest, nil
}

func (s *CentralStore) UpsertGateStatus(_ context.Context, gateID, status, location string, seenAt time.Time) error {
	gateID = strings.TrimSpace(gateID)
	if gateID == "" {
		return nil
	}
	if status == "" {
		status = "offline"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.gates[gateID]
	rec.GateID = gateID
	rec.Status = status
	if location != "" {
		rec.Location = location
	}
	seen := seenAt.UTC()
	rec.LastOnline = &seen
	s.gates[gateID] = rec
	return nil
}

func (s *CentralStore) MarkCacheUpdated(_ context.Context, gateID string, t time.Time) error {
	gateID = strings.TrimSpace(gateID)
	if gateID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.gates[gateID]
	if !ok {
		rec = store.GateRecord{GateID: gateID, Status: "offline"}
	}
	ts := t.UTC()
	rec.LocalCacheUpdated = &ts
	s.gates[gateID] = rec
	return nil
}

func (s *CentralStore) ListGates(_ context.Context) ([]store.GateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.GateRecord, 0, len(s.gates))
	for _, rec := range s.gates {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GateID < out[j].GateID })
	return out, nil
}

func (s *CentralStore) AccessLogs(_ context.Context, gateID string, limit int) ([]store.AccessLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AccessLogRecord
	for _, rec := range s.logs {
		if gateID != "" && rec.GateID != gateID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *CentralStore) DashboardStats(_ context.Context) (store.DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats store.DashboardStats
	for _, rec := range s.vehicles {
		if rec.IsAuthorized {
			stats.TotalVehicles++
		}
	}
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	for _, rec := range s.logs {
		if rec.Timestamp.Before(dayStart) {
			continue
		}
		stats.TotalAttemptsToday++
		if rec.AccessGranted {
			stats.SuccessfulAttemptsToday++
		}
	}
	stats.TotalGates = len(s.gates)
	for _, rec := range s.gates {
		if rec.Status == "online" {
			stats.OnlineGates++
		}
	}
	return stats, nil
}
