package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

// EventStore is an in-memory pending-event queue for tests and dev.
type EventStore struct {
	mu     sync.Mutex
	events []store.EventRecord

	FailAll bool
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) AppendEvent(_ context.Context, rec store.EventRecord) (string, error) {
	if s.FailAll {
		return "", store.ErrUnavailable
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.SyncStatus = store.SyncStatusPending
	rec.RetryCount = 0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	return rec.ID, nil
}

func (s *EventStore) LatestEventByPlate(_ context.Context, plate string) (*store.EventRecord, error) {
	if s.FailAll {
		return nil, store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *store.EventRecord
	for i := range s.events {
		ev := s.events[i]
		if ev.PlateNumber != plate {
			continue
		}
		// >= so the later-appended event wins a timestamp tie.
		if latest == nil || !ev.CreatedAt.Before(latest.CreatedAt) {
			cp := ev
			latest = &cp
		}
	}
	return latest, nil
}

func (s *EventStore) PendingEvents(_ context.Context, maxRetries, limit int) ([]store.EventRecord, error) {
	if s.FailAll {
		return nil, store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.EventRecord
	for _, ev := range s.events {
		if ev.SyncStatus == store.SyncStatusPending && ev.RetryCount < maxRetries {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EventStore) MarkSynced(_ context.Context, ids []string) error {
	if s.FailAll {
		return store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := toSet(ids)
	for i := range s.events {
		if _, ok := idSet[s.events[i].ID]; ok {
			s.events[i].SyncStatus = store.SyncStatusSynced
		}
	}
	return nil
}

func (s *EventStore) IncrementRetry(_ context.Context, ids []string) error {
	if s.FailAll {
		return store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := toSet(ids)
	for i := range s.events {
		if _, ok := idSet[s.events[i].ID]; ok {
			s.events[i].RetryCount++
		}
	}
	return nil
}

func (s *EventStore) PruneSynced(_ context.Context, olderThan time.Time) (int64, error) {
	if s.FailAll {
		return 0, store.ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []store.EventRecord
	var deleted int64
	for _, ev := range s.events {
		if ev.SyncStatus == store.SyncStatusSynced && ev.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

// Events returns a copy of every stored event. Test-only helper.
func (s *EventStore) Events() []store.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.EventRecord, len(s.events))
	copy(out, s.events)
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
