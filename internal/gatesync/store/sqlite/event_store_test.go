package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/store"
	sqlitestore "github.com/plategate/gatesync/internal/gatesync/store/sqlite"
)

func appendAt(t *testing.T, es *sqlitestore.EventStore, plate string, at time.Time, granted, accessing bool) string {
	t.Helper()

	id, err := es.AppendEvent(context.Background(), store.EventRecord{
		CreatedAt:       at,
		PlateNumber:     plate,
		GateID:          "gate-main",
		AccessGranted:   granted,
		ConfidenceScore: 0.93,
		Accessing:       accessing,
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	return id
}

// ═══════════════════════════════════════════════════════════════════════════
// AppendEvent
// ═══════════════════════════════════════════════════════════════════════════

func TestEventStore_AppendEvent_AssignsIDAndStartsPending(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id := appendAt(t, es, "1234ABC", now, true, true)
	if id == "" {
		t.Fatal("expected a non-empty event ID")
	}

	pending, err := es.PendingEvents(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(pending))
	}

	ev := pending[0]
	if ev.ID != id {
		t.Errorf("expected id=%s, got %s", id, ev.ID)
	}
	if ev.SyncStatus != store.SyncStatusPending {
		t.Errorf("expected status=pending, got %q", ev.SyncStatus)
	}
	if ev.RetryCount != 0 {
		t.Errorf("expected retry_count=0, got %d", ev.RetryCount)
	}
	if !ev.CreatedAt.Equal(now) {
		t.Errorf("expected created_at=%v, got %v", now, ev.CreatedAt)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// PendingEvents — ordering and retry bound
// ═══════════════════════════════════════════════════════════════════════════

func TestEventStore_PendingEvents_OldestFirst(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id2 := appendAt(t, es, "1234ABC", base.Add(2*time.Minute), true, false)
	id0 := appendAt(t, es, "1234ABC", base, true, true)
	id1 := appendAt(t, es, "5678DEF", base.Add(time.Minute), false, false)

	pending, err := es.PendingEvents(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending events, got %d", len(pending))
	}
	want := []string{id0, id1, id2}
	for i, id := range want {
		if pending[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, pending[i].ID)
		}
	}
}

func TestEventStore_PendingEvents_ExcludesEventsAtRetryBound(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	parked := appendAt(t, es, "1234ABC", now, true, true)
	appendAt(t, es, "5678DEF", now.Add(time.Second), true, true)

	for i := 0; i < 3; i++ {
		if err := es.IncrementRetry(context.Background(), []string{parked}); err != nil {
			t.Fatalf("IncrementRetry: %v", err)
		}
	}

	pending, err := es.PendingEvents(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(pending))
	}
	if pending[0].ID == parked {
		t.Error("event at the retry bound should be excluded from upload")
	}

	// The parked event is kept on disk, not deleted.
	ev, err := es.LatestEventByPlate(context.Background(), "1234ABC")
	if err != nil {
		t.Fatalf("LatestEventByPlate: %v", err)
	}
	if ev == nil || ev.RetryCount != 3 {
		t.Fatalf("expected parked event with retry_count=3, got %+v", ev)
	}
}

func TestEventStore_PendingEvents_HonorsLimit(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendAt(t, es, "1234ABC", base.Add(time.Duration(i)*time.Second), true, i%2 == 0)
	}

	pending, err := es.PendingEvents(context.Background(), 3, 2)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pending))
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// MarkSynced / PruneSynced
// ═══════════════════════════════════════════════════════════════════════════

func TestEventStore_MarkSynced_RemovesFromPending(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id := appendAt(t, es, "1234ABC", now, true, true)

	if err := es.MarkSynced(context.Background(), []string{id}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	pending, err := es.PendingEvents(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending events, got %d", len(pending))
	}
}

func TestEventStore_PruneSynced_NeverDeletesPending(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	oldPending := appendAt(t, es, "1234ABC", old, true, true)
	oldSynced := appendAt(t, es, "5678DEF", old, true, true)
	recentSynced := appendAt(t, es, "9999XYZ", cutoff.Add(time.Hour), true, true)

	if err := es.MarkSynced(context.Background(), []string{oldSynced, recentSynced}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	n, err := es.PruneSynced(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneSynced: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned event, got %d", n)
	}

	// The old pending event survives regardless of age.
	ev, err := es.LatestEventByPlate(context.Background(), "1234ABC")
	if err != nil {
		t.Fatalf("LatestEventByPlate: %v", err)
	}
	if ev == nil || ev.ID != oldPending {
		t.Fatal("old pending event must survive the prune")
	}

	// The old synced event is gone; the recent one is kept.
	if ev, _ := es.LatestEventByPlate(context.Background(), "5678DEF"); ev != nil {
		t.Error("old synced event should have been pruned")
	}
	if ev, _ := es.LatestEventByPlate(context.Background(), "9999XYZ"); ev == nil {
		t.Error("recent synced event should have been kept")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// LatestEventByPlate
// ═══════════════════════════════════════════════════════════════════════════

func TestEventStore_LatestEventByPlate_IgnoresSyncStatus(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := appendAt(t, es, "1234ABC", base, true, true)
	second := appendAt(t, es, "1234ABC", base.Add(time.Minute), true, false)

	// Syncing the newer event must not change which one is latest.
	if err := es.MarkSynced(context.Background(), []string{second}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	ev, err := es.LatestEventByPlate(context.Background(), "1234ABC")
	if err != nil {
		t.Fatalf("LatestEventByPlate: %v", err)
	}
	if ev == nil || ev.ID != second {
		t.Fatalf("expected latest event %s, got %+v", second, ev)
	}
	if ev.Accessing {
		t.Error("expected accessing=false on the latest event")
	}
	_ = first
}

func TestEventStore_LatestEventByPlate_UnknownPlateIsNil(t *testing.T) {
	conn := openTestDB(t)
	es := sqlitestore.NewEventStore(conn, newTestWriter(t, conn))

	ev, err := es.LatestEventByPlate(context.Background(), "0000AAA")
	if err != nil {
		t.Fatalf("LatestEventByPlate: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil for unknown plate, got %+v", ev)
	}
}
