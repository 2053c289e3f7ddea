package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/service"
	"github.com/plategate/gatesync/internal/gatesync/store"
	"github.com/plategate/gatesync/internal/gatesync/store/memory"
	"github.com/plategate/gatesync/internal/gatesync/types"
	"github.com/plategate/gatesync/internal/transport"
)

type gateFixture struct {
	vehicles    *memory.VehicleStore
	events      *memory.EventStore
	checkpoints *memory.CheckpointStore
	agent       *service.Agent
	conn        *transport.Conn
}

func newGateFixture(t *testing.T, bus *transport.Bus, cfg service.AgentConfig) *gateFixture {
	t.Helper()

	f := &gateFixture{
		vehicles:    memory.NewVehicleStore(),
		events:      memory.NewEventStore(),
		checkpoints: memory.NewCheckpointStore(),
		conn:        bus.Endpoint(),
	}
	if cfg.GateID == "" {
		cfg.GateID = "gate-main"
	}
	f.agent = service.NewAgent(cfg, f.conn, f.vehicles, f.events, f.checkpoints, testLogger())
	return f
}

func (f *gateFixture) appendPending(t *testing.T, plate string) string {
	t.Helper()

	id, err := f.events.AppendEvent(context.Background(), store.EventRecord{
		PlateNumber:     plate,
		GateID:          "gate-main",
		AccessGranted:   true,
		ConfidenceScore: 0.9,
		Accessing:       true,
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	return id
}

func TestAgent_FullCycle_PullsDeltaPushesEventsRegistersGate(t *testing.T) {
	bus := transport.NewBus()
	central := memory.NewCentralStore()

	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	central.PutVehicleAt(store.VehicleRecord{
		PlateNumber:  "1234ABC",
		OwnerName:    "Resident A",
		IsAuthorized: true,
		ValidFrom:    modified.Add(-24 * time.Hour),
		LastModified: modified,
	})
	central.PutVehicleAt(store.VehicleRecord{
		PlateNumber:  "5678DEF",
		IsAuthorized: true,
		ValidFrom:    modified.Add(-24 * time.Hour),
		LastModified: modified.Add(-time.Minute),
	})

	startCoordinator(t, bus, central)

	f := newGateFixture(t, bus, service.AgentConfig{
		Location:     "main entrance",
		SyncInterval: time.Hour,
		ResponseWait: 2 * time.Second,
		ConnectWait:  time.Second,
	})
	eventID := f.appendPending(t, "1234ABC")

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.agent.Start(ctx); err != nil {
		t.Fatalf("agent start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		f.agent.Stop()
	})

	// Delta merged into the local cache, checkpoint at the global version.
	waitFor(t, 3*time.Second, func() bool { return f.vehicles.Count() == 2 }, "vehicle cache merge")
	waitFor(t, 3*time.Second, func() bool {
		v, _ := f.checkpoints.Checkpoint(context.Background())
		return v == modified.UnixMilli()
	}, "checkpoint advance")

	// Pending event delivered, acked and marked synced locally.
	waitFor(t, 3*time.Second, func() bool {
		for _, ev := range f.events.Events() {
			if ev.ID == eventID && ev.SyncStatus == store.SyncStatusSynced {
				return true
			}
		}
		return false
	}, "event marked synced")

	logs, _ := central.AccessLogs(context.Background(), "gate-main", 10)
	if len(logs) != 1 || logs[0].ID != eventID {
		t.Fatalf("expected the event committed centrally, got %+v", logs)
	}

	// The heartbeat self-registered the gate.
	gates, _ := central.ListGates(context.Background())
	if len(gates) != 1 || gates[0].GateID != "gate-main" || gates[0].Status != types.GateStatusOnline {
		t.Fatalf("expected online gate-main, got %+v", gates)
	}
	if gates[0].Location != "main entrance" {
		t.Errorf("expected registered location, got %q", gates[0].Location)
	}
}

func TestAgent_BrokerUnreachable_SkipsCycleLeavingStateIntact(t *testing.T) {
	bus := transport.NewBus()

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		ResponseWait: 50 * time.Millisecond,
		ConnectWait:  10 * time.Millisecond,
	})
	f.conn.ConnectErr = errors.New("dial tcp: connection refused")
	f.appendPending(t, "1234ABC")

	f.agent.RunCycle(context.Background())

	// Nothing moved: the event is still pending with no retries burned,
	// the checkpoint untouched.
	events := f.events.Events()
	if len(events) != 1 || events[0].SyncStatus != store.SyncStatusPending || events[0].RetryCount != 0 {
		t.Fatalf("expected untouched pending event, got %+v", events)
	}
	if v, _ := f.checkpoints.Checkpoint(context.Background()); v != 0 {
		t.Fatalf("expected checkpoint 0, got %d", v)
	}
}

func TestAgent_LostAck_IncrementsRetryUntilParked(t *testing.T) {
	// Broker up, center silent: every upload times out.
	bus := transport.NewBus()

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		MaxRetries:   3,
		ResponseWait: 30 * time.Millisecond,
		ConnectWait:  time.Second,
	})
	f.appendPending(t, "1234ABC")

	for cycle := 1; cycle <= 3; cycle++ {
		f.agent.RunCycle(context.Background())

		events := f.events.Events()
		if len(events) != 1 {
			t.Fatalf("cycle %d: expected 1 event, got %d", cycle, len(events))
		}
		if events[0].RetryCount != cycle {
			t.Fatalf("cycle %d: expected retry_count=%d, got %d", cycle, cycle, events[0].RetryCount)
		}
	}

	// At the bound the event is parked: excluded from upload, kept on disk.
	f.agent.RunCycle(context.Background())
	events := f.events.Events()
	if events[0].RetryCount != 3 {
		t.Fatalf("expected retry_count to stay at 3, got %d", events[0].RetryCount)
	}
	if events[0].SyncStatus != store.SyncStatusPending {
		t.Fatalf("parked event must stay pending, got %q", events[0].SyncStatus)
	}
}

// fakeCenter answers sync requests on the bus with a canned response.
// Replies run on their own goroutine because bus handlers must not block.
// The returned channel ticks once per served request, so tests can tell a
// delivered-and-rejected delta from one that never arrived.
func fakeCenter(t *testing.T, bus *transport.Bus, gateID string, resp []byte) <-chan struct{} {
	t.Helper()

	conn := bus.Endpoint()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("fake center connect: %v", err)
	}

	served := make(chan struct{}, 8)
	requests := subscribeChan(t, conn, types.TopicSyncRequest(gateID))
	go func() {
		for range requests {
			_ = conn.Publish(types.TopicSyncResponse(gateID), resp)
			served <- struct{}{}
		}
	}()
	return served
}

func TestAgent_MalformedDeltaDiscardedEntirely(t *testing.T) {
	bus := transport.NewBus()

	resp, _ := json.Marshal(map[string]any{
		"vehicles": []map[string]any{
			{
				"plate_number":  "1234ABC",
				"is_authorized": true,
				"valid_from":    "2026-01-01T00:00:00Z",
				"last_modified": "2026-01-01T00:00:00Z",
			},
			{
				"plate_number":  "5678DEF",
				"is_authorized": true,
				"valid_from":    "not-a-timestamp",
				"last_modified": "2026-01-01T00:00:00Z",
			},
		},
		"sync_version": 999,
		"timestamp":    "2026-03-01T12:00:00Z",
	})
	served := fakeCenter(t, bus, "gate-main", resp)

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		ResponseWait: 2 * time.Second,
		ConnectWait:  time.Second,
	})

	f.agent.RunCycle(context.Background())

	// The delta must have been delivered, not lost: only then does the
	// empty cache below prove the reject-whole-payload path.
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("center never served the delta")
	}

	// One bad row poisons the whole delta: no partial merge, no
	// checkpoint advance.
	if f.vehicles.Count() != 0 {
		t.Fatalf("expected no vehicles merged, got %d", f.vehicles.Count())
	}
	if v, _ := f.checkpoints.Checkpoint(context.Background()); v != 0 {
		t.Fatalf("expected checkpoint 0, got %d", v)
	}
}

func TestAgent_EmptyDeltaStillAdvancesCheckpoint(t *testing.T) {
	bus := transport.NewBus()

	resp, _ := json.Marshal(types.SyncResponse{
		Vehicles:    []types.VehiclePayload{},
		SyncVersion: 12345,
		Timestamp:   "2026-03-01T12:00:00Z",
	})
	fakeCenter(t, bus, "gate-main", resp)

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		ResponseWait: 2 * time.Second,
		ConnectWait:  time.Second,
	})

	f.agent.RunCycle(context.Background())

	if v, _ := f.checkpoints.Checkpoint(context.Background()); v != 12345 {
		t.Fatalf("expected checkpoint 12345 after empty delta, got %d", v)
	}
}

func TestAgent_PartialAck_SplitsBatch(t *testing.T) {
	bus := transport.NewBus()

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		MaxRetries:   3,
		ResponseWait: 2 * time.Second,
		ConnectWait:  time.Second,
	})
	goodID := f.appendPending(t, "1234ABC")
	badID := f.appendPending(t, "5678DEF")

	// A center that rejects the second event of every batch.
	center := bus.Endpoint()
	if err := center.Connect(context.Background()); err != nil {
		t.Fatalf("center connect: %v", err)
	}
	batches := subscribeChan(t, center, types.TopicSyncLogs("gate-main"))
	go func() {
		for range batches {
			ack, _ := json.Marshal(types.LogsAck{
				Status:       types.AckStatusPartial,
				LogIDs:       []string{goodID},
				FailedLogIDs: []string{badID},
				Timestamp:    time.Now().UTC().Format(time.RFC3339),
			})
			_ = center.Publish(types.TopicLogsAck("gate-main"), ack)
		}
	}()

	f.agent.RunCycle(context.Background())

	byID := make(map[string]store.EventRecord)
	for _, ev := range f.events.Events() {
		byID[ev.ID] = ev
	}
	if byID[goodID].SyncStatus != store.SyncStatusSynced {
		t.Errorf("expected %s synced, got %q", goodID, byID[goodID].SyncStatus)
	}
	if byID[badID].SyncStatus != store.SyncStatusPending || byID[badID].RetryCount != 1 {
		t.Errorf("expected %s pending with retry_count=1, got %+v", badID, byID[badID])
	}
}

func TestAgent_OfflineBacklogFlushedInOneCycle(t *testing.T) {
	bus := transport.NewBus()
	central := memory.NewCentralStore()
	startCoordinator(t, bus, central)

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		BatchSize:    50,
		MaxRetries:   3,
		ResponseWait: 2 * time.Second,
		ConnectWait:  time.Second,
	})

	// Three decisions queued while the broker was unreachable.
	ids := []string{
		f.appendPending(t, "1234ABC"),
		f.appendPending(t, "5678DEF"),
		f.appendPending(t, "9012GHI"),
	}

	// The link comes back; one cycle drains the whole backlog.
	f.agent.RunCycle(context.Background())

	pending, err := f.events.PendingEvents(context.Background(), 3, 50)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue after the cycle, got %d pending", len(pending))
	}

	byID := make(map[string]store.EventRecord)
	for _, ev := range f.events.Events() {
		byID[ev.ID] = ev
	}
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			t.Fatalf("event %s vanished from the local store", id)
		}
		if ev.SyncStatus != store.SyncStatusSynced {
			t.Errorf("event %s: expected synced, got %q", id, ev.SyncStatus)
		}
		if ev.RetryCount != 0 {
			t.Errorf("event %s: expected no retries burned, got %d", id, ev.RetryCount)
		}
	}

	logs, _ := central.AccessLogs(context.Background(), "gate-main", 10)
	if len(logs) != 3 {
		t.Fatalf("expected 3 events committed centrally, got %d", len(logs))
	}
}

func TestAgent_RetentionPrune_RunsDuringCycle(t *testing.T) {
	bus := transport.NewBus()
	central := memory.NewCentralStore()
	startCoordinator(t, bus, central)

	f := newGateFixture(t, bus, service.AgentConfig{
		SyncInterval: time.Hour,
		Retention:    7 * 24 * time.Hour,
		ResponseWait: 2 * time.Second,
		ConnectWait:  time.Second,
	})

	// An ancient synced event and an ancient pending one.
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	syncedID, err := f.events.AppendEvent(context.Background(), store.EventRecord{
		CreatedAt: old, PlateNumber: "1234ABC", GateID: "gate-main",
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := f.events.MarkSynced(context.Background(), []string{syncedID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	pendingID, err := f.events.AppendEvent(context.Background(), store.EventRecord{
		CreatedAt: old, PlateNumber: "5678DEF", GateID: "gate-main", RetryCount: 0,
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	// Park the pending event so the cycle's upload leaves it alone.
	for i := 0; i < 3; i++ {
		if err := f.events.IncrementRetry(context.Background(), []string{pendingID}); err != nil {
			t.Fatalf("IncrementRetry: %v", err)
		}
	}

	f.agent.RunCycle(context.Background())

	byID := make(map[string]store.EventRecord)
	for _, ev := range f.events.Events() {
		byID[ev.ID] = ev
	}
	if _, ok := byID[syncedID]; ok {
		t.Error("old synced event should have been pruned")
	}
	if _, ok := byID[pendingID]; !ok {
		t.Error("pending event must never be pruned, whatever its age")
	}
}
