package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/plategate/gatesync/internal/gatesync/store"
	"github.com/plategate/gatesync/internal/gatesync/types"
	"github.com/plategate/gatesync/internal/transport"
)

// AgentConfig tunes one gate's sync behavior. Zero values fall back to
// the defaults the fleet runs with.
type AgentConfig struct {
	GateID   string
	Location string

	// SyncInterval is the period between sync cycles.
	SyncInterval time.Duration

	// BatchSize caps how many pending events one cycle uploads.
	BatchSize int

	// MaxRetries is the delivery attempt bound per event. An event at the
	// bound is parked: kept on disk, skipped by upload, visible to audit.
	MaxRetries int

	// Retention bounds how long synced events stay on the gate.
	Retention time.Duration

	// ResponseWait is how long a cycle waits for the center to answer a
	// sync request or a logs batch.
	ResponseWait time.Duration

	// ConnectWait bounds the reconnect backoff at the top of a cycle.
	ConnectWait time.Duration
}

func (c *AgentConfig) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.ResponseWait <= 0 {
		c.ResponseWait = 10 * time.Second
	}
	if c.ConnectWait <= 0 {
		c.ConnectWait = time.Minute
	}
}

// Agent runs the gate-side sync loop: pull the vehicle delta, push queued
// events, prune old synced history. Every cycle is best-effort; a failed
// or skipped cycle leaves all durable state intact for the next one.
type Agent struct {
	cfg AgentConfig

	tr          transport.Transport
	vehicles    store.VehicleStore
	events      store.EventStore
	checkpoints store.CheckpointStore
	logger      *log.Logger

	// Transport callbacks deposit raw payloads here; the cycle goroutine
	// is the only consumer.
	responses chan []byte
	acks      chan []byte

	subscribed bool
	done       chan struct{}
}

func NewAgent(cfg AgentConfig, tr transport.Transport, vehicles store.VehicleStore, events store.EventStore, checkpoints store.CheckpointStore, logger *log.Logger) *Agent {
	cfg.applyDefaults()
	return &Agent{
		cfg:         cfg,
		tr:          tr,
		vehicles:    vehicles,
		events:      events,
		checkpoints: checkpoints,
		logger:      logger,
		responses:   make(chan []byte, 8),
		acks:        make(chan []byte, 8),
		done:        make(chan struct{}),
	}
}

// Start subscribes to this gate's response topics and launches the cycle
// loop. The first cycle runs immediately.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.subscribe(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	go a.loop(ctx)
	return nil
}

// subscribe registers this gate's response topics. Idempotent: only the
// first call talks to the transport, so a forced cycle before Start still
// hears the center's answers.
func (a *Agent) subscribe() error {
	if a.subscribed {
		return nil
	}
	if a.cfg.GateID == "" {
		return fmt.Errorf("gate ID is required")
	}

	if err := a.tr.Subscribe(types.TopicSyncResponse(a.cfg.GateID), depositTo(a.responses)); err != nil {
		return fmt.Errorf("subscribe sync response: %w", err)
	}
	if err := a.tr.Subscribe(types.TopicLogsAck(a.cfg.GateID), depositTo(a.acks)); err != nil {
		return fmt.Errorf("subscribe logs ack: %w", err)
	}
	a.subscribed = true
	return nil
}

// Stop blocks until the loop has finished its in-flight cycle and exited.
func (a *Agent) Stop() {
	<-a.done
}

func depositTo(ch chan []byte) transport.Handler {
	return func(_ string, payload []byte) {
		select {
		case ch <- payload:
		default:
			// A stale consumer; the cycle drains before each request.
		}
	}
}

func (a *Agent) loop(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()

	a.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case <-ticker.C:
			a.RunCycle(ctx)
		}
	}
}

// shutdown tells the center this gate is going dark. Best effort; the
// center also ages gates out by last_online.
func (a *Agent) shutdown() {
	if !a.tr.Connected() {
		return
	}
	msg := types.StatusMessage{Status: types.GateStatusOffline, Location: a.cfg.Location}
	if err := a.publishJSON(types.TopicStatus(a.cfg.GateID), msg); err != nil {
		a.logger.Printf("agent: publish offline status: %v", err)
	}
}

// RunCycle performs one full sync pass. Exported so operators (and tests)
// can force a sync outside the timer, with or without the loop running.
func (a *Agent) RunCycle(ctx context.Context) {
	if err := a.subscribe(); err != nil {
		a.logger.Printf("agent: %v", err)
		return
	}
	if !a.ensureConnected(ctx) {
		a.logger.Printf("agent: broker unreachable, skipping cycle")
		return
	}

	a.announce()

	if err := a.pullDelta(ctx); err != nil {
		a.logger.Printf("agent: delta pull: %v", err)
	}
	if err := a.pushEvents(ctx); err != nil {
		a.logger.Printf("agent: event push: %v", err)
	}
	if err := a.prune(ctx); err != nil {
		a.logger.Printf("agent: retention prune: %v", err)
	}
}

// ensureConnected reconnects with jittered exponential backoff, bounded
// so a dead broker costs well under one sync interval.
func (a *Agent) ensureConnected(ctx context.Context) bool {
	if a.tr.Connected() {
		return true
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = a.cfg.ConnectWait

	err := backoff.Retry(func() error {
		return a.tr.Connect(ctx)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		a.logger.Printf("agent: connect: %v", err)
		return false
	}
	return true
}

func (a *Agent) announce() {
	msg := types.StatusMessage{Status: types.GateStatusOnline, Location: a.cfg.Location}
	if err := a.publishJSON(types.TopicStatus(a.cfg.GateID), msg); err != nil {
		a.logger.Printf("agent: publish status: %v", err)
	}
}

// pullDelta requests every vehicle changed since the local checkpoint and
// merges the response. The checkpoint advances even on an empty delta —
// the version is global, and re-asking for nothing forever is the bug
// this avoids.
func (a *Agent) pullDelta(ctx context.Context) error {
	version, err := a.checkpoints.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	drain(a.responses)
	req := types.SyncRequest{GateID: a.cfg.GateID, SyncVersion: version}
	if err := a.publishJSON(types.TopicSyncRequest(a.cfg.GateID), req); err != nil {
		return fmt.Errorf("publish sync request: %w", err)
	}

	payload, ok := a.await(ctx, a.responses)
	if !ok {
		return fmt.Errorf("no sync response within %s", a.cfg.ResponseWait)
	}

	var resp types.SyncResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decode sync response: %w", err)
	}

	// Parse the whole payload before touching the cache. One malformed
	// row discards the delta; a partial merge with an advanced checkpoint
	// would silently lose the bad rows forever.
	recs := make([]store.VehicleRecord, 0, len(resp.Vehicles))
	for _, v := range resp.Vehicles {
		rec, err := payloadToVehicle(v)
		if err != nil {
			return fmt.Errorf("reject delta, row %s: %w", v.PlateNumber, err)
		}
		recs = append(recs, rec)
	}

	if len(recs) > 0 {
		if err := a.vehicles.UpsertVehicles(ctx, recs); err != nil {
			return fmt.Errorf("merge %d vehicle(s): %w", len(recs), err)
		}
	}
	if err := a.checkpoints.SetCheckpoint(ctx, resp.SyncVersion); err != nil {
		return fmt.Errorf("advance checkpoint to %d: %w", resp.SyncVersion, err)
	}

	if len(recs) > 0 {
		a.logger.Printf("agent: merged %d vehicle(s), checkpoint %d", len(recs), resp.SyncVersion)
	}
	return nil
}

// pushEvents uploads one batch of pending events and applies the ack. A
// missing or lost ack increments retries on the whole batch; the IDs are
// stable, so a re-upload after a lost ack deduplicates at the center.
func (a *Agent) pushEvents(ctx context.Context) error {
	pending, err := a.events.PendingEvents(ctx, a.cfg.MaxRetries, a.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("load pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	batch := types.LogsBatch{
		GateID: a.cfg.GateID,
		Logs:   make([]types.LogEntry, 0, len(pending)),
	}
	ids := make([]string, 0, len(pending))
	for _, ev := range pending {
		batch.Logs = append(batch.Logs, types.LogEntry{
			ID:              ev.ID,
			PlateNumber:     ev.PlateNumber,
			GateID:          ev.GateID,
			AccessGranted:   ev.AccessGranted,
			ConfidenceScore: ev.ConfidenceScore,
			Accessing:       ev.Accessing,
			Timestamp:       formatTime(ev.CreatedAt),
		})
		ids = append(ids, ev.ID)
	}

	drain(a.acks)
	if err := a.publishJSON(types.TopicSyncLogs(a.cfg.GateID), batch); err != nil {
		return fmt.Errorf("publish %d log(s): %w", len(ids), err)
	}

	payload, ok := a.await(ctx, a.acks)
	if !ok {
		if err := a.events.IncrementRetry(ctx, ids); err != nil {
			return fmt.Errorf("bump retries after lost ack: %w", err)
		}
		return fmt.Errorf("no ack for %d log(s) within %s", len(ids), a.cfg.ResponseWait)
	}

	var ack types.LogsAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		if rerr := a.events.IncrementRetry(ctx, ids); rerr != nil {
			return fmt.Errorf("bump retries after bad ack: %v (decode: %w)", rerr, err)
		}
		return fmt.Errorf("decode ack: %w", err)
	}

	if len(ack.LogIDs) > 0 {
		if err := a.events.MarkSynced(ctx, ack.LogIDs); err != nil {
			return fmt.Errorf("mark %d synced: %w", len(ack.LogIDs), err)
		}
	}
	if len(ack.FailedLogIDs) > 0 {
		if err := a.events.IncrementRetry(ctx, ack.FailedLogIDs); err != nil {
			return fmt.Errorf("bump %d retries: %w", len(ack.FailedLogIDs), err)
		}
	}

	a.logger.Printf("agent: uploaded %d log(s): %d synced, %d failed", len(ids), len(ack.LogIDs), len(ack.FailedLogIDs))
	return nil
}

func (a *Agent) prune(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)
	n, err := a.events.PruneSynced(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Printf("agent: pruned %d synced event(s) older than %s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}

func (a *Agent) await(ctx context.Context, ch chan []byte) ([]byte, bool) {
	timer := time.NewTimer(a.cfg.ResponseWait)
	defer timer.Stop()

	select {
	case payload := <-ch:
		return payload, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (a *Agent) publishJSON(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.tr.Publish(topic, b)
}

// drain discards responses left over from a previous cycle so the next
// await cannot pair a request with a stale answer.
func drain(ch chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func payloadToVehicle(p types.VehiclePayload) (store.VehicleRecord, error) {
	if p.PlateNumber == "" {
		return store.VehicleRecord{}, fmt.Errorf("missing plate_number")
	}
	validFrom, err := parseTime(p.ValidFrom)
	if err != nil {
		return store.VehicleRecord{}, fmt.Errorf("bad valid_from %q: %w", p.ValidFrom, err)
	}
	lastModified, err := parseTime(p.LastModified)
	if err != nil {
		return store.VehicleRecord{}, fmt.Errorf("bad last_modified %q: %w", p.LastModified, err)
	}

	rec := store.VehicleRecord{
		PlateNumber:  p.PlateNumber,
		OwnerName:    p.OwnerName,
		IsAuthorized: p.IsAuthorized,
		ValidFrom:    validFrom,
		LastModified: lastModified,
	}
	if p.ValidUntil != nil {
		until, err := parseTime(*p.ValidUntil)
		if err != nil {
			return store.VehicleRecord{}, fmt.Errorf("bad valid_until %q: %w", *p.ValidUntil, err)
		}
		rec.ValidUntil = &until
	}
	return rec, nil
}
