package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plategate/gatesync/internal/anpr"
	"github.com/plategate/gatesync/internal/gatesync/store"
	"github.com/plategate/gatesync/internal/gatesync/types"
	"github.com/plategate/gatesync/internal/transport"
)

const coordinatorInboxSize = 256

// unknownPlate is the verdict subject when neither recognition nor the
// payload yields a plate.
const unknownPlate = "UNKNOWN"

// Coordinator is the central side of the sync protocol. It serves vehicle
// deltas, commits event batches, records gate heartbeats and answers the
// online access path. All work happens on one loop goroutine; transport
// callbacks only deposit into the inbox.
type Coordinator struct {
	tr      transport.Transport
	central store.CentralStore
	rec     anpr.Recognizer
	logger  *log.Logger

	inbox chan inbound
	done  chan struct{}
}

type inbound struct {
	topic   string
	payload []byte
}

func NewCoordinator(tr transport.Transport, central store.CentralStore, rec anpr.Recognizer, logger *log.Logger) *Coordinator {
	if rec == nil {
		rec = anpr.Passthrough{}
	}
	return &Coordinator{
		tr:      tr,
		central: central,
		rec:     rec,
		logger:  logger,
		inbox:   make(chan inbound, coordinatorInboxSize),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the gate topics and launches the dispatch loop.
func (c *Coordinator) Start(ctx context.Context) error {
	filters := []string{
		types.TopicAnyStatus,
		types.TopicAnyAccess,
		types.TopicAnySyncRequest,
		types.TopicAnySyncLogs,
	}
	for _, f := range filters {
		if err := c.tr.Subscribe(f, c.deposit); err != nil {
			return fmt.Errorf("subscribe %s: %w", f, err)
		}
	}

	go c.loop(ctx)
	return nil
}

// Stop waits for the dispatch loop to drain and exit.
func (c *Coordinator) Stop() {
	<-c.done
}

func (c *Coordinator) deposit(topic string, payload []byte) {
	select {
	case c.inbox <- inbound{topic: topic, payload: payload}:
	default:
		c.logger.Printf("coordinator: inbox full, dropping message on %s", topic)
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			c.dispatch(ctx, msg.topic, msg.payload)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, topic string, payload []byte) {
	gateID := types.GateIDFromTopic(topic)
	if gateID == "" {
		c.logger.Printf("coordinator: unroutable topic %q", topic)
		return
	}

	switch {
	case transport.TopicMatches(types.TopicAnyStatus, topic):
		c.handleStatus(ctx, gateID, payload)
	case transport.TopicMatches(types.TopicAnySyncRequest, topic):
		c.handleSyncRequest(ctx, gateID, payload)
	case transport.TopicMatches(types.TopicAnySyncLogs, topic):
		c.handleLogs(ctx, gateID, payload)
	case transport.TopicMatches(types.TopicAnyAccess, topic):
		c.handleAccess(ctx, gateID, payload)
	default:
		c.logger.Printf("coordinator: no handler for topic %q", topic)
	}
}

// handleStatus records a heartbeat. Unknown gates self-register.
func (c *Coordinator) handleStatus(ctx context.Context, gateID string, payload []byte) {
	var msg types.StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Printf("coordinator: bad status payload from %s: %v", gateID, err)
		return
	}
	status := msg.Status
	if status != types.GateStatusOnline && status != types.GateStatusOffline {
		c.logger.Printf("coordinator: gate %s sent unknown status %q", gateID, status)
		return
	}

	if err := c.central.UpsertGateStatus(ctx, gateID, status, msg.Location, time.Now().UTC()); err != nil {
		c.logger.Printf("coordinator: record status for %s: %v", gateID, err)
	}
}

// handleSyncRequest computes the strictly-greater delta and publishes it
// back on the gate's response topic.
func (c *Coordinator) handleSyncRequest(ctx context.Context, gateID string, payload []byte) {
	var req types.SyncRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.logger.Printf("coordinator: bad sync request from %s: %v", gateID, err)
		return
	}
	if req.GateID != "" && req.GateID != gateID {
		c.logger.Printf("coordinator: sync request body names %s on topic for %s", req.GateID, gateID)
		return
	}

	recs, version, err := c.central.VehiclesChangedSince(ctx, req.SyncVersion)
	if err != nil {
		c.logger.Printf("coordinator: delta for %s since %d: %v", gateID, req.SyncVersion, err)
		return
	}

	resp := types.SyncResponse{
		Vehicles:    make([]types.VehiclePayload, 0, len(recs)),
		SyncVersion: version,
		Timestamp:   formatTime(time.Now()),
	}
	for _, r := range recs {
		resp.Vehicles = append(resp.Vehicles, vehicleToPayload(r))
	}

	if err := c.publishJSON(types.TopicSyncResponse(gateID), resp); err != nil {
		c.logger.Printf("coordinator: publish delta to %s: %v", gateID, err)
		return
	}
	if err := c.central.MarkCacheUpdated(ctx, gateID, time.Now().UTC()); err != nil {
		c.logger.Printf("coordinator: mark cache updated for %s: %v", gateID, err)
	}
	c.logger.Printf("coordinator: served %d vehicle(s) to %s (version %d)", len(recs), gateID, version)
}

// handleLogs ingests a batch idempotently and acks per-event outcomes.
// Entries that fail to parse are acked as failed, never silently dropped,
// so the gate stops retrying what the center will never accept.
func (c *Coordinator) handleLogs(ctx context.Context, gateID string, payload []byte) {
	var batch types.LogsBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		c.logger.Printf("coordinator: bad logs payload from %s: %v", gateID, err)
		return
	}
	if len(batch.Logs) == 0 {
		return
	}

	var (
		records     []store.AccessLogRecord
		parseFailed []string
	)
	for _, entry := range batch.Logs {
		rec, err := logEntryToRecord(entry, gateID)
		if err != nil {
			c.logger.Printf("coordinator: reject log %s from %s: %v", entry.ID, gateID, err)
			parseFailed = append(parseFailed, entry.ID)
			continue
		}
		records = append(records, rec)
	}

	result, err := c.central.IngestEvents(ctx, records)
	if err != nil {
		// Nothing committed; stay silent and let the gate retry the batch.
		c.logger.Printf("coordinator: ingest %d log(s) from %s: %v", len(records), gateID, err)
		return
	}

	failed := append(result.Failed, parseFailed...)
	ack := types.LogsAck{
		Status:       types.AckStatusSuccess,
		LogIDs:       result.Committed,
		FailedLogIDs: failed,
		Timestamp:    formatTime(time.Now()),
	}
	if len(failed) > 0 {
		ack.Status = types.AckStatusPartial
	}

	if err := c.publishJSON(types.TopicLogsAck(gateID), ack); err != nil {
		c.logger.Printf("coordinator: publish ack to %s: %v", gateID, err)
	}
}

// handleAccess is the online decision path: recognize the plate (or take
// the one supplied), decide against the central registry, commit the
// event and answer on server/response/<gate>.
func (c *Coordinator) handleAccess(ctx context.Context, gateID string, payload []byte) {
	var msg types.AccessMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Printf("coordinator: bad access payload from %s: %v", gateID, err)
		return
	}

	plate, confidence, err := c.resolvePlate(msg)
	if err != nil {
		c.logger.Printf("coordinator: access from %s: %v", gateID, err)
		return
	}

	now := time.Now().UTC()

	rec, err := c.central.VehicleByPlate(ctx, plate)
	if err != nil {
		c.logger.Printf("coordinator: vehicle lookup %s: %v", plate, err)
		return
	}
	granted := rec != nil && rec.ValidAt(now)

	accessing := false
	if granted {
		prev, err := c.central.LatestLogByPlate(ctx, plate)
		if err != nil {
			c.logger.Printf("coordinator: presence lookup %s: %v", plate, err)
			return
		}
		if prev == nil {
			accessing = true
		} else {
			accessing = !prev.Accessing
		}
	}

	event := store.AccessLogRecord{
		ID:              uuid.NewString(),
		PlateNumber:     plate,
		GateID:          gateID,
		AccessGranted:   granted,
		ConfidenceScore: confidence,
		Accessing:       accessing,
		Timestamp:       now,
	}
	if _, err := c.central.IngestEvents(ctx, []store.AccessLogRecord{event}); err != nil {
		c.logger.Printf("coordinator: commit access event for %s: %v", plate, err)
		return
	}

	resp := types.AccessResponse{
		PlateNumber:   plate,
		AccessGranted: granted,
		Confidence:    confidence,
		Timestamp:     formatTime(now),
		Accessing:     accessing,
	}
	if err := c.publishJSON(types.TopicServerResponse(gateID), resp); err != nil {
		c.logger.Printf("coordinator: publish access response to %s: %v", gateID, err)
	}
}

func (c *Coordinator) resolvePlate(msg types.AccessMessage) (string, float64, error) {
	if msg.Image != "" {
		img, err := base64.StdEncoding.DecodeString(msg.Image)
		if err != nil {
			return "", 0, fmt.Errorf("decode image: %w", err)
		}
		res, err := c.rec.Recognize(img)
		if err == nil {
			return strings.TrimSpace(res.PlateNumber), res.Confidence, nil
		}
		if !errors.Is(err, anpr.ErrNoPlate) {
			return "", 0, fmt.Errorf("recognize: %w", err)
		}
		// Fall through to the device-provided plate.
	}

	plate := strings.TrimSpace(msg.PlateNumber)
	if plate == "" {
		// The gate still expects an answer; UNKNOWN never matches the
		// registry, so the verdict is a logged denial.
		return unknownPlate, 0.0, nil
	}
	// Device-recognized plates arrive without a score; treat them as
	// fully confident.
	return plate, 1.0, nil
}

func (c *Coordinator) publishJSON(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.tr.Publish(topic, b)
}

func vehicleToPayload(r store.VehicleRecord) types.VehiclePayload {
	p := types.VehiclePayload{
		PlateNumber:  r.PlateNumber,
		OwnerName:    r.OwnerName,
		IsAuthorized: r.IsAuthorized,
		ValidFrom:    formatTime(r.ValidFrom),
		LastModified: formatTime(r.LastModified),
	}
	if r.ValidUntil != nil {
		s := formatTime(*r.ValidUntil)
		p.ValidUntil = &s
	}
	return p
}

func logEntryToRecord(entry types.LogEntry, gateID string) (store.AccessLogRecord, error) {
	if entry.ID == "" {
		return store.AccessLogRecord{}, errors.New("missing id")
	}
	if strings.TrimSpace(entry.PlateNumber) == "" {
		return store.AccessLogRecord{}, errors.New("missing plate_number")
	}

	ts := time.Now().UTC()
	if entry.Timestamp != "" {
		parsed, err := parseTime(entry.Timestamp)
		if err != nil {
			return store.AccessLogRecord{}, fmt.Errorf("bad timestamp %q: %w", entry.Timestamp, err)
		}
		ts = parsed
	}

	rec := store.AccessLogRecord{
		ID:              entry.ID,
		PlateNumber:     strings.TrimSpace(entry.PlateNumber),
		GateID:          entry.GateID,
		AccessGranted:   entry.AccessGranted,
		ConfidenceScore: entry.ConfidenceScore,
		Accessing:       entry.Accessing,
		Timestamp:       ts,
	}
	if rec.GateID == "" {
		rec.GateID = gateID
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
