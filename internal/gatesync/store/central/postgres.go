package central

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

// PostgresStore is the Postgres-backed variant of the authoritative store.
// Postgres serializes concurrent writers itself, so no write worker is
// needed; every call still runs in its own transaction where it mutates.
type PostgresStore struct {
	conn *sql.DB
}

func NewPostgresStore(ctx context.Context, conn *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{conn: conn}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Column types mirror the sqlite schema (UnixMilli BIGINTs, INTEGER flags)
// so both backends share one scanning path.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS vehicles (
  plate_number     TEXT PRIMARY KEY,
  owner_name       TEXT NOT NULL DEFAULT '',
  is_authorized    INTEGER NOT NULL DEFAULT 0,
  valid_from_ms    BIGINT NOT NULL,
  valid_until_ms   BIGINT,
  last_modified_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vehicles_modified ON vehicles(last_modified_ms);

CREATE TABLE IF NOT EXISTS access_logs (
  id               TEXT PRIMARY KEY,
  plate_number     TEXT NOT NULL,
  gate_id          TEXT NOT NULL,
  access_granted   INTEGER NOT NULL,
  confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  accessing        INTEGER NOT NULL DEFAULT 0,
  timestamp_ms     BIGINT NOT NULL,
  received_at_ms   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_logs_gate_time ON access_logs(gate_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_access_logs_plate_time ON access_logs(plate_number, timestamp_ms);

CREATE TABLE IF NOT EXISTS gates (
  gate_id                TEXT PRIMARY KEY,
  location               TEXT NOT NULL DEFAULT '',
  status                 TEXT NOT NULL DEFAULT 'offline',
  last_online_ms         BIGINT,
  local_cache_updated_ms BIGINT,
  created_at_ms          BIGINT NOT NULL,
  updated_at_ms          BIGINT NOT NULL
);`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) VehiclesChangedSince(ctx context.Context, version int64) ([]store.VehicleRecord, int64, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms
FROM vehicles
WHERE last_modified_ms > $1
ORDER BY last_modified_ms ASC, plate_number ASC;
`, version)
	if err != nil {
		return nil, 0, fmt.Errorf("VehiclesChangedSince query: %w", err)
	}
	defer rows.Close()

	recs, err := collectVehicles(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("VehiclesChangedSince scan: %w", err)
	}

	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, 0, err
	}
	return recs, current, nil
}

func (s *PostgresStore) CurrentVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_modified_ms), 0) FROM vehicles;`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("CurrentVersion query: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) VehicleByPlate(ctx context.Context, plate string) (*store.VehicleRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx, `
SELECT plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms
FROM vehicles
WHERE plate_number = $1;
`, plate)

	rec, err := scanVehicleRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("VehicleByPlate query: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListVehicles(ctx context.Context) ([]store.VehicleRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms
FROM vehicles
ORDER BY plate_number ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("ListVehicles query: %w", err)
	}
	defer rows.Close()

	recs, err := collectVehicles(rows)
	if err != nil {
		return nil, fmt.Errorf("ListVehicles scan: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) PutVehicle(ctx context.Context, rec store.VehicleRecord) error {
	if err := validateVehicle(&rec); err != nil {
		return err
	}

	var validUntil any
	if rec.ValidUntil != nil {
		validUntil = rec.ValidUntil.UTC().UnixMilli()
	}
	authorized := 0
	if rec.IsAuthorized {
		authorized = 1
	}
	nowMs := time.Now().UTC().UnixMilli()

	if _, err := s.conn.ExecContext(ctx, `
INSERT INTO vehicles(plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (plate_number) DO UPDATE SET
  owner_name = EXCLUDED.owner_name,
  is_authorized = EXCLUDED.is_authorized,
  valid_from_ms = EXCLUDED.valid_from_ms,
  valid_until_ms = EXCLUDED.valid_until_ms,
  last_modified_ms = EXCLUDED.last_modified_ms;
`,
		rec.PlateNumber, rec.OwnerName, authorized,
		rec.ValidFrom.UTC().UnixMilli(), validUntil, nowMs,
	); err != nil {
		return fmt.Errorf("PutVehicle %s: %w", rec.PlateNumber, err)
	}
	return nil
}

func (s *PostgresStore) IngestEvents(ctx context.Context, events []store.AccessLogRecord) (store.IngestResult, error) {
	var res store.IngestResult
	nowMs := time.Now().UTC().UnixMilli()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return store.IngestResult{}, fmt.Errorf("IngestEvents begin: %w", err)
	}

	for _, ev := range events {
		if ev.ID == "" || strings.TrimSpace(ev.PlateNumber) == "" || strings.TrimSpace(ev.GateID) == "" {
			res.Failed = append(res.Failed, ev.ID)
			continue
		}

		granted := 0
		if ev.AccessGranted {
			granted = 1
		}
		accessing := 0
		if ev.Accessing {
			accessing = 1
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.UnixMilli(nowMs).UTC()
		}

		// Savepoint per record: one bad insert must not poison the batch
		// transaction.
		if _, err := tx.ExecContext(ctx, `SAVEPOINT ingest_event;`); err != nil {
			_ = tx.Rollback()
			return store.IngestResult{}, fmt.Errorf("IngestEvents savepoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_logs(
  id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms, received_at_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING;
`,
			ev.ID, ev.PlateNumber, ev.GateID, granted,
			ev.ConfidenceScore, accessing, ts.UTC().UnixMilli(), nowMs,
		); err != nil {
			_, _ = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT ingest_event;`)
			res.Failed = append(res.Failed, ev.ID)
			continue
		}
		res.Committed = append(res.Committed, ev.ID)
	}

	if err := tx.Commit(); err != nil {
		return store.IngestResult{}, fmt.Errorf("IngestEvents commit: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) LatestLogByPlate(ctx context.Context, plate string) (*store.AccessLogRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx, `
SELECT id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms
FROM access_logs
WHERE plate_number = $1
ORDER BY timestamp_ms DESC, id DESC
LIMIT 1;
`, plate)

	rec, err := scanLogRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestLogByPlate query: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpsertGateStatus(ctx context.Context, gateID, status, location string, seenAt time.Time) error {
	gateID = strings.TrimSpace(gateID)
	if gateID == "" {
		return nil
	}
	if status == "" {
		status = "offline"
	}
	seenMs := seenAt.UTC().UnixMilli()

	if _, err := s.conn.ExecContext(ctx, `
INSERT INTO gates(gate_id, location, status, last_online_ms, created_at_ms, updated_at_ms)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (gate_id) DO UPDATE SET
  status = EXCLUDED.status,
  location = CASE WHEN EXCLUDED.location != '' THEN EXCLUDED.location ELSE gates.location END,
  last_online_ms = EXCLUDED.last_online_ms,
  updated_at_ms = EXCLUDED.updated_at_ms;
`, gateID, location, status, seenMs, seenMs, seenMs); err != nil {
		return fmt.Errorf("UpsertGateStatus %s: %w", gateID, err)
	}
	return nil
}

func (s *PostgresStore) MarkCacheUpdated(ctx context.Context, gateID string, t time.Time) error {
	gateID = strings.TrimSpace(gateID)
	if gateID == "" {
		return nil
	}
	ms := t.UTC().UnixMilli()

	if _, err := s.conn.ExecContext(ctx, `
INSERT INTO gates(gate_id, status, local_cache_updated_ms, created_at_ms, updated_at_ms)
VALUES ($1, 'offline', $2, $3, $4)
ON CONFLICT (gate_id) DO UPDATE SET
  local_cache_updated_ms = EXCLUDED.local_cache_updated_ms,
  updated_at_ms = EXCLUDED.updated_at_ms;
`, gateID, ms, ms, ms); err != nil {
		return fmt.Errorf("MarkCacheUpdated %s: %w", gateID, err)
	}
	return nil
}

func (s *PostgresStore) ListGates(ctx context.Context) ([]store.GateRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT gate_id, location, status, last_online_ms, local_cache_updated_ms
FROM gates
ORDER BY gate_id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("ListGates query: %w", err)
	}
	defer rows.Close()

	var out []store.GateRecord
	for rows.Next() {
		var (
			rec      store.GateRecord
			onlineMs sql.NullInt64
			cacheMs  sql.NullInt64
		)
		if err := rows.Scan(&rec.GateID, &rec.Location, &rec.Status, &onlineMs, &cacheMs); err != nil {
			return nil, fmt.Errorf("ListGates scan: %w", err)
		}
		if onlineMs.Valid {
			t := time.UnixMilli(onlineMs.Int64).UTC()
			rec.LastOnline = &t
		}
		if cacheMs.Valid {
			t := time.UnixMilli(cacheMs.Int64).UTC()
			rec.LocalCacheUpdated = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListGates rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AccessLogs(ctx context.Context, gateID string, limit int) ([]store.AccessLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if gateID != "" {
		rows, err = s.conn.QueryContext(ctx, `
SELECT id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms
FROM access_logs
WHERE gate_id = $1
ORDER BY timestamp_ms DESC, id DESC
LIMIT $2;
`, gateID, limit)
	} else {
		rows, err = s.conn.QueryContext(ctx, `
SELECT id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms
FROM access_logs
ORDER BY timestamp_ms DESC, id DESC
LIMIT $1;
`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("AccessLogs query: %w", err)
	}
	defer rows.Close()

	var out []store.AccessLogRecord
	for rows.Next() {
		rec, err := scanLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("AccessLogs scan: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AccessLogs rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DashboardStats(ctx context.Context) (store.DashboardStats, error) {
	var stats store.DashboardStats

	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vehicles WHERE is_authorized = 1;`,
	).Scan(&stats.TotalVehicles); err != nil {
		return stats, fmt.Errorf("DashboardStats vehicles: %w", err)
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour).UnixMilli()
	if err := s.conn.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(access_granted), 0)
FROM access_logs
WHERE timestamp_ms >= $1;
`, dayStart).Scan(&stats.TotalAttemptsToday, &stats.SuccessfulAttemptsToday); err != nil {
		return stats, fmt.Errorf("DashboardStats attempts: %w", err)
	}

	if err := s.conn.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'online' THEN 1 ELSE 0 END), 0)
FROM gates;
`).Scan(&stats.TotalGates, &stats.OnlineGates); err != nil {
		return stats, fmt.Errorf("DashboardStats gates: %w", err)
	}

	return stats, nil
}
