// Package central implements the authoritative store behind the sync
// coordinator and the admin API. Two backends exist: sqlite (default) and
// Postgres, selected by configuration.
package central

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/plategate/gatesync/internal/db"
	"github.com/plategate/gatesync/internal/gatesync/store"
)

type SQLiteStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewSQLiteStore(conn *sql.DB, writer *dbpkg.Worker) *SQLiteStore {
	return &SQLiteStore{conn: conn, writer: writer}
}

func (s *SQLiteStore) VehiclesChangedSince(ctx context.Context, version int64) ([]store.VehicleRecord, int64, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms
FROM vehicles
WHERE last_modified_ms > ?
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

func (s *SQLiteStore) CurrentVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_modified_ms), 0) FROM vehicles;`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("CurrentVersion query: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) VehicleByPlate(ctx context.Context, plate string) (*store.VehicleRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx, `
SELECT plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms
FROM vehicles
WHERE plate_number = ?;
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

func (s *SQLiteStore) ListVehicles(ctx context.Context) ([]store.VehicleRecord, error) {
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

func (s *SQLiteStore) PutVehicle(ctx context.Context, rec store.VehicleRecord) error {
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

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO vehicles(plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(plate_number) DO UPDATE SET
  owner_name = excluded.owner_name,
  is_authorized = excluded.is_authorized,
  valid_from_ms = excluded.valid_from_ms,
  valid_until_ms = excluded.valid_until_ms,
  last_modified_ms = excluded.last_modified_ms;
`,
			rec.PlateNumber, rec.OwnerName, authorized,
			rec.ValidFrom.UTC().UnixMilli(), validUntil, nowMs,
		); err != nil {
			return fmt.Errorf("PutVehicle %s: %w", rec.PlateNumber, err)
		}
		return nil
	})
}

// IngestEvents commits the batch in one transaction. Duplicate IDs are
// absorbed by INSERT OR IGNORE and reported committed; a record that fails
// its insert lands in Failed without aborting its siblings.
func (s *SQLiteStore) IngestEvents(ctx context.Context, events []store.AccessLogRecord) (store.IngestResult, error) {
	var res store.IngestResult
	nowMs := time.Now().UTC().UnixMilli()

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
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

			if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO access_logs(
  id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms, received_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
				ev.ID, ev.PlateNumber, ev.GateID, granted,
				ev.ConfidenceScore, accessing, ts.UTC().UnixMilli(), nowMs,
			); err != nil {
				res.Failed = append(res.Failed, ev.ID)
				continue
			}
			res.Committed = append(res.Committed, ev.ID)
		}
		return nil
	})
	if err != nil {
		return store.IngestResult{}, err
	}
	return res, nil
}

func (s *SQLiteStore) LatestLogByPlate(ctx context.Context, plate string) (*store.AccessLogRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx, `
SELECT id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms
FROM access_logs
WHERE plate_number = ?
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

func (s *SQLiteStore) UpsertGateStatus(ctx context.Context, gateID, status, location string, seenAt time.Time) error {
	gateID = strings.TrimSpace(gateID)
	if gateID == "" {
		return nil
	}
	if status == "" {
		status = "offline"
	}
	seenMs := seenAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Self-registration: an unknown gate gets a row instead of a
		// rejection.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO gates(gate_id, location, status, last_online_ms, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(gate_id) DO UPDATE SET
  status = excluded.status,
  location = CASE WHEN excluded.location != '' THEN excluded.location ELSE gates.location END,
  last_online_ms = excluded.last_online_ms,
  updated_at_ms = excluded.updated_at_ms;
`, gateID, location, status, seenMs, seenMs, seenMs); err != nil {
			return fmt.Errorf("UpsertGateStatus %s: %w", gateID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) MarkCacheUpdated(ctx context.Context, gateID string, t time.Time) error {
	gateID = strings.TrimSpace(gateID)
	if gateID == "" {
		return nil
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO gates(gate_id, status, local_cache_updated_ms, created_at_ms, updated_at_ms)
VALUES (?, 'offline', ?, ?, ?)
ON CONFLICT(gate_id) DO UPDATE SET
  local_cache_updated_ms = excluded.local_cache_updated_ms,
  updated_at_ms = excluded.updated_at_ms;
`, gateID, ms, ms, ms); err != nil {
			return fmt.Errorf("MarkCacheUpdated %s: %w", gateID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListGates(ctx context.Context) ([]store.GateRecord, error) {
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

func (s *SQLiteStore) AccessLogs(ctx context.Context, gateID string, limit int) ([]store.AccessLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
SELECT id, plate_number, gate_id, access_granted, confidence_score, accessing, timestamp_ms
FROM access_logs`
	args := []any{}
	if gateID != "" {
		query += `
WHERE gate_id = ?`
		args = append(args, gateID)
	}
	query += `
ORDER BY timestamp_ms DESC, id DESC
LIMIT ?;`
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) DashboardStats(ctx context.Context) (store.DashboardStats, error) {
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
WHERE timestamp_ms >= ?;
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
