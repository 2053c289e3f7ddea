package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/plategate/gatesync/internal/db"
	"github.com/plategate/gatesync/internal/gatesync/store"
)

type EventStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(conn *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{conn: conn, writer: writer}
}

func (s *EventStore) AppendEvent(ctx context.Context, rec store.EventRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	granted := 0
	if rec.AccessGranted {
		granted = 1
	}
	accessing := 0
	if rec.Accessing {
		accessing = 1
	}

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pending_events(
  id, created_at_ms, plate_number, gate_id,
  access_granted, confidence_score, accessing, sync_status, retry_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0);
`,
			rec.ID, rec.CreatedAt.UTC().UnixMilli(), rec.PlateNumber, rec.GateID,
			granted, rec.ConfidenceScore, accessing, store.SyncStatusPending,
		); err != nil {
			return fmt.Errorf("AppendEvent insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *EventStore) LatestEventByPlate(ctx context.Context, plate string) (*store.EventRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx, `
SELECT id, created_at_ms, plate_number, gate_id, access_granted, confidence_score, accessing, sync_status, retry_count
FROM pending_events
WHERE plate_number = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT 1;
`, plate)

	rec, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LatestEventByPlate query: %w", err)
	}
	return rec, nil
}

func (s *EventStore) PendingEvents(ctx context.Context, maxRetries, limit int) ([]store.EventRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, created_at_ms, plate_number, gate_id, access_granted, confidence_score, accessing, sync_status, retry_count
FROM pending_events
WHERE sync_status = ? AND retry_count < ?
ORDER BY created_at_ms ASC, id ASC
LIMIT ?;
`, store.SyncStatusPending, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("PendingEvents query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("PendingEvents scan: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PendingEvents rows: %w", err)
	}
	return out, nil
}

func (s *EventStore) MarkSynced(ctx context.Context, ids []string) error {
	return s.bulkUpdate(ctx, ids, `
UPDATE pending_events SET sync_status = 'synced' WHERE id IN (%s);`)
}

func (s *EventStore) IncrementRetry(ctx context.Context, ids []string) error {
	return s.bulkUpdate(ctx, ids, `
UPDATE pending_events SET retry_count = retry_count + 1 WHERE id IN (%s);`)
}

func (s *EventStore) bulkUpdate(ctx context.Context, ids []string, query string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(query, placeholders), args...); err != nil {
			return fmt.Errorf("bulk event update: %w", err)
		}
		return nil
	})
}

// PruneSynced deletes synced events created before olderThan. The status
// predicate makes it impossible to drop a pending event regardless of age.
func (s *EventStore) PruneSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoffMs := olderThan.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM pending_events
WHERE sync_status = 'synced' AND created_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneSynced: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func scanEvent(row rowScanner) (*store.EventRecord, error) {
	var (
		rec       store.EventRecord
		createdMs int64
		granted   int
		accessing int
	)
	if err := row.Scan(
		&rec.ID, &createdMs, &rec.PlateNumber, &rec.GateID,
		&granted, &rec.ConfidenceScore, &accessing, &rec.SyncStatus, &rec.RetryCount,
	); err != nil {
		return nil, err
	}

	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.AccessGranted = granted == 1
	rec.Accessing = accessing == 1
	return &rec, nil
}
