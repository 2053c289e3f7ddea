package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/plategate/gatesync/internal/db"
)

type CheckpointStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewCheckpointStore(conn *sql.DB, writer *dbpkg.Worker) *CheckpointStore {
	return &CheckpointStore{conn: conn, writer: writer}
}

func (s *CheckpointStore) Checkpoint(ctx context.Context) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT version FROM sync_checkpoint WHERE id = 1;`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("Checkpoint query: %w", err)
	}
	return version, nil
}

// SetCheckpoint advances the stored version. The guard in the WHERE clause
// keeps the checkpoint monotonically non-decreasing even if a stale delta
// response is applied late.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, version int64) error {
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE sync_checkpoint
SET version = ?, updated_at_ms = ?
WHERE id = 1 AND version <= ?;
`, version, nowMs, version); err != nil {
			return fmt.Errorf("SetCheckpoint: %w", err)
		}
		return nil
	})
}
