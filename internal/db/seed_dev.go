package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedDev inserts a starter gate and two demo vehicles into the central
// schema so a fresh dev deployment has something to sync. Safe to call
// repeatedly.
func SeedDev(ctx context.Context, conn *sql.DB) error {
	now := time.Now().UTC().UnixMilli()

	if _, err := conn.ExecContext(ctx, `
INSERT INTO gates(gate_id, location, status, created_at_ms, updated_at_ms)
VALUES ('gate-main', 'Dev', 'offline', ?, ?)
ON CONFLICT(gate_id) DO NOTHING;`, now, now); err != nil {
		return fmt.Errorf("seed gates: %w", err)
	}

	vehicles := []struct {
		plate, owner string
		authorized   int
	}{
		{"1234ABC", "Dev Owner", 1},
		{"5678DEF", "Dev Visitor", 0},
	}
	for _, v := range vehicles {
		if _, err := conn.ExecContext(ctx, `
INSERT INTO vehicles(plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms)
VALUES (?, ?, ?, ?, NULL, ?)
ON CONFLICT(plate_number) DO NOTHING;`, v.plate, v.owner, v.authorized, now, now); err != nil {
			return fmt.Errorf("seed vehicle %s: %w", v.plate, err)
		}
	}

	return nil
}
