package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/plategate/gatesync/internal/db"
	"github.com/plategate/gatesync/internal/gatesync/store"
)

type VehicleStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewVehicleStore(conn *sql.DB, writer *dbpkg.Worker) *VehicleStore {
	return &VehicleStore{conn: conn, writer: writer}
}

// UpsertVehicles applies each delta row in its own worker transaction, so a
// concurrent reader can observe a cache mid-merge but never a torn row.
// Rows absent from recs are never touched.
func (s *VehicleStore) UpsertVehicles(ctx context.Context, recs []store.VehicleRecord) error {
	for _, rec := range recs {
		plate := strings.TrimSpace(rec.PlateNumber)
		if plate == "" {
			continue
		}

		var validUntil any
		if rec.ValidUntil != nil {
			validUntil = rec.ValidUntil.UTC().UnixMilli()
		}
		authorized := 0
		if rec.IsAuthorized {
			authorized = 1
		}

		err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
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
				plate, rec.OwnerName, authorized,
				rec.ValidFrom.UTC().UnixMilli(), validUntil,
				rec.LastModified.UTC().UnixMilli(),
			); err != nil {
				return fmt.Errorf("UpsertVehicles %s: %w", plate, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *VehicleStore) VehicleByPlate(ctx context.Context, plate string) (*store.VehicleRecord, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, nil
	}

	row := s.conn.QueryRowContext(ctx, `
SELECT plate_number, owner_name, is_authorized, valid_from_ms, valid_until_ms, last_modified_ms
FROM vehicles
WHERE plate_number = ?;
`, plate)

	rec, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("VehicleByPlate query: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (*store.VehicleRecord, error) {
	var (
		rec        store.VehicleRecord
		authorized int
		fromMs     int64
		untilMs    sql.NullInt64
		modifiedMs int64
	)
	if err := row.Scan(&rec.PlateNumber, &rec.OwnerName, &authorized, &fromMs, &untilMs, &modifiedMs); err != nil {
		return nil, err
	}

	rec.IsAuthorized = authorized == 1
	rec.ValidFrom = time.UnixMilli(fromMs).UTC()
	if untilMs.Valid {
		t := time.UnixMilli(untilMs.Int64).UTC()
		rec.ValidUntil = &t
	}
	rec.LastModified = time.UnixMilli(modifiedMs).UTC()
	return &rec, nil
}
