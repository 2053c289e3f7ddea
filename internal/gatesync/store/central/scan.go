package central

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

func validateVehicle(rec *store.VehicleRecord) error {
	rec.PlateNumber = strings.TrimSpace(rec.PlateNumber)
	if rec.PlateNumber == "" {
		return fmt.Errorf("plate number is required")
	}
	if rec.ValidFrom.IsZero() {
		rec.ValidFrom = time.Now().UTC()
	}
	if rec.ValidUntil != nil && rec.ValidUntil.Before(rec.ValidFrom) {
		return store.ErrInvalidValidity
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicleRow(row rowScanner) (*store.VehicleRecord, error) {
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

func collectVehicles(rows *sql.Rows) ([]store.VehicleRecord, error) {
	var out []store.VehicleRecord
	for rows.Next() {
		rec, err := scanVehicleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanLogRow(row rowScanner) (*store.AccessLogRecord, error) {
	var (
		rec       store.AccessLogRecord
		granted   int
		accessing int
		tsMs      int64
	)
	if err := row.Scan(
		&rec.ID, &rec.PlateNumber, &rec.GateID,
		&granted, &rec.ConfidenceScore, &accessing, &tsMs,
	); err != nil {
		return nil, err
	}

	rec.AccessGranted = granted == 1
	rec.Accessing = accessing == 1
	rec.Timestamp = time.UnixMilli(tsMs).UTC()
	return &rec, nil
}
