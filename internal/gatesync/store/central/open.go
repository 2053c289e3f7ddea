package central

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// OpenPostgres connects to the authoritative Postgres instance and ensures
// the schema exists. The caller owns closing the returned *sql.DB.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, *sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open postgres: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}

	s, err := NewPostgresStore(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return s, conn, nil
}
