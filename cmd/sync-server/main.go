package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"

	"github.com/plategate/gatesync/internal/anpr"
	"github.com/plategate/gatesync/internal/config"
	"github.com/plategate/gatesync/internal/db"
	"github.com/plategate/gatesync/internal/gatesync/service"
	"github.com/plategate/gatesync/internal/gatesync/store"
	"github.com/plategate/gatesync/internal/gatesync/store/central"
	"github.com/plategate/gatesync/internal/httpapi"
	"github.com/plategate/gatesync/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg := config.CentralFromEnv()
	logger := log.New(os.Stdout, "sync-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	centralStore, cleanup, err := openCentral(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open central store: %v", err)
	}
	defer cleanup()

	tr := transport.NewMQTT(transport.MQTTConfig{
		BrokerURL: cfg.BrokerURL,
		ClientID:  "sync-server",
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
	}, logger)
	defer tr.Close()

	coordinator := service.NewCoordinator(tr, centralStore, anpr.Passthrough{}, logger)
	if err := coordinator.Start(ctx); err != nil {
		logger.Fatalf("start coordinator: %v", err)
	}

	// The coordinator registers its subscriptions up front; the transport
	// replays them every time the link comes up, so the broker may start
	// after the server does.
	go keepConnected(ctx, tr, logger)

	srv := httpapi.NewAdminServer(httpapi.AdminDependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Central: centralStore,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	coordinator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// openCentral picks postgres when GATESYNC_DATABASE_URL is set, sqlite
// otherwise. The returned cleanup closes whatever was opened.
func openCentral(ctx context.Context, cfg config.CentralConfig, logger *log.Logger) (store.CentralStore, func(), error) {
	if cfg.DatabaseURL != "" {
		st, conn, err := central.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("central store: postgres")
		return st, func() { conn.Close() }, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Schema: db.SchemaCentral})
	if err != nil {
		return nil, nil, err
	}
	writer := db.NewWorker(conn)

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn); err != nil {
			logger.Printf("seed dev data: %v", err)
		}
	}

	logger.Printf("central store: sqlite at %s", cfg.DBPath)
	return central.NewSQLiteStore(conn, writer), func() {
		writer.Close()
		conn.Close()
	}, nil
}

// keepConnected holds the broker link up for the lifetime of the server,
// reconnecting with jittered backoff after every drop.
func keepConnected(ctx context.Context, tr transport.Transport, logger *log.Logger) {
	for {
		if !tr.Connected() {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0 // retry until the context ends

			err := backoff.Retry(func() error {
				return tr.Connect(ctx)
			}, backoff.WithContext(bo, ctx))
			if err != nil {
				logger.Printf("broker connect: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}
