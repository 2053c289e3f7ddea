package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/plategate/gatesync/internal/config"
	"github.com/plategate/gatesync/internal/db"
	"github.com/plategate/gatesync/internal/gatesync/service"
	"github.com/plategate/gatesync/internal/gatesync/store/sqlite"
	"github.com/plategate/gatesync/internal/httpapi"
	"github.com/plategate/gatesync/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg := config.GateFromEnv()
	logger := log.New(os.Stdout, "gate-agent ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Schema: db.SchemaGate})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	vehicles := sqlite.NewVehicleStore(conn, writer)
	events := sqlite.NewEventStore(conn, writer)
	checkpoints := sqlite.NewCheckpointStore(conn, writer)

	decision := service.NewDecisionEngine(cfg.GateID, vehicles, events)

	tr := transport.NewMQTT(transport.MQTTConfig{
		BrokerURL: cfg.BrokerURL,
		ClientID:  "gate-agent-" + cfg.GateID,
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
	}, logger)
	defer tr.Close()

	agent := service.NewAgent(service.AgentConfig{
		GateID:       cfg.GateID,
		Location:     cfg.Location,
		SyncInterval: cfg.SyncInterval,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		Retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, tr, vehicles, events, checkpoints, logger)

	if err := agent.Start(ctx); err != nil {
		logger.Fatalf("start agent: %v", err)
	}

	srv := httpapi.NewGateServer(httpapi.GateDependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Decision: decision,
	})

	go func() {
		logger.Printf("gate %s listening on %s", cfg.GateID, cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	agent.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
