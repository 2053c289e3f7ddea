package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GateConfig configures the gate-side binary.
type GateConfig struct {
	GateID   string
	Location string

	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/gate.db"

	BrokerURL      string
	BrokerUsername string
	BrokerPassword string

	HTTPAddr string

	SyncInterval  time.Duration
	BatchSize     int
	MaxRetries    int
	RetentionDays int
}

// CentralConfig configures the central binary.
type CentralConfig struct {
	Env    string
	DBPath string // sqlite path, used when DatabaseURL is empty

	// DatabaseURL switches the central store to postgres when set.
	DatabaseURL string

	BrokerURL      string
	BrokerUsername string
	BrokerPassword string

	HTTPAddr string
}

func GateFromEnv() GateConfig {
	return GateConfig{
		GateID:   getenvDefault("GATESYNC_GATE_ID", "gate-main"),
		Location: os.Getenv("GATESYNC_GATE_LOCATION"),

		Env:    envName(),
		DBPath: getenvDefault("GATESYNC_GATE_DB_PATH", "./data/gate.db"),

		BrokerURL:      getenvDefault("GATESYNC_BROKER_URL", "tcp://localhost:1883"),
		BrokerUsername: os.Getenv("GATESYNC_BROKER_USERNAME"),
		BrokerPassword: os.Getenv("GATESYNC_BROKER_PASSWORD"),

		HTTPAddr: getenvDefault("GATESYNC_GATE_HTTP_ADDR", ":8081"),

		SyncInterval:  time.Duration(getenvInt("GATESYNC_SYNC_INTERVAL_SECONDS", 300)) * time.Second,
		BatchSize:     getenvInt("GATESYNC_SYNC_BATCH_SIZE", 50),
		MaxRetries:    getenvInt("GATESYNC_SYNC_MAX_RETRIES", 3),
		RetentionDays: getenvInt("GATESYNC_LOG_RETENTION_DAYS", 7),
	}
}

func CentralFromEnv() CentralConfig {
	return CentralConfig{
		Env:         envName(),
		DBPath:      getenvDefault("GATESYNC_CENTRAL_DB_PATH", "./data/central.db"),
		DatabaseURL: os.Getenv("GATESYNC_DATABASE_URL"),

		BrokerURL:      getenvDefault("GATESYNC_BROKER_URL", "tcp://localhost:1883"),
		BrokerUsername: os.Getenv("GATESYNC_BROKER_USERNAME"),
		BrokerPassword: os.Getenv("GATESYNC_BROKER_PASSWORD"),

		HTTPAddr: getenvDefault("GATESYNC_HTTP_ADDR", ":8080"),
	}
}

func envName() string {
	env := strings.ToLower(getenvDefault("GATESYNC_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}
	return env
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
