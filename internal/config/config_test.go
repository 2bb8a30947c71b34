package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Kafka.Topic != "session-events" {
		t.Errorf("kafka topic = %q", cfg.Kafka.Topic)
	}
	if cfg.Kafka.GroupID != "event-archiver" {
		t.Errorf("kafka group = %q", cfg.Kafka.GroupID)
	}
	if cfg.Cleanup.StaleAfter != 30*time.Minute {
		t.Errorf("stale after = %v, want 30m", cfg.Cleanup.StaleAfter)
	}
	if !cfg.Cleanup.Enabled {
		t.Error("cleanup disabled by default")
	}
	if cfg.Game.MatchTicks != 120 {
		t.Errorf("match ticks = %d, want 120", cfg.Game.MatchTicks)
	}
	if cfg.Game.TickInterval != time.Second {
		t.Errorf("tick interval = %v, want 1s", cfg.Game.TickInterval)
	}
}

func TestLoad(t *testing.T) {
	yaml := `
server:
  port: 9090
postgres:
  host: db.internal
  user: tournament
  password: ${TEST_PG_PASSWORD}
  database: tournaments
kafka:
  enabled: true
  brokers:
    - kafka-1:9092
    - kafka-2:9092
game:
  match_ticks: 60
`
	os.Setenv("TEST_PG_PASSWORD", "s3cret")
	defer os.Unsetenv("TEST_PG_PASSWORD")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Postgres.Password != "s3cret" {
		t.Errorf("env expansion failed: password = %q", cfg.Postgres.Password)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "kafka-1:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Game.MatchTicks != 60 {
		t.Errorf("match ticks = %d, want 60", cfg.Game.MatchTicks)
	}

	// Untouched sections still get defaults
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("read timeout = %v, want default 5s", cfg.Server.ReadTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "app",
		Password: "pw",
		Database: "tournaments",
	}

	want := "postgres://app:pw@db:5432/tournaments?sslmode=disable"
	if got := cfg.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}

	cfg.SSLMode = "require"
	if got := cfg.ConnectionString(); got != "postgres://app:pw@db:5432/tournaments?sslmode=require" {
		t.Errorf("ConnectionString() = %q", got)
	}
}
