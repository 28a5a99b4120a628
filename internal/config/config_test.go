package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	for _, key := range []string{
		"TRACK_STALE_WINDOW_SECONDS", "INGEST_MODE", "MQTT_TOPIC", "MQTT_QOS",
		"REDIS_ADDR", "HTTP_ADDR", "LOG_LEVEL", "REGISTRY_ENABLED", "METRICS_CACHE_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Tracking.StaleWindow != 30*time.Second {
		t.Errorf("Expected stale window 30s, got %s", cfg.Tracking.StaleWindow)
	}

	if cfg.Tracking.SweepInterval != 10*time.Second {
		t.Errorf("Expected sweep interval 10s, got %s", cfg.Tracking.SweepInterval)
	}

	if cfg.Ingest.Mode != IngestModeMQTT {
		t.Errorf("Expected INGEST_MODE default 'mqtt', got '%s'", cfg.Ingest.Mode)
	}

	if cfg.Ingest.MQTT.Topic != "drones/+/positions" {
		t.Errorf("Expected MQTT_TOPIC default 'drones/+/positions', got '%s'", cfg.Ingest.MQTT.Topic)
	}

	if cfg.MQTT.QoS != 1 {
		t.Errorf("Expected MQTT QoS default 1, got %d", cfg.MQTT.QoS)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Registry.Enabled {
		t.Errorf("Expected registry disabled by default")
	}

	if !cfg.MetricsCache.Enabled {
		t.Errorf("Expected metrics cache enabled by default")
	}

	if cfg.HTTP.Addr != ":9013" {
		t.Errorf("Expected HTTP_ADDR default ':9013', got '%s'", cfg.HTTP.Addr)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("TRACK_STALE_WINDOW_SECONDS", "60")
	t.Setenv("TRACK_DEBUG_INVARIANTS", "true")
	t.Setenv("INGEST_MODE", "stream")
	t.Setenv("TRACK_STREAM", "test:stream")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("REGISTRY_ENABLED", "true")
	t.Setenv("DB_NAME", "registry")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Tracking.StaleWindow != time.Minute {
		t.Errorf("Expected stale window 60s, got %s", cfg.Tracking.StaleWindow)
	}

	if cfg.Tracking.SweepInterval != 20*time.Second {
		t.Errorf("Expected sweep interval 20s, got %s", cfg.Tracking.SweepInterval)
	}

	if !cfg.Tracking.DebugInvariants {
		t.Errorf("Expected debug invariants enabled")
	}

	if cfg.Ingest.Mode != IngestModeStream {
		t.Errorf("Expected INGEST_MODE 'stream', got '%s'", cfg.Ingest.Mode)
	}

	if cfg.Ingest.Stream.Name != "test:stream" {
		t.Errorf("Expected TRACK_STREAM 'test:stream', got '%s'", cfg.Ingest.Stream.Name)
	}

	if cfg.Ingest.Poll.Interval != 250*time.Millisecond {
		t.Errorf("Expected poll interval 250ms, got %s", cfg.Ingest.Poll.Interval)
	}

	if cfg.MQTT.QoS != 2 {
		t.Errorf("Expected MQTT QoS 2, got %d", cfg.MQTT.QoS)
	}

	if !cfg.Registry.Enabled {
		t.Errorf("Expected registry enabled")
	}

	if cfg.Database.Database != "registry" {
		t.Errorf("Expected DB_NAME 'registry', got '%s'", cfg.Database.Database)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("INGEST_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for unsupported ingest mode")
	}

	t.Setenv("INGEST_MODE", "")
	t.Setenv("TRACK_STALE_WINDOW_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for non-positive stale window")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	value := getEnv("TEST_VAR", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = getEnv("NON_EXISTENT_VAR", "default-value")
	if value != "default-value" {
		t.Errorf("Expected 'default-value', got '%s'", value)
	}

	t.Setenv("TEST_INT", "not-a-number")
	if v := getEnvInt("TEST_INT", 7); v != 7 {
		t.Errorf("Expected fallback 7, got %d", v)
	}
}

func TestLoad_InvalidQoS(t *testing.T) {
	t.Setenv("INGEST_MODE", "")
	t.Setenv("TRACK_STALE_WINDOW_SECONDS", "")
	t.Setenv("MQTT_QOS", "3")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for MQTT_QOS=3")
	}
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "tracker", Password: "p@ss word", Database: "registry", SSLMode: "disable"}

	want := "postgres://tracker:p%40ss%20word@db:5433/registry?sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("Expected DSN %q, got %q", want, got)
	}
}
