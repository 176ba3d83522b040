package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "STT_PROVIDER", "STT_NUM_SPEAKERS", "STT_POLL_INTERVAL", "STT_POLL_TIMEOUT",
		"SPLIT_MAX_DURATION", "DB_DRIVER", "DB_DSN", "KAFKA_ENABLED", "KAFKA_BROKERS",
		"MINIO_ENDPOINT", "OUTPUT_DIR", "LLM_API_KEY", "SARVAM_API_KEY",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.STT.Provider != "sarvam" {
		t.Errorf("expected default provider sarvam, got %s", cfg.STT.Provider)
	}
	if cfg.STT.Speakers != 2 {
		t.Errorf("expected 2 speakers, got %d", cfg.STT.Speakers)
	}
	if cfg.STT.PollInterval != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %v", cfg.STT.PollInterval)
	}
	if cfg.STT.PollTimeout != 10*time.Minute {
		t.Errorf("expected 10m poll timeout, got %v", cfg.STT.PollTimeout)
	}
	if cfg.Splitter.MaxDuration != time.Hour {
		t.Errorf("expected 1h split threshold, got %v", cfg.Splitter.MaxDuration)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.DB.Driver)
	}
	if cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected kafka disabled, got %+v", cfg.Kafka)
	}
	if cfg.Archive.Endpoint != "" {
		t.Errorf("expected archive disabled, got endpoint %q", cfg.Archive.Endpoint)
	}
	if cfg.OutputDir != "outputs" {
		t.Errorf("expected outputs dir, got %s", cfg.OutputDir)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STT_PROVIDER", "Google")
	t.Setenv("SPLIT_MAX_DURATION", "600")
	t.Setenv("STT_POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SARVAM_API_KEY", "sk-stt")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("DB_DRIVER", "POSTGRES")

	cfg := Load()

	if cfg.STT.Provider != "google" {
		t.Errorf("provider = %s", cfg.STT.Provider)
	}
	if cfg.Splitter.MaxDuration != 10*time.Minute {
		t.Errorf("bare seconds should parse, got %v", cfg.Splitter.MaxDuration)
	}
	if cfg.STT.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.STT.PollInterval)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.LLM.APIKey != "sk-stt" {
		t.Errorf("LLM key should fall back to SARVAM_API_KEY, got %q", cfg.LLM.APIKey)
	}
	if cfg.DB.Driver != "postgres" {
		t.Errorf("driver = %s", cfg.DB.Driver)
	}
}
