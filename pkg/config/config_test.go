package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Participants = []ParticipantConfig{{ID: "p1", DID: "did:web:holder"}}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 65536 }},
		{"storage type", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"mongodb without uri", func(c *Config) { c.Storage.Type = "mongodb"; c.Storage.MongoDB.URI = "" }},
		{"participant without did", func(c *Config) { c.Participants = []ParticipantConfig{{ID: "p1"}} }},
		{"duplicate participant", func(c *Config) {
			c.Participants = []ParticipantConfig{{ID: "p1", DID: "did:a"}, {ID: "p1", DID: "did:b"}}
		}},
		{"batch size", func(c *Config) { c.Polling.BatchSize = 0 }},
		{"poll interval", func(c *Config) { c.Polling.IntervalMillis = 0 }},
		{"time limit", func(c *Config) { c.Requests.TimeLimitMinutes = 0 }},
		{"did resolver", func(c *Config) { c.DID.Resolver = "dns" }},
		{"did url", func(c *Config) { c.DID.URL = "" }},
		{"did cache", func(c *Config) { c.DID.Cache.Type = "memcached" }},
		{"kafka without brokers", func(c *Config) { c.Events.Type = "kafka" }},
		{"events type", func(c *Config) { c.Events.Type = "nats" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Requests.TimeLimit(); got != time.Hour {
		t.Errorf("TimeLimit() = %v, want 1h", got)
	}
	if got := cfg.Requests.TokenTTL(); got != 5*time.Minute {
		t.Errorf("TokenTTL() = %v, want 5m", got)
	}
	if got := cfg.Polling.PollInterval(); got != time.Second {
		t.Errorf("PollInterval() = %v, want 1s", got)
	}

	cfg.Polling.RequestedIntervalMillis = 0
	if got := cfg.Polling.RequestedPollInterval(); got != time.Second {
		t.Errorf("RequestedPollInterval() = %v, want fallback to 1s", got)
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := &ServerConfig{Host: "localhost", Port: 9090}
	if got := cfg.Address(); got != "localhost:9090" {
		t.Errorf("Address() = %q, want %q", got, "localhost:9090")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected default memory storage, got %q", cfg.Storage.Type)
	}
	if cfg.Server.BaseURL != "http://0.0.0.0:8080" {
		t.Errorf("Expected generated BaseURL, got %q", cfg.Server.BaseURL)
	}
}

func TestLoad_ValidYAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  host: localhost
  port: 9000
participants:
  - id: p1
    did: did:web:holder.example.com
    key_id: did:web:holder.example.com#key-1
polling:
  batch_size: 10
requests:
  time_limit_minutes: 30
did:
  resolver: authzen
  url: https://pdp.example.com
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if len(cfg.Participants) != 1 || cfg.Participants[0].DID != "did:web:holder.example.com" {
		t.Errorf("Unexpected participants: %+v", cfg.Participants)
	}
	if cfg.Polling.BatchSize != 10 {
		t.Errorf("Expected batch size 10, got %d", cfg.Polling.BatchSize)
	}
	if cfg.Polling.LeaseSeconds != 60 {
		t.Errorf("Expected default lease 60s to survive, got %d", cfg.Polling.LeaseSeconds)
	}
	if cfg.Requests.TimeLimit() != 30*time.Minute {
		t.Errorf("Expected 30m time limit, got %v", cfg.Requests.TimeLimit())
	}
	if cfg.DID.Resolver != "authzen" {
		t.Errorf("Expected authzen resolver, got %q", cfg.DID.Resolver)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DCP_POLLING_BATCH_SIZE", "17")
	t.Setenv("DCP_STORAGE_TYPE", "mongodb")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Polling.BatchSize != 17 {
		t.Errorf("Expected env batch size 17, got %d", cfg.Polling.BatchSize)
	}
	if cfg.Storage.Type != "mongodb" {
		t.Errorf("Expected env storage type mongodb, got %q", cfg.Storage.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  port: [1, 2]\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid configuration")
	}
}
