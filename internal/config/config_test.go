package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with defaults failed: %v", err)
	}
	if cfg.Address != DefaultAddr {
		t.Fatalf("address = %q, want %q", cfg.Address, DefaultAddr)
	}
	if cfg.IdleThreshold != DefaultIdleThreshold || cfg.SweepInterval != DefaultSweepInterval {
		t.Fatalf("liveness defaults wrong: %v / %v", cfg.IdleThreshold, cfg.SweepInterval)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("logging defaults wrong: %+v", cfg.Logging)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("HUB_ADDR", ":9999")
	t.Setenv("HUB_IDLE_THRESHOLD", "2m")
	t.Setenv("HUB_SWEEP_INTERVAL", "45s")
	t.Setenv("HUB_ALLOWED_ORIGINS", "https://ops.example.com, https://fleet.example.com")
	t.Setenv("HUB_SEND_BUFFER", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address != ":9999" {
		t.Fatalf("address override ignored: %q", cfg.Address)
	}
	if cfg.IdleThreshold != 2*time.Minute || cfg.SweepInterval != 45*time.Second {
		t.Fatalf("duration overrides ignored: %v / %v", cfg.IdleThreshold, cfg.SweepInterval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://fleet.example.com" {
		t.Fatalf("origin list parsed wrong: %v", cfg.AllowedOrigins)
	}
	if cfg.SendBuffer != 128 {
		t.Fatalf("send buffer override ignored: %d", cfg.SendBuffer)
	}
}

func TestLoadAggregatesProblems(t *testing.T) {
	t.Setenv("HUB_IDLE_THRESHOLD", "soon")
	t.Setenv("HUB_SWEEP_INTERVAL", "-10s")
	t.Setenv("HUB_TLS_CERT", "/tmp/cert.pem")

	_, err := Load()
	if err == nil {
		t.Fatal("expected aggregated validation error")
	}
	msg := err.Error()
	for _, fragment := range []string{"HUB_IDLE_THRESHOLD", "HUB_SWEEP_INTERVAL", "HUB_TLS_CERT"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("error %q missing fragment %q", msg, fragment)
		}
	}
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	content := `
address: ":7070"
idle_threshold: 5m
sweep_interval: 1m
ingest_token: file-token
logging:
  level: debug
  max_size_mb: 25
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("HUB_CONFIG_FILE", path)
	t.Setenv("HUB_ADDR", ":6060")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	//1.- Environment wins over the file for overlapping keys.
	if cfg.Address != ":6060" {
		t.Fatalf("env should win over file, got %q", cfg.Address)
	}
	//2.- File values apply where the environment is silent.
	if cfg.IdleThreshold != 5*time.Minute || cfg.SweepInterval != time.Minute {
		t.Fatalf("file durations ignored: %v / %v", cfg.IdleThreshold, cfg.SweepInterval)
	}
	if cfg.IngestToken != "file-token" || cfg.Logging.Level != "debug" || cfg.Logging.MaxSizeMB != 25 {
		t.Fatalf("file values ignored: %+v", cfg)
	}
}

func TestLoadMissingConfigFileIsFatal(t *testing.T) {
	t.Setenv("HUB_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
