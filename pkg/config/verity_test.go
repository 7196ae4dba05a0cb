package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"verity/pkg/config"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "verity.toml")

	cfg, exists, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if exists {
		t.Fatalf("expected missing file")
	}
	if cfg.Device.NamePrefix != "Polar Sense" {
		t.Fatalf("default name prefix: got %q", cfg.Device.NamePrefix)
	}
	if !cfg.Streams.PPG || !cfg.Streams.ACC || !cfg.Streams.HeartRate {
		t.Fatalf("default streams: %+v", cfg.Streams)
	}
	if cfg.RecordDuration() != 30*time.Second {
		t.Fatalf("default duration: got %v", cfg.RecordDuration())
	}
}

func TestLoadOrDefaultParsesAndFillsDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "verity.toml")
	mustWriteFile(t, cfgPath, `
[device]
address = "A0:9E:1A:00:00:01"

[record]
id = 12
duration = "2m"

[streams]
ppg = true
acc = false
heart_rate = false

[bridge]
enabled = true
`)

	cfg, exists, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !exists {
		t.Fatalf("expected existing file")
	}
	if cfg.Device.Address != "A0:9E:1A:00:00:01" {
		t.Fatalf("address: got %q", cfg.Device.Address)
	}
	if cfg.Record.ID != 12 || cfg.RecordDuration() != 2*time.Minute {
		t.Fatalf("record: %+v", cfg.Record)
	}
	if cfg.Streams.ACC || !cfg.Streams.PPG {
		t.Fatalf("streams: %+v", cfg.Streams)
	}
	// Unset fields fall back to defaults.
	if cfg.Bridge.WSAddr != "127.0.0.1:8765" {
		t.Fatalf("bridge ws addr: got %q", cfg.Bridge.WSAddr)
	}
	if cfg.Record.DataDir != "data" {
		t.Fatalf("data dir: got %q", cfg.Record.DataDir)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.VerityConfig)
	}{
		{"negative record id", func(c *config.VerityConfig) { c.Record.ID = -1 }},
		{"bad duration", func(c *config.VerityConfig) { c.Record.Duration = "yesterday" }},
		{"bad scan timeout", func(c *config.VerityConfig) { c.Device.ScanTimeout = "soon" }},
		{"no streams", func(c *config.VerityConfig) {
			c.Streams.PPG = false
			c.Streams.ACC = false
			c.Streams.HeartRate = false
		}},
		{"bad log level", func(c *config.VerityConfig) { c.LogLevel = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nested", "verity.toml")

	cfg := config.Default()
	cfg.Record.ID = 3
	cfg.Bridge.Enabled = true
	if err := cfg.Save(cfgPath); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Record.ID != 3 || !loaded.Bridge.Enabled {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
