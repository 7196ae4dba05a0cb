package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const DefaultConfigPath = "verity.toml"

type VerityConfig struct {
	Device     DeviceConfig  `toml:"device"`
	Record     RecordConfig  `toml:"record"`
	Streams    StreamsConfig `toml:"streams"`
	Bridge     BridgeConfig  `toml:"bridge"`
	LogLevel   string        `toml:"log_level"`
	configPath string        `toml:"-"`
}

type DeviceConfig struct {
	// NamePrefix matches advertised device names during scan; Address, when
	// set, pins the session to one device instead.
	NamePrefix  string `toml:"name_prefix"`
	Address     string `toml:"address,omitempty"`
	ScanTimeout string `toml:"scan_timeout"`
	Reconnect   string `toml:"reconnect"`
}

type RecordConfig struct {
	ID        int    `toml:"id"`
	Duration  string `toml:"duration"`
	DataDir   string `toml:"data_dir"`
	Overwrite bool   `toml:"overwrite"`
}

type StreamsConfig struct {
	PPG       bool `toml:"ppg"`
	ACC       bool `toml:"acc"`
	HeartRate bool `toml:"heart_rate"`
}

type BridgeConfig struct {
	Enabled bool   `toml:"enabled"`
	WSAddr  string `toml:"ws_addr"`
}

func Default() VerityConfig {
	return VerityConfig{
		Device: DeviceConfig{
			NamePrefix:  "Polar Sense",
			ScanTimeout: "10s",
			Reconnect:   "1s",
		},
		Record: RecordConfig{
			ID:       1,
			Duration: "30s",
			DataDir:  "data",
		},
		Streams: StreamsConfig{
			PPG:       true,
			ACC:       true,
			HeartRate: true,
		},
		Bridge: BridgeConfig{
			Enabled: false,
			WSAddr:  "127.0.0.1:8765",
		},
		LogLevel: "info",
	}
}

func Load(path string) (VerityConfig, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return VerityConfig{}, err
	}
	if !exists {
		return VerityConfig{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads the config at path, falling back to defaults when the
// file does not exist. The boolean reports whether a file was found.
func LoadOrDefault(path string) (VerityConfig, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return VerityConfig{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return VerityConfig{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.configPath = path
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return VerityConfig{}, true, err
	}
	return cfg, true, nil
}

func (cfg *VerityConfig) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *VerityConfig) ConfigPath() string {
	return cfg.configPath
}

func (cfg *VerityConfig) Validate() error {
	if cfg.Record.ID < 0 {
		return fmt.Errorf("record.id must not be negative: %d", cfg.Record.ID)
	}
	if _, err := time.ParseDuration(cfg.Record.Duration); err != nil {
		return fmt.Errorf("record.duration: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Device.ScanTimeout); err != nil {
		return fmt.Errorf("device.scan_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Device.Reconnect); err != nil {
		return fmt.Errorf("device.reconnect: %w", err)
	}
	if !cfg.Streams.PPG && !cfg.Streams.ACC && !cfg.Streams.HeartRate {
		return fmt.Errorf("streams: at least one stream must be enabled")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error: %q", cfg.LogLevel)
	}
	return nil
}

// Duration accessors return the validated values; call Validate first.

func (cfg *VerityConfig) RecordDuration() time.Duration {
	d, _ := time.ParseDuration(cfg.Record.Duration)
	return d
}

func (cfg *VerityConfig) ScanTimeout() time.Duration {
	d, _ := time.ParseDuration(cfg.Device.ScanTimeout)
	return d
}

func (cfg *VerityConfig) ReconnectInterval() time.Duration {
	d, _ := time.ParseDuration(cfg.Device.Reconnect)
	return d
}

func (cfg *VerityConfig) normalize(path string) {
	def := Default()

	if cfg.Device.NamePrefix == "" && cfg.Device.Address == "" {
		cfg.Device.NamePrefix = def.Device.NamePrefix
	}
	if cfg.Device.ScanTimeout == "" {
		cfg.Device.ScanTimeout = def.Device.ScanTimeout
	}
	if cfg.Device.Reconnect == "" {
		cfg.Device.Reconnect = def.Device.Reconnect
	}
	if cfg.Record.Duration == "" {
		cfg.Record.Duration = def.Record.Duration
	}
	if cfg.Record.DataDir == "" {
		cfg.Record.DataDir = def.Record.DataDir
	}
	if cfg.Bridge.WSAddr == "" {
		cfg.Bridge.WSAddr = def.Bridge.WSAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}
