package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/canlink/internal/tunnel"
)

// Config is the runtime configuration assembled from defaults, an
// optional TOML file, and CLI flags (flags win).
type Config struct {
	Interface     string
	MetricsAddr   string
	ProvisionVCAN bool
	RecvTimeout   time.Duration
	Session       tunnel.Config
}

// Default leaves Interface empty; the CLI applies its per-role default
// when neither a flag nor the file names one.
func Default() Config {
	return Config{
		Session: tunnel.DefaultConfig(),
	}
}

// canlink config.toml key mapping onto runtime settings.
type fileConfig struct {
	Interface         string  `toml:"interface"`
	MetricsAddr       string  `toml:"metrics_addr"`
	ProvisionVCAN     bool    `toml:"provision_vcan"`
	RecvTimeout       string  `toml:"recv_timeout"`
	DialTimeout       string  `toml:"dial_timeout"`
	WriteTimeout      string  `toml:"write_timeout"`
	ReadBufferSize    int     `toml:"read_buffer_size"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
}

// Load overlays the TOML file at path onto the defaults. Only keys the
// file actually defines are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("interface") {
		name := strings.TrimSpace(raw.Interface)
		if name != "" {
			cfg.Interface = name
		}
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("provision_vcan") {
		cfg.ProvisionVCAN = raw.ProvisionVCAN
	}
	if meta.IsDefined("recv_timeout") {
		d, err := parseDuration("recv_timeout", raw.RecvTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.RecvTimeout = d
	}
	if meta.IsDefined("dial_timeout") {
		d, err := parseDuration("dial_timeout", raw.DialTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.DialTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("read_buffer_size") {
		cfg.Session.ReadBufferSize = raw.ReadBufferSize
	}
	if meta.IsDefined("backoff_initial") {
		d, err := parseDuration("backoff_initial", raw.BackoffInitial)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Session.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Session.Backoff.Jitter = raw.BackoffJitter
	}

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
