package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/godotlink/internal/messaging"
	"github.com/danmuck/godotlink/internal/protocol/session"
)

type fileConfig struct {
	Identity          string  `toml:"identity"`
	ProjectRoot       string  `toml:"project_root"`
	ConnectTimeout    string  `toml:"connect_timeout"`
	HandshakeTimeout  string  `toml:"handshake_timeout"`
	RequestTimeout    string  `toml:"request_timeout"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
	MetricsListen     string  `toml:"metrics_listen"`
}

type cliConfig struct {
	Client         messaging.ClientConfig
	RequestTimeout time.Duration
	// MetricsListen enables the Prometheus endpoint for long-running commands.
	MetricsListen string
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Client: messaging.ClientConfig{
			Identity:  messaging.DefaultIdentity,
			Transport: session.DefaultConfig(),
		},
		RequestTimeout: 10 * time.Second,
	}
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load godotlink config: %w", err)
	}

	if meta.IsDefined("identity") {
		if id := strings.TrimSpace(raw.Identity); id != "" {
			cfg.Client.Identity = id
		}
	}

	if meta.IsDefined("project_root") {
		cfg.Client.ProjectRoot = strings.TrimSpace(raw.ProjectRoot)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Client.Transport.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Client.Transport.HandshakeTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Client.Transport.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Client.Transport.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v <= 0 {
			return cliConfig{}, fmt.Errorf("parse %s: must be positive, got %s", d.key, v)
		}
		*d.dst = v
	}

	if meta.IsDefined("backoff_multiplier") {
		if raw.BackoffMultiplier < 1 {
			return cliConfig{}, fmt.Errorf("parse backoff_multiplier: must be >= 1, got %v", raw.BackoffMultiplier)
		}
		cfg.Client.Transport.Backoff.Multiplier = raw.BackoffMultiplier
	}

	if meta.IsDefined("backoff_jitter") {
		cfg.Client.Transport.Backoff.Jitter = raw.BackoffJitter
	}

	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}

	return cfg, nil
}
