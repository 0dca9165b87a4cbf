// Package config centralises runtime configuration for tidewire sessions.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig declares connectivity to the local communication daemon.
type DaemonConfig struct {
	URL                string        `yaml:"url"`
	HandshakeTimeout   time.Duration `yaml:"handshakeTimeout"`
	SubscribeInterval  time.Duration `yaml:"subscribeInterval"`
	MaxEntriesPerFrame int           `yaml:"maxEntriesPerFrame"`
}

// SessionConfig tunes the dispatch and conflation engine.
type SessionConfig struct {
	ReferenceService  string        `yaml:"referenceService"`
	MarketDataService string        `yaml:"marketDataService"`
	QueueSize         int           `yaml:"queueSize"`
	DefaultTimeout    time.Duration `yaml:"defaultTimeout"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the tidewire configuration tree.
type Settings struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the default tidewire configuration.
func Default() Settings {
	return Settings{
		Daemon: DaemonConfig{
			URL:                "ws://127.0.0.1:8194/events",
			HandshakeTimeout:   10 * time.Second,
			SubscribeInterval:  250 * time.Millisecond,
			MaxEntriesPerFrame: 100,
		},
		Session: SessionConfig{
			ReferenceService:  "//tidewire/refdata",
			MarketDataService: "//tidewire/mktdata",
			QueueSize:         1024,
			DefaultTimeout:    30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "tidewire",
		},
	}
}

// Load reads a YAML configuration document over the defaults. A missing file
// is not an error; the defaults (plus env overrides) apply.
func Load(path string) (Settings, error) {
	settings := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("TIDEWIRE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &settings); err != nil {
			return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}

	settings = fromEnv(settings)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate performs semantic validation on the configuration tree.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Daemon.URL) == "" {
		return fmt.Errorf("config: daemon url required")
	}
	if s.Session.QueueSize <= 0 {
		return fmt.Errorf("config: session queue size must be positive")
	}
	if s.Session.DefaultTimeout <= 0 {
		return fmt.Errorf("config: session default timeout must be positive")
	}
	return nil
}

func fromEnv(s Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("TIDEWIRE_DAEMON_URL")); v != "" {
		s.Daemon.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("TIDEWIRE_QUEUE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Session.QueueSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TIDEWIRE_DEFAULT_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.Session.DefaultTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("TIDEWIRE_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	return s
}
