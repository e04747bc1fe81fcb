package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/printwatch/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	Printer       string          `mapstructure:"printer" yaml:"printer"`
	API           APIConfig       `mapstructure:"api" yaml:"api"`
	Broker        BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Telemetry     TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Logging       LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// APIConfig configures the fleet REST API client.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	Token          string `mapstructure:"token" yaml:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	AuthPath       string `mapstructure:"auth_path" yaml:"auth_path"`
}

// BrokerConfig configures the Pusher protocol broker connection.
type BrokerConfig struct {
	URL                    string `mapstructure:"url" yaml:"url"`
	AppKey                 string `mapstructure:"app_key" yaml:"app_key"`
	Private                bool   `mapstructure:"private" yaml:"private"`
	EventNamespace         string `mapstructure:"event_namespace" yaml:"event_namespace"`
	ActivityTimeoutSeconds int    `mapstructure:"activity_timeout_seconds" yaml:"activity_timeout_seconds"`
	ReconnectMaxSeconds    int    `mapstructure:"reconnect_max_seconds" yaml:"reconnect_max_seconds"`
}

// TelemetryConfig controls the telemetry core limits and poll intervals.
type TelemetryConfig struct {
	BufferMaxLines         int `mapstructure:"buffer_max_lines" yaml:"buffer_max_lines"`
	MaxThresholdSeconds    int `mapstructure:"max_threshold_seconds" yaml:"max_threshold_seconds"`
	StatusPollSeconds      int `mapstructure:"status_poll_seconds" yaml:"status_poll_seconds"`
	PrintStatusPollSeconds int `mapstructure:"print_status_poll_seconds" yaml:"print_status_poll_seconds"`
}

// LoggingConfig controls where logs go while the terminal UI owns the screen.
type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Structured bool   `mapstructure:"structured" yaml:"structured"`
}

// Schema converts the telemetry section into core settings.
func (c TelemetryConfig) Schema() schema.TelemetryConfig {
	return schema.TelemetryConfig{
		BufferMaxLines:  c.BufferMaxLines,
		MaxThreshold:    time.Duration(c.MaxThresholdSeconds) * time.Second,
		StatusPoll:      time.Duration(c.StatusPollSeconds) * time.Second,
		PrintStatusPoll: time.Duration(c.PrintStatusPollSeconds) * time.Second,
	}
}

// Timeout returns the API request timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Endpoint returns the WebSocket URL for the broker. When an app key is set
// the Pusher path /app/<key> is appended to URL.
func (c BrokerConfig) Endpoint() (string, error) {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return "", fmt.Errorf("broker.url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
		return "", fmt.Errorf("broker.url must be a ws:// or wss:// URL (got %q)", raw)
	}
	if key := strings.TrimSpace(c.AppKey); key != "" {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + "/app/" + key
	}
	query := parsed.Query()
	if query.Get("protocol") == "" {
		query.Set("protocol", "7")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Printer:       "",
		API: APIConfig{
			BaseURL:        "http://localhost:8000",
			Token:          "",
			TimeoutSeconds: 15,
			AuthPath:       "/broadcasting/auth",
		},
		Broker: BrokerConfig{
			URL:                    "ws://localhost:8080",
			AppKey:                 "printwatch",
			Private:                false,
			EventNamespace:         "App.Events",
			ActivityTimeoutSeconds: 120,
			ReconnectMaxSeconds:    30,
		},
		Telemetry: TelemetryConfig{
			BufferMaxLines:         schema.DefaultBufferMaxLines,
			MaxThresholdSeconds:    schema.DefaultMaxThresholdSecs,
			StatusPollSeconds:      5,
			PrintStatusPollSeconds: 5,
		},
		Logging: LoggingConfig{
			File:       filepath.Join(home, ".printwatch", "printwatch.log"),
			Structured: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".printwatch", "config.yaml"), nil
}
