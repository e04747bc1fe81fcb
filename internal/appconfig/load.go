package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("printer", cfg.Printer)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.token", cfg.API.Token)
	v.SetDefault("api.timeout_seconds", cfg.API.TimeoutSeconds)
	v.SetDefault("api.auth_path", cfg.API.AuthPath)
	v.SetDefault("broker.url", cfg.Broker.URL)
	v.SetDefault("broker.app_key", cfg.Broker.AppKey)
	v.SetDefault("broker.private", cfg.Broker.Private)
	v.SetDefault("broker.event_namespace", cfg.Broker.EventNamespace)
	v.SetDefault("broker.activity_timeout_seconds", cfg.Broker.ActivityTimeoutSeconds)
	v.SetDefault("broker.reconnect_max_seconds", cfg.Broker.ReconnectMaxSeconds)
	v.SetDefault("telemetry.buffer_max_lines", cfg.Telemetry.BufferMaxLines)
	v.SetDefault("telemetry.max_threshold_seconds", cfg.Telemetry.MaxThresholdSeconds)
	v.SetDefault("telemetry.status_poll_seconds", cfg.Telemetry.StatusPollSeconds)
	v.SetDefault("telemetry.print_status_poll_seconds", cfg.Telemetry.PrintStatusPollSeconds)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.structured", cfg.Logging.Structured)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateAPIConfig(cfg.API); err != nil {
		return Config{}, err
	}
	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.Broker.URL) != "" {
		if _, err := cfg.Broker.Endpoint(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func validateAPIConfig(cfg APIConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must include scheme and host (e.g. https://fleet.example.com)")
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("api.timeout_seconds must not be negative")
	}
	if path := strings.TrimSpace(cfg.AuthPath); path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("api.auth_path must start with /")
	}
	return nil
}

func validateTelemetryConfig(cfg TelemetryConfig) error {
	if cfg.BufferMaxLines <= 0 {
		return fmt.Errorf("telemetry.buffer_max_lines must be positive")
	}
	if cfg.MaxThresholdSeconds <= 0 {
		return fmt.Errorf("telemetry.max_threshold_seconds must be positive")
	}
	if cfg.StatusPollSeconds <= 0 || cfg.PrintStatusPollSeconds <= 0 {
		return fmt.Errorf("telemetry poll intervals must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Printer = expandEnv(cfg.Printer)
	cfg.API.BaseURL = expandEnv(cfg.API.BaseURL)
	cfg.API.Token = expandEnv(cfg.API.Token)
	cfg.Broker.URL = expandEnv(cfg.Broker.URL)
	cfg.Broker.AppKey = expandEnv(cfg.Broker.AppKey)
	cfg.Logging.File = expandEnv(cfg.Logging.File)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
