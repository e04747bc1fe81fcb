package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telemetry.BufferMaxLines != 10000 || cfg.API.BaseURL == "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://fleet.example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 9
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadOverridesAndExpands(t *testing.T) {
	t.Setenv("PRINTWATCH_TEST_TOKEN", "s3cret")
	path := writeConfig(t, `
config_version: 1
printer: rack-a-01
api:
  base_url: https://fleet.example.com
  token: $PRINTWATCH_TEST_TOKEN
telemetry:
  buffer_max_lines: 500
  status_poll_seconds: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Printer != "rack-a-01" || cfg.API.Token != "s3cret" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Telemetry.BufferMaxLines != 500 || cfg.Telemetry.StatusPollSeconds != 2 {
		t.Fatalf("unexpected telemetry %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.PrintStatusPollSeconds != 5 {
		t.Fatalf("expected default print status poll, got %d", cfg.Telemetry.PrintStatusPollSeconds)
	}
}

func TestLoadRejectsInvalidAPIBaseURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
api:
  base_url: fleet.example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "api.base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadRejectsInvalidBrokerURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
broker:
  url: http://ws.example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "broker.url") {
		t.Fatalf("expected broker url error, got %v", err)
	}
}

func TestLoadRejectsNonPositiveLookback(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
telemetry:
  buffer_max_lines: 0
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "buffer_max_lines") {
		t.Fatalf("expected lookback error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
