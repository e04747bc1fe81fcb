package schema

import (
	"errors"
	"time"
)

// TelemetryConfig defines limits and intervals for the telemetry core.
type TelemetryConfig struct {
	// BufferMaxLines is the lookback used for seek and priming windows.
	BufferMaxLines  int
	MaxThreshold    time.Duration
	Tick            time.Duration
	StatusPoll      time.Duration
	PrintStatusPoll time.Duration
}

// DefaultBufferMaxLines is the default historical lookback in lines.
const DefaultBufferMaxLines = 10000

// NormalizeTelemetryConfig applies defaults and validates the config.
func NormalizeTelemetryConfig(cfg TelemetryConfig) (TelemetryConfig, error) {
	if cfg.BufferMaxLines == 0 {
		cfg.BufferMaxLines = DefaultBufferMaxLines
	}
	if cfg.MaxThreshold == 0 {
		cfg.MaxThreshold = DefaultMaxThresholdSecs * time.Second
	}
	if cfg.Tick == 0 {
		cfg.Tick = time.Second
	}
	if cfg.StatusPoll == 0 {
		cfg.StatusPoll = 5 * time.Second
	}
	if cfg.PrintStatusPoll == 0 {
		cfg.PrintStatusPoll = 5 * time.Second
	}
	if cfg.BufferMaxLines < 0 {
		return TelemetryConfig{}, errors.New("buffer max lines must be positive")
	}
	if cfg.MaxThreshold < 0 || cfg.Tick < 0 || cfg.StatusPoll < 0 || cfg.PrintStatusPoll < 0 {
		return TelemetryConfig{}, errors.New("telemetry intervals must be positive")
	}
	return cfg, nil
}
