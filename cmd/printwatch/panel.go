package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/printwatch"
	"pkt.systems/printwatch/core"
	"pkt.systems/printwatch/internal/appconfig"
	"pkt.systems/printwatch/internal/broker"
	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/internal/version"
	"pkt.systems/printwatch/printapi"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// loadConfig reads --config and applies the --printer override.
func loadConfig(cmd *cobra.Command) (appconfig.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if printer, _ := cmd.Flags().GetString("printer"); strings.TrimSpace(printer) != "" {
		cfg.Printer = strings.TrimSpace(printer)
	}
	return cfg, nil
}

func requirePrinter(cfg appconfig.Config) (schema.PrinterID, error) {
	if strings.TrimSpace(cfg.Printer) == "" {
		return "", fmt.Errorf("no printer selected: set printer in config or pass --printer")
	}
	return schema.PrinterID(cfg.Printer), nil
}

func newAPIClient(cfg appconfig.Config, logger pslog.Logger) (*printapi.Client, error) {
	return printapi.New(printapi.Config{
		BaseURL:   cfg.API.BaseURL,
		Token:     cfg.API.Token,
		AuthPath:  cfg.API.AuthPath,
		Timeout:   cfg.API.Timeout(),
		UserAgent: version.UserAgent(),
		Logger:    logger,
	})
}

// newBroker returns nil when no broker is configured; the panel then runs on
// polling alone.
func newBroker(cfg appconfig.BrokerConfig, auth broker.Authorizer, logger pslog.Logger) (channels.Broker, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		logger.Warn("broker url not configured, live events disabled")
		return nil, nil
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	pusher, err := broker.NewPusher(broker.PusherConfig{
		URL:             endpoint,
		Namespace:       cfg.EventNamespace,
		Private:         cfg.Private,
		ActivityTimeout: time.Duration(cfg.ActivityTimeoutSeconds) * time.Second,
		ReconnectMax:    time.Duration(cfg.ReconnectMaxSeconds) * time.Second,
		Authorizer:      auth,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return pusher, nil
}

type panelOptions struct {
	sink   core.Sink
	events core.EventSink
}

func newPanel(cfg appconfig.Config, logger pslog.Logger, opts panelOptions) (*printwatch.Panel, error) {
	client, err := newAPIClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	b, err := newBroker(cfg.Broker, client, logger)
	if err != nil {
		return nil, err
	}
	return printwatch.New(printwatch.Config{
		Telemetry: cfg.Telemetry.Schema(),
		Printer:   schema.PrinterID(strings.TrimSpace(cfg.Printer)),
	}, printwatch.Deps{
		API:       client,
		Broker:    b,
		Sink:      opts.sink,
		EventSink: opts.events,
		Logger:    logger,
	})
}

// openLogFile returns a logger writing to cfg.File. The terminal UI owns
// stdout and stderr while it runs.
func openLogFile(cfg appconfig.LoggingConfig) (pslog.Logger, func() error, error) {
	path := strings.TrimSpace(cfg.File)
	if path == "" {
		return nil, nil, fmt.Errorf("logging.file is required for the terminal UI")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	mode := pslog.ModeConsole
	if cfg.Structured {
		mode = pslog.ModeStructured
	}
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(file),
		pslog.WithEnvOptions(pslog.Options{Mode: mode, NoColor: true}),
	)
	return logger, file.Close, nil
}
