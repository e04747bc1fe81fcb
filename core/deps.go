package core

import (
	"context"
	"time"

	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// WindowFetcher loads historical G-code for an inclusive line range.
type WindowFetcher interface {
	FetchWindow(ctx context.Context, printer schema.PrinterID, window schema.LineWindow) (string, error)
}

// StatusSource loads connection and print status snapshots.
type StatusSource interface {
	ConnectionStatus(ctx context.Context, printer schema.PrinterID) (schema.ConnectionSnapshot, error)
	PrintStatus(ctx context.Context, printer schema.PrinterID) (schema.PrintStatus, error)
}

// RecoveryAPI issues recovery commands and loads recovery configuration.
type RecoveryAPI interface {
	BackupInterval(ctx context.Context, printer schema.PrinterID) (int, error)
	Enum(ctx context.Context, name string) (schema.Enum, error)
	ResumeFromLine(ctx context.Context, printer schema.PrinterID, line int) error
	CancelRecovery(ctx context.Context, printer schema.PrinterID) error
}

// Sink is the visualization surface. Calls are serialized by the
// Synchronizer; implementations must not call back into it.
type Sink interface {
	Clear()
	ProcessGCode(text string)
	Resize()
}

// Seeker moves a visualization to a historical window.
type Seeker interface {
	SetSeekTarget(line int) *Window
	ClearSeek()
}

// SynchronizerDeps captures dependencies for a Synchronizer.
type SynchronizerDeps struct {
	Fetcher  WindowFetcher
	Sink     Sink
	Channels *channels.Manager
	Logger   pslog.Logger
	// Lookback is the number of lines fetched before a seek or prime target.
	Lookback int
}

// MonitorDeps captures dependencies for a Monitor.
type MonitorDeps struct {
	Channels     *channels.Manager
	EventSink    EventSink
	Logger       pslog.Logger
	MaxThreshold time.Duration
	Tick         time.Duration
	Now          func() time.Time
}

// RecoveryDeps captures dependencies for a Recovery controller.
type RecoveryDeps struct {
	API       RecoveryAPI
	Channels  *channels.Manager
	Seeker    Seeker
	EventSink EventSink
	Logger    pslog.Logger
	Lookback  int
}
