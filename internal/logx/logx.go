package logx

import (
	"context"

	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	printerKey contextKey = iota
	sessionKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// Or returns logger, falling back to the background context logger.
func Or(logger pslog.Logger) pslog.Logger {
	if logger == nil {
		return pslog.Ctx(context.Background())
	}
	return logger
}

// WithPrinter annotates the logger with the printer id if present.
func WithPrinter(ctx context.Context, printer schema.PrinterID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if printer != "" {
		if current, ok := ctx.Value(printerKey).(schema.PrinterID); ok && current == printer {
			return log
		}
		log = log.With("printer", printer)
	}
	return log
}

// WithPrinterSession annotates the logger with printer and recovery session identifiers.
func WithPrinterSession(ctx context.Context, printer schema.PrinterID, session schema.SessionID) pslog.Logger {
	log := WithPrinter(ctx, printer)
	if session != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == session {
			return log
		}
		log = log.With("recovery_session", session)
	}
	return log
}

// WithChannel annotates the logger with a broker channel name.
func WithChannel(log pslog.Logger, channel schema.ChannelName) pslog.Logger {
	if channel != "" {
		log = log.With("channel", channel)
	}
	return log
}

// WithWindow annotates the logger with a line window.
func WithWindow(log pslog.Logger, window schema.LineWindow) pslog.Logger {
	return log.With("window_min", window.Min, "window_max", window.Max)
}

// ContextWithPrinter stores the printer marker on the context for log de-duplication.
func ContextWithPrinter(ctx context.Context, printer schema.PrinterID) context.Context {
	if ctx == nil || printer == "" {
		return ctx
	}
	return context.WithValue(ctx, printerKey, printer)
}

// ContextWithSession stores the recovery session marker on the context.
func ContextWithSession(ctx context.Context, session schema.SessionID) context.Context {
	if ctx == nil || session == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, session)
}

// ContextWithPrinterLogger attaches the logger and printer marker to the context.
func ContextWithPrinterLogger(ctx context.Context, log pslog.Logger, printer schema.PrinterID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithPrinter(ctx, printer)
}
