package schema

// PrinterID identifies a printer managed by the panel.
type PrinterID string

// ChannelName is a broker channel name of the form "<topic>.<printerId>".
type ChannelName string

// EventName identifies an event emitted on a broker channel.
type EventName string

// SessionID identifies a recovery session.
type SessionID string

// Query names a dependent read model that can be invalidated.
type Query string

const (
	// QueryPrintStatus is the polled print status snapshot.
	QueryPrintStatus Query = "print-status"
	// QueryFiles is the printer file list.
	QueryFiles Query = "files"
)

// LineWindow is an inclusive range of G-code line numbers.
type LineWindow struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// WindowEndingAt returns the lookback window that ends at line, clamped at 0.
func WindowEndingAt(line, lookback int) LineWindow {
	if line < 0 {
		line = 0
	}
	min := line - lookback
	if min < 0 {
		min = 0
	}
	return LineWindow{Min: min, Max: line}
}
