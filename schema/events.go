package schema

import "encoding/json"

// Broker topics. Channel names are "<topic>.<printerId>".
const (
	TopicConnection       = "printer.connection"
	TopicMapper           = "printer.mapper"
	TopicTerminal         = "printer.terminal"
	TopicRecoveryStage    = "printer.recovery.stage"
	TopicRecoveryProgress = "printer.recovery.progress"
)

// Broker event names.
const (
	EventConnectionStatus EventName = "ConnectionStatusUpdated"
	EventMapperRunning    EventName = "MapperRunning"
	EventTerminalUpdated  EventName = "TerminalUpdated"
	EventRecoveryStage    EventName = "RecoveryStageChanged"
	EventRecoveryProgress EventName = "RecoveryProgressChanged"
)

// Channel returns the channel name for topic scoped to printer.
func Channel(topic string, printer PrinterID) ChannelName {
	return ChannelName(topic + "." + string(printer))
}

// ConnectionPayload is the body of ConnectionStatusUpdated.
type ConnectionPayload struct {
	LastSeen      Timestamp `json:"lastSeen"`
	ThresholdSecs int       `json:"thresholdSecs"`
}

// MapperPayload is the body of MapperRunning. A missing Running means running.
type MapperPayload struct {
	Running *bool `json:"running"`
}

// TerminalPayload is the body of TerminalUpdated.
type TerminalPayload struct {
	Command string `json:"command"`
}

// StagePayload is the body of RecoveryStageChanged. Stage is a numeric enum
// code or a stage name.
type StagePayload struct {
	Stage json.RawMessage `json:"stage"`
}

// ProgressPayload is the body of RecoveryProgressChanged.
type ProgressPayload struct {
	Percentage float64 `json:"percentage"`
}

// EventHandler processes one broker event payload. A non-nil error marks the
// payload as malformed; the event is logged and dropped.
type EventHandler func(payload []byte) error
