package schema

import "time"

// ConnectivityState is the derived printer connectivity state.
type ConnectivityState string

const (
	// ConnectivityWaiting means the heartbeat is late but not yet stale.
	ConnectivityWaiting ConnectivityState = "waiting"
	// ConnectivityConnecting means the mapper reported it is (re)starting.
	ConnectivityConnecting ConnectivityState = "connecting"
	// ConnectivityOnline means the heartbeat is within threshold.
	ConnectivityOnline ConnectivityState = "online"
	// ConnectivityOffline means the heartbeat is stale or missing.
	ConnectivityOffline ConnectivityState = "offline"
)

// DefaultMaxThresholdSecs bounds how long the monitor waits for any update.
const DefaultMaxThresholdSecs = 15

// Connectivity is the read-only connectivity view published by the monitor.
type Connectivity struct {
	PrinterID     PrinterID
	State         ConnectivityState
	Label         ConnectivityState
	LastSeenAt    *time.Time
	ThresholdSecs int
	Watchdog      bool
}

// Busy reports whether a spinner should be shown.
func (c Connectivity) Busy() bool {
	return c.State == ConnectivityWaiting || c.State == ConnectivityConnecting
}

// ConnectionSnapshot is a server-reported heartbeat.
type ConnectionSnapshot struct {
	LastSeen      Timestamp `json:"lastSeen"`
	ThresholdSecs int       `json:"thresholdSecs"`
}
