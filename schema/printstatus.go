package schema

// PrintStatus is the polled print job snapshot.
type PrintStatus struct {
	PrinterID        PrinterID `json:"printerId,omitempty"`
	HasActiveJob     bool      `json:"hasActiveJob"`
	LastJobHasFailed bool      `json:"lastJobHasFailed"`
	ActiveFile       string    `json:"activeFile,omitempty"`
	LastLine         int       `json:"lastLine"`
	CurrentLine      int       `json:"currentLine"`
}

// Interrupted reports whether the job stopped mid-file and may be recovered.
func (s PrintStatus) Interrupted() bool {
	if s.ActiveFile == "" {
		return false
	}
	return !s.HasActiveJob || s.LastJobHasFailed
}
