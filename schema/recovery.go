package schema

// RecoveryPhase is the position of a recovery session in its state machine.
type RecoveryPhase string

const (
	// RecoveryIdle means no interrupted job was detected.
	RecoveryIdle RecoveryPhase = "idle"
	// RecoveryDetected means an interrupted job was detected and config is loading.
	RecoveryDetected RecoveryPhase = "detected"
	// RecoveryPreviewing means the operator is picking the resume line.
	RecoveryPreviewing RecoveryPhase = "previewing"
	// RecoveryDisabled means recovery is disabled and only skip is offered.
	RecoveryDisabled RecoveryPhase = "disabled"
	// RecoveryRecovering means the resume command is pending.
	RecoveryRecovering RecoveryPhase = "recovering"
	// RecoverySkipping means the discard command is pending.
	RecoverySkipping RecoveryPhase = "skipping"
	// RecoveryResolved means the session finished.
	RecoveryResolved RecoveryPhase = "resolved"
)

// RecoveryStage is the server-side progress stage of a resume.
type RecoveryStage string

const (
	StageUnknown          RecoveryStage = "unknown"
	StageWaitingForServer RecoveryStage = "waitingForServer"
	StageCountingLines    RecoveryStage = "countingLines"
	StageParsingFile      RecoveryStage = "parsingFile"
)

// ParseRecoveryStage maps a stage name, degrading unknown values to waitingForServer.
func ParseRecoveryStage(name string) RecoveryStage {
	switch RecoveryStage(name) {
	case StageWaitingForServer, StageCountingLines, StageParsingFile:
		return RecoveryStage(name)
	default:
		return StageWaitingForServer
	}
}

// RecoveryOutcome is the result of a recovery session.
type RecoveryOutcome string

const (
	OutcomePending    RecoveryOutcome = "pending"
	OutcomeRecovering RecoveryOutcome = "recovering"
	OutcomeSkipped    RecoveryOutcome = "skipped"
	OutcomeRecovered  RecoveryOutcome = "recovered"
)

// BackupIntervalNever is the enum name that disables recovery.
const BackupIntervalNever = "never"

// Enum names used by the recovery subsystem.
const (
	EnumBackupInterval = "BackupInterval"
	EnumRecoveryStage  = "RecoveryStage"
)

// Enum maps enum member names to their numeric codes.
type Enum map[string]int

// Name returns the member name for code.
func (e Enum) Name(code int) (string, bool) {
	for name, value := range e {
		if value == code {
			return name, true
		}
	}
	return "", false
}

// RecoverySession is the read-only view of a recovery workflow.
type RecoverySession struct {
	ID              SessionID
	PrinterID       PrinterID
	Visible         bool
	Phase           RecoveryPhase
	Stage           RecoveryStage
	ProgressPercent float64
	LineWindow      LineWindow
	LastLine        int
	File            string
	Outcome         RecoveryOutcome
	Pending         bool
	Error           string
}

// CanAdjust reports whether the resume line can be changed.
func (s RecoverySession) CanAdjust() bool {
	return s.Phase == RecoveryPreviewing && !s.Pending
}

// CanRecover reports whether confirm is reachable.
func (s RecoverySession) CanRecover() bool {
	return s.Phase == RecoveryPreviewing && !s.Pending
}

// CanSkip reports whether skip is reachable.
func (s RecoverySession) CanSkip() bool {
	return (s.Phase == RecoveryPreviewing || s.Phase == RecoveryDisabled) && !s.Pending
}
