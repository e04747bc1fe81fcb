package schema

import "errors"

var (
	// ErrBrokerNotReady indicates the pub/sub broker is not initialized yet.
	ErrBrokerNotReady = errors.New("broker not ready")
	// ErrMalformedPayload indicates a broker event lacked required fields.
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrNoPrinter indicates no printer is selected.
	ErrNoPrinter = errors.New("no printer selected")
	// ErrWindowSuperseded indicates a newer window request replaced this one.
	ErrWindowSuperseded = errors.New("window request superseded")
	// ErrRecoveryBusy indicates a recovery mutation is already pending.
	ErrRecoveryBusy = errors.New("recovery mutation pending")
	// ErrRecoveryUnavailable indicates the operation is not valid in the current phase.
	ErrRecoveryUnavailable = errors.New("recovery operation unavailable")
	// ErrRecoveryDisabled indicates recovery is administratively disabled.
	ErrRecoveryDisabled = errors.New("recovery disabled by backup interval")
	// ErrInvalidAdjust indicates a line adjustment other than a single step.
	ErrInvalidAdjust = errors.New("line adjustment must be -1 or +1")
	// ErrLineOutOfRange indicates a resume line outside 0 to the job's last line.
	ErrLineOutOfRange = errors.New("resume line out of range")
)
