package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// Recovery guides the operator through resuming or discarding an
// interrupted print job.
//
// Phases: idle → detected → previewing (or disabled) → recovering | skipping
// → resolved. At most one of the two mutations is in flight; while one is
// pending every control returns schema.ErrRecoveryBusy. That holds across
// Bind: a printer switch does not admit a new mutation until the previous
// call has returned.
type Recovery struct {
	api      RecoveryAPI
	seeker   Seeker
	events   EventSink
	log      pslog.Logger
	lookback int
	scope    *channels.Scope

	mu        sync.Mutex
	printer   schema.PrinterID
	gen       uint64
	loading   bool
	inflight  bool
	stageEnum schema.Enum
	session   schema.RecoverySession
}

// NewRecovery constructs a Recovery controller.
func NewRecovery(deps RecoveryDeps) (*Recovery, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("recovery requires an api")
	}
	if deps.Seeker == nil {
		return nil, fmt.Errorf("recovery requires a seeker")
	}
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = schema.DefaultBufferMaxLines
	}
	r := &Recovery{
		api:      deps.API,
		seeker:   deps.Seeker,
		events:   sinkOrNop(deps.EventSink),
		log:      logx.Or(deps.Logger).With("component", "recovery"),
		lookback: lookback,
		session:  idleSession(""),
	}
	if deps.Channels != nil {
		r.scope = deps.Channels.NewScope("recovery",
			channels.Topic{
				Name: schema.TopicRecoveryStage,
				Events: map[schema.EventName]channels.Handler{
					schema.EventRecoveryStage: r.onStageEvent,
				},
			},
			channels.Topic{
				Name: schema.TopicRecoveryProgress,
				Events: map[schema.EventName]channels.Handler{
					schema.EventRecoveryProgress: r.onProgressEvent,
				},
			},
		)
	}
	return r, nil
}

func idleSession(printer schema.PrinterID) schema.RecoverySession {
	return schema.RecoverySession{
		PrinterID: printer,
		Phase:     schema.RecoveryIdle,
		Stage:     schema.StageUnknown,
		Outcome:   schema.OutcomePending,
	}
}

// Bind resets the controller for printer. Results of mutations issued for a
// previous printer are ignored.
func (r *Recovery) Bind(printer schema.PrinterID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if printer == r.printer {
		return
	}
	r.gen++
	r.printer = printer
	r.loading = false
	r.stageEnum = nil
	r.session = idleSession(printer)
	r.session.Pending = r.inflight
	if r.scope != nil {
		r.scope.Release()
	}
	r.publishLocked()
}

// Close releases the stage and progress channels.
func (r *Recovery) Close() {
	if r.scope != nil {
		r.scope.Release()
	}
}

// Session returns a snapshot of the current session.
func (r *Recovery) Session() schema.RecoverySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// ObservePrintStatus feeds a polled print status. An interrupted job opens a
// session and loads the recovery configuration; a load failure is recorded on
// the session and retried on the next observation.
func (r *Recovery) ObservePrintStatus(ctx context.Context, status schema.PrintStatus) error {
	r.mu.Lock()
	if status.PrinterID != "" && status.PrinterID != r.printer {
		r.mu.Unlock()
		return nil
	}
	switch r.session.Phase {
	case schema.RecoveryIdle:
		if !status.Interrupted() {
			r.mu.Unlock()
			return nil
		}
		r.session = schema.RecoverySession{
			ID:         newSessionID(),
			PrinterID:  r.printer,
			Visible:    true,
			Phase:      schema.RecoveryDetected,
			Stage:      schema.StageUnknown,
			Outcome:    schema.OutcomePending,
			LastLine:   status.LastLine,
			File:       status.ActiveFile,
			LineWindow: schema.WindowEndingAt(status.LastLine, r.lookback),
			Pending:    r.inflight,
		}
		logx.WithPrinterSession(ctx, r.printer, r.session.ID).Info("recovery detected", "file", status.ActiveFile, "last_line", status.LastLine)
		r.publishLocked()
	case schema.RecoveryDetected:
	case schema.RecoveryResolved:
		if !status.Interrupted() {
			r.session = idleSession(r.printer)
			r.session.Pending = r.inflight
			r.publishLocked()
		}
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		return nil
	}
	if r.loading {
		r.mu.Unlock()
		return nil
	}
	r.loading = true
	gen := r.gen
	printer := r.printer
	r.mu.Unlock()

	interval, intervals, stages, err := r.loadConfig(ctx, printer)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.session.Phase != schema.RecoveryDetected {
		return nil
	}
	r.loading = false
	log := logx.WithPrinterSession(ctx, printer, r.session.ID)
	if err != nil {
		r.session.Error = err.Error()
		log.Warn("recovery config load failed", "err", err)
		r.publishLocked()
		return err
	}
	r.session.Error = ""
	r.stageEnum = stages
	if name, ok := intervals.Name(interval); ok && strings.EqualFold(name, schema.BackupIntervalNever) {
		r.session.Phase = schema.RecoveryDisabled
		log.Info("recovery disabled by backup interval")
		r.publishLocked()
		return nil
	}
	r.session.Phase = schema.RecoveryPreviewing
	r.seeker.SetSeekTarget(r.session.LineWindow.Max)
	log.Info("recovery previewing", "window_min", r.session.LineWindow.Min, "window_max", r.session.LineWindow.Max)
	r.publishLocked()
	return nil
}

func (r *Recovery) loadConfig(ctx context.Context, printer schema.PrinterID) (int, schema.Enum, schema.Enum, error) {
	interval, err := r.api.BackupInterval(ctx, printer)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("backup interval: %w", err)
	}
	intervals, err := r.api.Enum(ctx, schema.EnumBackupInterval)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s enum: %w", schema.EnumBackupInterval, err)
	}
	stages, err := r.api.Enum(ctx, schema.EnumRecoveryStage)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s enum: %w", schema.EnumRecoveryStage, err)
	}
	return interval, intervals, stages, nil
}

// AdjustLine moves the candidate resume line by exactly one line and seeks the
// visualization to it. Stepping below 0 or past the last line returns
// schema.ErrLineOutOfRange and leaves the window unchanged.
func (r *Recovery) AdjustLine(delta int) error {
	if delta != 1 && delta != -1 {
		return schema.ErrInvalidAdjust
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight {
		return schema.ErrRecoveryBusy
	}
	if r.session.Phase != schema.RecoveryPreviewing {
		return schema.ErrRecoveryUnavailable
	}
	next := r.session.LineWindow.Max + delta
	if next < 0 || next > r.session.LastLine {
		return fmt.Errorf("%w: resume line %d outside 0-%d", schema.ErrLineOutOfRange, next, r.session.LastLine)
	}
	r.session.LineWindow = schema.WindowEndingAt(next, r.lookback)
	r.seeker.SetSeekTarget(next)
	r.publishLocked()
	return nil
}

// SelectLine moves the candidate resume line to line directly.
func (r *Recovery) SelectLine(line int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight {
		return schema.ErrRecoveryBusy
	}
	if r.session.Phase != schema.RecoveryPreviewing {
		return schema.ErrRecoveryUnavailable
	}
	if line < 0 || line > r.session.LastLine {
		return fmt.Errorf("%w: resume line %d outside 0-%d", schema.ErrLineOutOfRange, line, r.session.LastLine)
	}
	if line == r.session.LineWindow.Max {
		return nil
	}
	r.session.LineWindow = schema.WindowEndingAt(line, r.lookback)
	r.seeker.SetSeekTarget(line)
	r.publishLocked()
	return nil
}

// ConfirmRecover resumes the job from the selected line. Stage and progress
// channels are open while the command is pending.
func (r *Recovery) ConfirmRecover(ctx context.Context) error {
	r.mu.Lock()
	if err := r.guardLocked(schema.RecoveryPreviewing); err != nil {
		r.mu.Unlock()
		return err
	}
	gen := r.gen
	printer := r.printer
	line := r.session.LineWindow.Max
	r.inflight = true
	r.session.Pending = true
	r.session.Phase = schema.RecoveryRecovering
	r.session.Outcome = schema.OutcomeRecovering
	r.session.Stage = schema.StageWaitingForServer
	r.session.ProgressPercent = 0
	r.session.Error = ""
	if r.scope != nil {
		r.scope.Bind(printer)
	}
	log := logx.WithPrinterSession(ctx, printer, r.session.ID)
	log.Info("recovery resume start", "line", line)
	r.publishLocked()
	r.mu.Unlock()

	err := r.api.ResumeFromLine(ctx, printer, line)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight = false
	if gen != r.gen {
		log.Debug("recovery resume result dropped after printer switch", "err", err)
		r.session.Pending = false
		r.publishLocked()
		return err
	}
	if r.scope != nil {
		r.scope.Release()
	}
	r.session.Pending = false
	if err != nil {
		r.session.Phase = schema.RecoveryPreviewing
		r.session.Outcome = schema.OutcomePending
		r.session.Stage = schema.StageUnknown
		r.session.Error = userMessage(err)
		log.Error("recovery resume failed", "err", err)
		r.notifyLocked(err)
		r.publishLocked()
		return err
	}
	r.session.Phase = schema.RecoveryResolved
	r.session.Outcome = schema.OutcomeRecovered
	r.session.Visible = false
	r.seeker.ClearSeek()
	log.Info("recovery resume ok", "line", line)
	r.publishLocked()
	r.events.OnInvalidate(schema.InvalidationEvent{PrinterID: printer, Queries: []schema.Query{schema.QueryPrintStatus, schema.QueryFiles}})
	return nil
}

// Skip discards the recovery. It is reachable from previewing and disabled.
func (r *Recovery) Skip(ctx context.Context) error {
	r.mu.Lock()
	if err := r.guardLocked(schema.RecoveryPreviewing, schema.RecoveryDisabled); err != nil {
		r.mu.Unlock()
		return err
	}
	gen := r.gen
	printer := r.printer
	prev := r.session.Phase
	r.inflight = true
	r.session.Pending = true
	r.session.Phase = schema.RecoverySkipping
	r.session.Error = ""
	log := logx.WithPrinterSession(ctx, printer, r.session.ID)
	log.Info("recovery skip start")
	r.publishLocked()
	r.mu.Unlock()

	err := r.api.CancelRecovery(ctx, printer)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight = false
	if gen != r.gen {
		log.Debug("recovery skip result dropped after printer switch", "err", err)
		r.session.Pending = false
		r.publishLocked()
		return err
	}
	r.session.Pending = false
	if err != nil {
		r.session.Phase = prev
		r.session.Error = userMessage(err)
		log.Error("recovery skip failed", "err", err)
		r.notifyLocked(err)
		r.publishLocked()
		return err
	}
	r.session.Phase = schema.RecoveryResolved
	r.session.Outcome = schema.OutcomeSkipped
	r.session.Visible = false
	if prev == schema.RecoveryPreviewing {
		r.seeker.ClearSeek()
	}
	log.Info("recovery skip ok")
	r.publishLocked()
	r.events.OnInvalidate(schema.InvalidationEvent{PrinterID: printer, Queries: []schema.Query{schema.QueryPrintStatus}})
	return nil
}

// Dismiss hides the session without issuing a command.
func (r *Recovery) Dismiss() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight {
		return schema.ErrRecoveryBusy
	}
	switch r.session.Phase {
	case schema.RecoveryIdle, schema.RecoveryResolved:
		return nil
	case schema.RecoveryPreviewing:
		r.seeker.ClearSeek()
	}
	r.gen++
	r.loading = false
	r.session.Phase = schema.RecoveryResolved
	r.session.Visible = false
	r.log.Info("recovery dismissed", "printer", r.printer, "recovery_session", r.session.ID)
	r.publishLocked()
	return nil
}

func (r *Recovery) guardLocked(phases ...schema.RecoveryPhase) error {
	if r.inflight {
		return schema.ErrRecoveryBusy
	}
	for _, phase := range phases {
		if r.session.Phase == phase {
			return nil
		}
	}
	if r.session.Phase == schema.RecoveryDisabled {
		return schema.ErrRecoveryDisabled
	}
	return schema.ErrRecoveryUnavailable
}

func (r *Recovery) onStageEvent(printer schema.PrinterID, payload []byte) error {
	var event schema.StagePayload
	if err := decodeEvent(payload, &event, "stage"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if printer != r.printer || r.session.Phase != schema.RecoveryRecovering {
		return nil
	}
	r.session.Stage = r.resolveStageLocked(event.Stage)
	r.publishLocked()
	return nil
}

func (r *Recovery) onProgressEvent(printer schema.PrinterID, payload []byte) error {
	var event schema.ProgressPayload
	if err := decodeEvent(payload, &event, "percentage"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if printer != r.printer || r.session.Phase != schema.RecoveryRecovering {
		return nil
	}
	r.session.ProgressPercent = event.Percentage
	r.publishLocked()
	return nil
}

// resolveStageLocked maps a numeric RecoveryStage code or a stage name.
func (r *Recovery) resolveStageLocked(raw json.RawMessage) schema.RecoveryStage {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if code, err := strconv.Atoi(name); err == nil {
			name, _ = r.stageEnum.Name(code)
		}
		return schema.ParseRecoveryStage(name)
	}
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		return schema.StageWaitingForServer
	}
	name, _ = r.stageEnum.Name(code)
	return schema.ParseRecoveryStage(name)
}

func (r *Recovery) notifyLocked(err error) {
	r.events.OnNotification(schema.Notification{
		PrinterID: r.printer,
		Level:     schema.NotifyError,
		Message:   userMessage(err),
	})
}

func (r *Recovery) publishLocked() {
	r.events.OnRecovery(schema.RecoveryEvent{PrinterID: r.printer, Session: r.session})
}
