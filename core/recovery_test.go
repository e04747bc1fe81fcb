package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/printwatch/internal/broker"
	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/schema"
)

type userError struct{ msg string }

func (e *userError) Error() string { return "api: " + e.msg }
func (e *userError) UserMessage() string { return e.msg }

type fakeRecoveryAPI struct {
	mu          sync.Mutex
	interval    int
	intervalErr error
	enums       map[string]schema.Enum
	resumeErr   error
	cancelErr   error
	resumed     []int
	cancels     int
	block       chan struct{}
	started     chan struct{}
}

func newFakeRecoveryAPI() *fakeRecoveryAPI {
	return &fakeRecoveryAPI{
		interval: 1,
		enums: map[string]schema.Enum{
			schema.EnumBackupInterval: {"never": 0, "hourly": 1},
			schema.EnumRecoveryStage:  {"waitingForServer": 0, "countingLines": 1, "parsingFile": 2},
		},
	}
}

func (f *fakeRecoveryAPI) BackupInterval(context.Context, schema.PrinterID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval, f.intervalErr
}

func (f *fakeRecoveryAPI) Enum(_ context.Context, name string) (schema.Enum, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enum, ok := f.enums[name]
	if !ok {
		return nil, errors.New("unknown enum")
	}
	return enum, nil
}

func (f *fakeRecoveryAPI) ResumeFromLine(_ context.Context, _ schema.PrinterID, line int) error {
	f.mu.Lock()
	f.resumed = append(f.resumed, line)
	block, started, err := f.block, f.started, f.resumeErr
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeRecoveryAPI) CancelRecovery(context.Context, schema.PrinterID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.cancelErr
}

func (f *fakeRecoveryAPI) resumeCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.resumed...)
}

type fakeSeeker struct {
	mu      sync.Mutex
	targets []int
	clears  int
}

func (s *fakeSeeker) SetSeekTarget(line int) *Window {
	s.mu.Lock()
	s.targets = append(s.targets, line)
	s.mu.Unlock()
	return nil
}

func (s *fakeSeeker) ClearSeek() {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
}

type recoveryFixture struct {
	rec    *Recovery
	api    *fakeRecoveryAPI
	seeker *fakeSeeker
	events *recordingEvents
	mem    *broker.Memory
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	f := &recoveryFixture{
		api:    newFakeRecoveryAPI(),
		seeker: &fakeSeeker{},
		events: &recordingEvents{},
		mem:    broker.NewMemory(nil),
	}
	rec, err := NewRecovery(RecoveryDeps{
		API:       f.api,
		Channels:  channels.NewManager(f.mem, nil),
		Seeker:    f.seeker,
		EventSink: f.events,
	})
	if err != nil {
		t.Fatalf("new recovery: %v", err)
	}
	t.Cleanup(rec.Close)
	rec.Bind("p1")
	f.rec = rec
	return f
}

func interruptedStatus(lastLine int) schema.PrintStatus {
	return schema.PrintStatus{PrinterID: "p1", HasActiveJob: false, ActiveFile: "bracket.gcode", LastLine: lastLine}
}

func (f *recoveryFixture) preview(t *testing.T, lastLine int) {
	t.Helper()
	if err := f.rec.ObservePrintStatus(context.Background(), interruptedStatus(lastLine)); err != nil {
		t.Fatalf("observe print status: %v", err)
	}
	if phase := f.rec.Session().Phase; phase != schema.RecoveryPreviewing {
		t.Fatalf("expected previewing, got %s", phase)
	}
}

func TestNewRecoveryRequiresDeps(t *testing.T) {
	if _, err := NewRecovery(RecoveryDeps{Seeker: &fakeSeeker{}}); err == nil {
		t.Fatalf("expected error without api")
	}
	if _, err := NewRecovery(RecoveryDeps{API: newFakeRecoveryAPI()}); err == nil {
		t.Fatalf("expected error without seeker")
	}
}

func TestRecoveryIgnoresHealthyJobs(t *testing.T) {
	f := newRecoveryFixture(t)
	status := schema.PrintStatus{PrinterID: "p1", HasActiveJob: true, ActiveFile: "bracket.gcode", LastLine: 100}
	if err := f.rec.ObservePrintStatus(context.Background(), status); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if phase := f.rec.Session().Phase; phase != schema.RecoveryIdle {
		t.Fatalf("expected idle, got %s", phase)
	}
}

func TestRecoveryPreviewAdjustAndConfirm(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)

	session := f.rec.Session()
	if session.LineWindow != (schema.LineWindow{Min: 0, Max: 5000}) {
		t.Fatalf("unexpected window %+v", session.LineWindow)
	}
	if !session.Visible || session.ID == "" || session.File != "bracket.gcode" {
		t.Fatalf("unexpected session %+v", session)
	}

	for i := 0; i < 3; i++ {
		if err := f.rec.AdjustLine(-1); err != nil {
			t.Fatalf("adjust: %v", err)
		}
	}
	if err := f.rec.AdjustLine(-2); !errors.Is(err, schema.ErrInvalidAdjust) {
		t.Fatalf("expected invalid adjust, got %v", err)
	}
	want := []int{5000, 4999, 4998, 4997}
	if len(f.seeker.targets) != len(want) {
		t.Fatalf("expected seek targets %v, got %v", want, f.seeker.targets)
	}
	for i := range want {
		if f.seeker.targets[i] != want[i] {
			t.Fatalf("expected seek targets %v, got %v", want, f.seeker.targets)
		}
	}

	if err := f.rec.ConfirmRecover(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if calls := f.api.resumeCalls(); len(calls) != 1 || calls[0] != 4997 {
		t.Fatalf("expected resume from 4997, got %v", calls)
	}
	session = f.rec.Session()
	if session.Phase != schema.RecoveryResolved || session.Outcome != schema.OutcomeRecovered || session.Visible {
		t.Fatalf("unexpected session after confirm %+v", session)
	}
	if f.seeker.clears != 1 {
		t.Fatalf("expected seek cleared once, got %d", f.seeker.clears)
	}
	invalidations := f.events.invalidationList()
	if len(invalidations) != 1 || len(invalidations[0].Queries) != 2 {
		t.Fatalf("expected print-status and files invalidated, got %+v", invalidations)
	}
	if n := f.mem.Subscriptions(schema.Channel(schema.TopicRecoveryStage, "p1")); n != 0 {
		t.Fatalf("expected stage channel released, got %d", n)
	}
}

func TestRecoveryAdjustRejectsOutOfRange(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 10)
	targets := len(f.seeker.targets)
	if err := f.rec.AdjustLine(1); !errors.Is(err, schema.ErrLineOutOfRange) {
		t.Fatalf("expected line out of range, got %v", err)
	}
	if max := f.rec.Session().LineWindow.Max; max != 10 {
		t.Fatalf("expected max 10, got %d", max)
	}
	if len(f.seeker.targets) != targets {
		t.Fatalf("expected no seek on rejected adjust, got %v", f.seeker.targets)
	}

	if err := f.rec.SelectLine(0); err != nil {
		t.Fatalf("select line: %v", err)
	}
	if err := f.rec.AdjustLine(-1); !errors.Is(err, schema.ErrLineOutOfRange) {
		t.Fatalf("expected line out of range below 0, got %v", err)
	}
	if max := f.rec.Session().LineWindow.Max; max != 0 {
		t.Fatalf("expected max 0, got %d", max)
	}
	if err := f.rec.AdjustLine(1); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if max := f.rec.Session().LineWindow.Max; max != 1 {
		t.Fatalf("expected max 1, got %d", max)
	}
}

func TestRecoveryDisabledOffersOnlySkip(t *testing.T) {
	f := newRecoveryFixture(t)
	f.api.interval = 0
	if err := f.rec.ObservePrintStatus(context.Background(), interruptedStatus(800)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	session := f.rec.Session()
	if session.Phase != schema.RecoveryDisabled || session.CanRecover() || !session.CanSkip() {
		t.Fatalf("expected disabled with skip only, got %+v", session)
	}
	if len(f.seeker.targets) != 0 {
		t.Fatalf("expected no seek while disabled, got %v", f.seeker.targets)
	}
	if err := f.rec.ConfirmRecover(context.Background()); !errors.Is(err, schema.ErrRecoveryDisabled) {
		t.Fatalf("expected recovery disabled, got %v", err)
	}
	if err := f.rec.AdjustLine(-1); !errors.Is(err, schema.ErrRecoveryUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if err := f.rec.Skip(context.Background()); err != nil {
		t.Fatalf("skip: %v", err)
	}
	session = f.rec.Session()
	if session.Phase != schema.RecoveryResolved || session.Outcome != schema.OutcomeSkipped {
		t.Fatalf("unexpected session after skip %+v", session)
	}
	if f.seeker.clears != 0 {
		t.Fatalf("expected no seek clear from disabled, got %d", f.seeker.clears)
	}
	invalidations := f.events.invalidationList()
	if len(invalidations) != 1 || len(invalidations[0].Queries) != 1 || invalidations[0].Queries[0] != schema.QueryPrintStatus {
		t.Fatalf("expected print-status invalidated, got %+v", invalidations)
	}
}

func TestRecoveryPendingMutationIsExclusive(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	f.api.block = make(chan struct{})
	f.api.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.rec.ConfirmRecover(context.Background()) }()
	<-f.api.started

	if err := f.rec.ConfirmRecover(context.Background()); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy confirm, got %v", err)
	}
	if err := f.rec.Skip(context.Background()); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy skip, got %v", err)
	}
	if err := f.rec.AdjustLine(1); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy adjust, got %v", err)
	}
	if err := f.rec.Dismiss(); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy dismiss, got %v", err)
	}
	close(f.api.block)
	if err := <-done; err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if calls := f.api.resumeCalls(); len(calls) != 1 {
		t.Fatalf("expected exactly one resume, got %v", calls)
	}
}

func TestRecoveryFailureRollsBack(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	f.api.resumeErr = &userError{msg: "printer is busy"}

	err := f.rec.ConfirmRecover(context.Background())
	if err == nil {
		t.Fatalf("expected confirm error")
	}
	session := f.rec.Session()
	if session.Phase != schema.RecoveryPreviewing || session.Pending || session.Outcome != schema.OutcomePending {
		t.Fatalf("expected rollback to previewing, got %+v", session)
	}
	if session.Error != "printer is busy" {
		t.Fatalf("expected server message, got %q", session.Error)
	}
	if n := f.events.notificationCount(); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
	if !session.CanRecover() {
		t.Fatalf("expected confirm reachable after failure")
	}
}

func TestRecoverySkipFailureRestoresPhase(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 100)
	f.api.cancelErr = errors.New("down")
	if err := f.rec.Skip(context.Background()); err == nil {
		t.Fatalf("expected skip error")
	}
	if session := f.rec.Session(); session.Phase != schema.RecoveryPreviewing || session.Error != "down" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestRecoveryStageAndProgressEvents(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	f.api.block = make(chan struct{})
	f.api.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.rec.ConfirmRecover(context.Background()) }()
	<-f.api.started

	stage := schema.Channel(schema.TopicRecoveryStage, "p1")
	progress := schema.Channel(schema.TopicRecoveryProgress, "p1")
	if f.rec.Session().Stage != schema.StageWaitingForServer {
		t.Fatalf("expected initial waitingForServer stage")
	}
	cases := []struct {
		payload string
		want    schema.RecoveryStage
	}{
		{`{"stage":1}`, schema.StageCountingLines},
		{`{"stage":"parsingFile"}`, schema.StageParsingFile},
		{`{"stage":"2"}`, schema.StageParsingFile},
		{`{"stage":42}`, schema.StageWaitingForServer},
		{`{"stage":"rebooting"}`, schema.StageWaitingForServer},
	}
	for _, tc := range cases {
		f.mem.Publish(stage, schema.EventRecoveryStage, []byte(tc.payload))
		if got := f.rec.Session().Stage; got != tc.want {
			t.Fatalf("payload %s: expected %s, got %s", tc.payload, tc.want, got)
		}
	}
	f.mem.Publish(progress, schema.EventRecoveryProgress, []byte(`{"percentage":42.5}`))
	f.mem.Publish(progress, schema.EventRecoveryProgress, []byte(`{}`))
	if got := f.rec.Session().ProgressPercent; got != 42.5 {
		t.Fatalf("expected progress 42.5, got %v", got)
	}

	close(f.api.block)
	if err := <-done; err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if n := f.mem.Subscriptions(progress); n != 0 {
		t.Fatalf("expected progress channel released, got %d", n)
	}
}

func TestRecoveryConfigFailureRetries(t *testing.T) {
	f := newRecoveryFixture(t)
	f.api.intervalErr = errors.New("timeout")
	if err := f.rec.ObservePrintStatus(context.Background(), interruptedStatus(300)); err == nil {
		t.Fatalf("expected config error")
	}
	session := f.rec.Session()
	if session.Phase != schema.RecoveryDetected || session.Error == "" {
		t.Fatalf("expected detected with error, got %+v", session)
	}
	f.api.intervalErr = nil
	if err := f.rec.ObservePrintStatus(context.Background(), interruptedStatus(300)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if session := f.rec.Session(); session.Phase != schema.RecoveryPreviewing || session.Error != "" {
		t.Fatalf("expected previewing after retry, got %+v", session)
	}
}

func TestRecoveryDismissAndReset(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 300)
	if err := f.rec.Dismiss(); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	session := f.rec.Session()
	if session.Visible || session.Phase != schema.RecoveryResolved || session.Outcome != schema.OutcomePending {
		t.Fatalf("unexpected session after dismiss %+v", session)
	}
	if f.seeker.clears != 1 {
		t.Fatalf("expected seek cleared, got %d", f.seeker.clears)
	}

	if err := f.rec.ObservePrintStatus(context.Background(), interruptedStatus(300)); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if phase := f.rec.Session().Phase; phase != schema.RecoveryResolved {
		t.Fatalf("expected dismissed session to stay resolved, got %s", phase)
	}
	healthy := schema.PrintStatus{PrinterID: "p1", HasActiveJob: true, ActiveFile: "next.gcode"}
	if err := f.rec.ObservePrintStatus(context.Background(), healthy); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if phase := f.rec.Session().Phase; phase != schema.RecoveryIdle {
		t.Fatalf("expected idle after healthy status, got %s", phase)
	}
}

func TestRecoveryBindDropsStaleResult(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	f.api.block = make(chan struct{})
	f.api.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.rec.ConfirmRecover(context.Background()) }()
	<-f.api.started
	f.rec.Bind("p2")
	close(f.api.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected confirm to return")
	}
	session := f.rec.Session()
	if session.PrinterID != "p2" || session.Phase != schema.RecoveryIdle {
		t.Fatalf("expected idle session for p2, got %+v", session)
	}
	if f.seeker.clears != 0 {
		t.Fatalf("expected stale result to leave seeker alone, got %d clears", f.seeker.clears)
	}
}

func TestRecoveryBindKeepsBusyUntilStaleCallReturns(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	f.api.block = make(chan struct{})
	f.api.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.rec.ConfirmRecover(context.Background()) }()
	<-f.api.started
	f.rec.Bind("p2")

	status := interruptedStatus(300)
	status.PrinterID = "p2"
	if err := f.rec.ObservePrintStatus(context.Background(), status); err != nil {
		t.Fatalf("observe: %v", err)
	}
	session := f.rec.Session()
	if session.PrinterID != "p2" || session.Phase != schema.RecoveryPreviewing || !session.Pending {
		t.Fatalf("expected pending p2 preview, got %+v", session)
	}
	if err := f.rec.ConfirmRecover(context.Background()); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy confirm, got %v", err)
	}
	if err := f.rec.Skip(context.Background()); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy skip, got %v", err)
	}
	if err := f.rec.AdjustLine(-1); !errors.Is(err, schema.ErrRecoveryBusy) {
		t.Fatalf("expected busy adjust, got %v", err)
	}

	close(f.api.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected confirm to return")
	}
	if f.rec.Session().Pending {
		t.Fatalf("expected pending cleared once the stale call returned")
	}
	f.api.mu.Lock()
	f.api.block, f.api.started = nil, nil
	f.api.mu.Unlock()
	if err := f.rec.ConfirmRecover(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if calls := f.api.resumeCalls(); len(calls) != 2 || calls[1] != 300 {
		t.Fatalf("expected second resume at 300, got %v", calls)
	}
}

func TestRecoveryIgnoresEventsForOtherPrinter(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	f.api.block = make(chan struct{})
	f.api.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.rec.ConfirmRecover(context.Background()) }()
	<-f.api.started

	if err := f.rec.onStageEvent("p2", []byte(`{"stage":1}`)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := f.rec.onProgressEvent("p2", []byte(`{"percentage":80}`)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	session := f.rec.Session()
	if session.Stage != schema.StageWaitingForServer || session.ProgressPercent != 0 {
		t.Fatalf("expected p2 events ignored, got stage %s progress %v", session.Stage, session.ProgressPercent)
	}
	if err := f.rec.onProgressEvent("p1", []byte(`{"percentage":80}`)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := f.rec.Session().ProgressPercent; got != 80 {
		t.Fatalf("expected progress 80, got %v", got)
	}

	close(f.api.block)
	if err := <-done; err != nil {
		t.Fatalf("confirm: %v", err)
	}
}

func TestRecoveryIgnoresOtherPrinterStatus(t *testing.T) {
	f := newRecoveryFixture(t)
	status := interruptedStatus(100)
	status.PrinterID = "p9"
	if err := f.rec.ObservePrintStatus(context.Background(), status); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if phase := f.rec.Session().Phase; phase != schema.RecoveryIdle {
		t.Fatalf("expected idle, got %s", phase)
	}
}

func TestRecoverySelectLine(t *testing.T) {
	f := newRecoveryFixture(t)
	f.preview(t, 5000)
	if err := f.rec.SelectLine(4200); err != nil {
		t.Fatalf("select line: %v", err)
	}
	if err := f.rec.SelectLine(6000); err == nil {
		t.Fatalf("expected error beyond last line")
	}
	session := f.rec.Session()
	if session.LineWindow != (schema.LineWindow{Min: 0, Max: 4200}) {
		t.Fatalf("unexpected window %+v", session.LineWindow)
	}
	if last := f.seeker.targets[len(f.seeker.targets)-1]; last != 4200 {
		t.Fatalf("expected seek to 4200, got %d", last)
	}
}
