package core

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/internal/gcode"
	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// Synchronizer merges historical G-code windows with the live terminal feed
// into one ordered instruction sequence for a single visualization sink.
//
// While a live-mode window is in flight, accepted live instructions are
// queued. When the window resolves the sink receives Clear, the historical
// payload, then the queued instructions in arrival order. In seek mode live
// instructions are suppressed entirely.
type Synchronizer struct {
	fetcher  WindowFetcher
	sink     Sink
	log      pslog.Logger
	lookback int
	scope    *channels.Scope

	mu      sync.Mutex
	printer schema.PrinterID
	current *Window
	buffer  streamBuffer
	seek    schema.SeekState
	stats   schema.StreamStats
}

// NewSynchronizer constructs a Synchronizer. When deps.Channels is set the
// synchronizer owns a terminal channel scope that follows Bind.
func NewSynchronizer(deps SynchronizerDeps) (*Synchronizer, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("synchronizer requires a window fetcher")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("synchronizer requires a sink")
	}
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = schema.DefaultBufferMaxLines
	}
	s := &Synchronizer{
		fetcher:  deps.Fetcher,
		sink:     deps.Sink,
		log:      logx.Or(deps.Logger).With("component", "synchronizer"),
		lookback: lookback,
		seek:     schema.SeekState{Mode: schema.SeekLive},
	}
	if deps.Channels != nil {
		s.scope = deps.Channels.NewScope("synchronizer", channels.Topic{
			Name: schema.TopicTerminal,
			Events: map[schema.EventName]channels.Handler{
				schema.EventTerminalUpdated: s.OnTerminalEvent,
			},
		})
	}
	return s, nil
}

// Bind switches the synchronizer to printer. Outstanding windows are
// superseded, queued instructions are dropped and live mode is restored.
func (s *Synchronizer) Bind(printer schema.PrinterID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if printer == s.printer {
		return
	}
	s.supersedeLocked()
	if n := s.buffer.Discard(); n > 0 {
		s.stats.Discarded += n
	}
	s.printer = printer
	s.seek = schema.SeekState{Mode: schema.SeekLive}
	if s.scope != nil {
		s.scope.Bind(printer)
	}
	s.log.Info("synchronizer bound", "printer", printer)
}

// Close releases the terminal scope and supersedes any outstanding window.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	s.buffer.Discard()
	if s.scope != nil {
		s.scope.Release()
	}
}

// RequestWindow issues a historical fetch for window.
func (s *Synchronizer) RequestWindow(window schema.LineWindow) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(window)
}

// Prime fetches the lookback window ending at currentLine in live mode. It
// returns nil while seeking.
func (s *Synchronizer) Prime(currentLine int) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seek.Mode == schema.SeekSeeking {
		return nil
	}
	return s.startLocked(schema.WindowEndingAt(currentLine, s.lookback))
}

// SetSeekTarget enters seek mode and fetches the lookback window ending at line.
func (s *Synchronizer) SetSeekTarget(line int) *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := line
	s.seek = schema.SeekState{Mode: schema.SeekSeeking, TargetLine: &target}
	if n := s.buffer.Discard(); n > 0 {
		s.stats.Discarded += n
		s.log.Debug("synchronizer live buffer discarded for seek", "lines", n)
	}
	return s.startLocked(schema.WindowEndingAt(line, s.lookback))
}

// ClearSeek returns to live mode. An outstanding seek window is superseded.
func (s *Synchronizer) ClearSeek() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seek.Mode == schema.SeekLive {
		return
	}
	s.seek = schema.SeekState{Mode: schema.SeekLive}
	if s.current != nil && s.current.Seek {
		s.supersedeLocked()
	}
	s.log.Debug("synchronizer live resumed")
}

// SeekState returns the current playback mode.
func (s *Synchronizer) SeekState() schema.SeekState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.seek
	if state.TargetLine != nil {
		target := *state.TargetLine
		state.TargetLine = &target
	}
	return state
}

// Stats returns instruction counters.
func (s *Synchronizer) Stats() schema.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending returns the outstanding window, if any.
func (s *Synchronizer) Pending() *Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnLiveCommand handles one terminal line. It reports whether the line was
// accepted as a movement instruction and forwarded or queued.
func (s *Synchronizer) OnLiveCommand(raw string) bool {
	line, ok := gcode.Movement(raw)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptLocked(line)
}

func (s *Synchronizer) acceptLocked(line string) bool {
	if s.seek.Mode == schema.SeekSeeking {
		s.stats.Suppressed++
		return false
	}
	if s.current != nil {
		s.buffer.Push(line)
		s.stats.Buffered++
		return true
	}
	s.sink.ProcessGCode(line)
	s.stats.Forwarded++
	return true
}

// OnTerminalEvent decodes a TerminalUpdated payload delivered for printer and
// feeds each movement line to the live path. Events for any printer other
// than the bound one are dropped.
func (s *Synchronizer) OnTerminalEvent(printer schema.PrinterID, payload []byte) error {
	var event schema.TerminalPayload
	if err := decodeEvent(payload, &event, "command"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if printer != s.printer {
		s.log.Trace("synchronizer stale terminal event dropped", "printer", printer, "bound", s.printer)
		return nil
	}
	for _, raw := range gcode.SplitCommand(event.Command) {
		if line, ok := gcode.Movement(raw); ok {
			s.acceptLocked(line)
		}
	}
	return nil
}

// Resize forwards a viewport change to the sink.
func (s *Synchronizer) Resize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Resize()
}

func (s *Synchronizer) startLocked(window schema.LineWindow) *Window {
	seek := s.seek.Mode == schema.SeekSeeking
	w := newWindow(s.printer, window, seek)
	if s.printer == "" {
		w.finish(WindowFailed, schema.ErrNoPrinter)
		return w
	}
	s.supersedeLocked()
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	s.current = w
	s.stats.Windows++
	logx.WithWindow(s.log, window).Debug("synchronizer window requested", "printer", s.printer, "seek", seek, "buffered", s.buffer.Len())
	go s.fetch(ctx, w)
	return w
}

func (s *Synchronizer) supersedeLocked() {
	if s.current == nil {
		return
	}
	prev := s.current
	s.current = nil
	prev.finish(WindowSuperseded, schema.ErrWindowSuperseded)
	logx.WithWindow(s.log, prev.Range).Trace("synchronizer window superseded")
}

func (s *Synchronizer) fetch(ctx context.Context, w *Window) {
	text, err := s.fetcher.FetchWindow(ctx, w.Printer, w.Range)
	s.resolve(w, text, err)
}

func (s *Synchronizer) resolve(w *Window, text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != w {
		return
	}
	s.current = nil
	log := logx.WithWindow(s.log, w.Range)
	if err != nil {
		dropped := s.buffer.Discard()
		s.stats.Discarded += dropped
		log.Warn("synchronizer window fetch failed", "printer", w.Printer, "err", err, "discarded", dropped)
		w.finish(WindowFailed, err)
		return
	}
	queued := s.buffer.Drain()
	s.sink.Clear()
	s.sink.ProcessGCode(text)
	for _, line := range queued {
		s.sink.ProcessGCode(line)
	}
	s.stats.Forwarded += len(queued)
	log.Debug("synchronizer window applied", "printer", w.Printer, "replayed", len(queued))
	w.finish(WindowApplied, nil)
}
