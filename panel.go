// Package printwatch composes the live telemetry core of a printer fleet
// panel: broker subscriptions, connectivity health, the G-code stream
// synchronizer and print recovery.
package printwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/printwatch/core"
	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/internal/eventbus"
	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// API is the request/response surface the panel polls and mutates through.
type API interface {
	core.WindowFetcher
	core.StatusSource
	core.RecoveryAPI
}

// Config configures a Panel.
type Config struct {
	Telemetry schema.TelemetryConfig
	// Printer is selected on construction when set.
	Printer schema.PrinterID
}

// Deps captures the panel's external dependencies.
type Deps struct {
	API    API
	Broker channels.Broker
	// Sink is the visualization surface. A nil sink discards instructions.
	Sink      core.Sink
	EventSink core.EventSink
	Logger    pslog.Logger
}

type runner interface {
	Run(ctx context.Context) error
}

type readiness interface {
	OnReady(hook func())
}

// Panel owns one broker handle and the per-printer components bound to the
// selected printer.
type Panel struct {
	cfg      schema.TelemetryConfig
	api      API
	log      pslog.Logger
	broker   channels.Broker
	channels *channels.Manager
	bus      *eventbus.Bus
	sync     *core.Synchronizer
	monitor  *core.Monitor
	recovery *core.Recovery

	connKick   chan struct{}
	statusKick chan struct{}

	mu         sync.Mutex
	printer    schema.PrinterID
	primed     bool
	lastStatus schema.PrintStatus
	statusErr  error
}

// New constructs a Panel.
func New(cfg Config, deps Deps) (*Panel, error) {
	if deps.API == nil {
		return nil, errors.New("panel requires an api")
	}
	telemetry, err := schema.NormalizeTelemetryConfig(cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	log := logx.Or(deps.Logger)
	p := &Panel{
		cfg:        telemetry,
		api:        deps.API,
		log:        log.With("component", "panel"),
		broker:     deps.Broker,
		bus:        eventbus.New(log),
		connKick:   make(chan struct{}, 1),
		statusKick: make(chan struct{}, 1),
	}
	p.channels = channels.NewManager(deps.Broker, log)
	if ready, ok := deps.Broker.(readiness); ok {
		ready.OnReady(p.channels.Retry)
	}

	sinks := []core.EventSink{p.bus, invalidationHook{panel: p}}
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}
	events := eventFanout{sinks: sinks}

	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}
	p.sync, err = core.NewSynchronizer(core.SynchronizerDeps{
		Fetcher:  deps.API,
		Sink:     sink,
		Channels: p.channels,
		Logger:   log,
		Lookback: telemetry.BufferMaxLines,
	})
	if err != nil {
		return nil, err
	}
	p.monitor = core.NewMonitor(core.MonitorDeps{
		Channels:     p.channels,
		EventSink:    events,
		Logger:       log,
		MaxThreshold: telemetry.MaxThreshold,
		Tick:         telemetry.Tick,
	})
	p.recovery, err = core.NewRecovery(core.RecoveryDeps{
		API:       deps.API,
		Channels:  p.channels,
		Seeker:    p.sync,
		EventSink: events,
		Logger:    log,
		Lookback:  telemetry.BufferMaxLines,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Printer != "" {
		p.SelectPrinter(cfg.Printer)
	}
	return p, nil
}

// Events returns the UI event bus.
func (p *Panel) Events() *eventbus.Bus { return p.bus }

// Synchronizer returns the G-code stream synchronizer.
func (p *Panel) Synchronizer() *core.Synchronizer { return p.sync }

// Monitor returns the connectivity health monitor.
func (p *Panel) Monitor() *core.Monitor { return p.monitor }

// Recovery returns the recovery session controller.
func (p *Panel) Recovery() *core.Recovery { return p.recovery }

// Printer returns the selected printer.
func (p *Panel) Printer() schema.PrinterID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printer
}

// LastPrintStatus returns the most recent print status poll and its error.
func (p *Panel) LastPrintStatus() (schema.PrintStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStatus, p.statusErr
}

// SelectPrinter switches every component to printer. Subscriptions of the
// previous printer are released before the new ones open.
func (p *Panel) SelectPrinter(printer schema.PrinterID) {
	p.mu.Lock()
	if printer == p.printer {
		p.mu.Unlock()
		return
	}
	prev := p.printer
	p.printer = printer
	p.primed = false
	p.lastStatus = schema.PrintStatus{}
	p.statusErr = nil
	p.mu.Unlock()

	p.recovery.Bind(printer)
	p.monitor.Bind(printer)
	p.sync.Bind(printer)
	p.log.Info("panel printer selected", "printer", printer, "previous", prev)
	p.kick()
}

// Refresh polls connection and print status for the selected printer once.
func (p *Panel) Refresh(ctx context.Context) error {
	printer := p.Printer()
	if printer == "" {
		return schema.ErrNoPrinter
	}
	return errors.Join(p.pollConnection(ctx, printer), p.pollPrintStatus(ctx, printer))
}

// Run drives the broker connection, the health tick and the status pollers
// until ctx is done.
func (p *Panel) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if r, ok := p.broker.(runner); ok {
		g.Go(func() error { return r.Run(ctx) })
	}
	g.Go(func() error { return p.monitor.Run(ctx) })
	g.Go(func() error { return p.pollLoop(ctx, p.cfg.StatusPoll, p.connKick, p.pollConnection) })
	g.Go(func() error { return p.pollLoop(ctx, p.cfg.PrintStatusPoll, p.statusKick, p.pollPrintStatus) })
	p.log.Info("panel run", "printer", p.Printer(), "status_poll", p.cfg.StatusPoll.String(), "print_status_poll", p.cfg.PrintStatusPoll.String())
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every subscription.
func (p *Panel) Close() {
	p.sync.Close()
	p.monitor.Close()
	p.recovery.Close()
}

// AdjustLine steps the candidate resume line.
func (p *Panel) AdjustLine(delta int) error { return p.recovery.AdjustLine(delta) }

// SelectLine sets the candidate resume line.
func (p *Panel) SelectLine(line int) error { return p.recovery.SelectLine(line) }

// ConfirmRecover resumes the interrupted job from the selected line.
func (p *Panel) ConfirmRecover(ctx context.Context) error { return p.recovery.ConfirmRecover(ctx) }

// Skip discards the interrupted job.
func (p *Panel) Skip(ctx context.Context) error { return p.recovery.Skip(ctx) }

// Dismiss hides the recovery prompt and returns the visualization to live.
func (p *Panel) Dismiss() error {
	if err := p.recovery.Dismiss(); err != nil {
		return err
	}
	p.reprime()
	return nil
}

func (p *Panel) pollLoop(ctx context.Context, every time.Duration, kick <-chan struct{}, poll func(context.Context, schema.PrinterID) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if printer := p.Printer(); printer != "" {
			_ = poll(ctx, printer)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-kick:
		}
	}
}

func (p *Panel) pollConnection(ctx context.Context, printer schema.PrinterID) error {
	snapshot, err := p.api.ConnectionStatus(ctx, printer)
	if err != nil {
		if ctx.Err() == nil {
			logx.WithPrinter(ctx, printer).Warn("panel connection poll failed", "err", err)
		}
		return err
	}
	p.monitor.StatusUpdate(printer, snapshot)
	return nil
}

func (p *Panel) pollPrintStatus(ctx context.Context, printer schema.PrinterID) error {
	status, err := p.api.PrintStatus(ctx, printer)
	p.mu.Lock()
	if printer != p.printer {
		p.mu.Unlock()
		return nil
	}
	p.statusErr = err
	if err != nil {
		p.mu.Unlock()
		if ctx.Err() == nil {
			logx.WithPrinter(ctx, printer).Warn("panel print status poll failed", "err", err)
		}
		return err
	}
	status.PrinterID = printer
	p.lastStatus = status
	prime := !p.primed && status.ActiveFile != ""
	if prime {
		p.primed = true
	}
	p.mu.Unlock()

	if err := p.recovery.ObservePrintStatus(ctx, status); err != nil {
		return err
	}
	if prime {
		if w := p.sync.Prime(status.CurrentLine); w == nil {
			p.log.Debug("panel prime skipped while seeking", "printer", printer)
		}
	}
	return nil
}

func (p *Panel) reprime() {
	p.mu.Lock()
	p.primed = false
	p.mu.Unlock()
	p.kickStatus()
}

func (p *Panel) kick() {
	select {
	case p.connKick <- struct{}{}:
	default:
	}
	p.kickStatus()
}

func (p *Panel) kickStatus() {
	select {
	case p.statusKick <- struct{}{}:
	default:
	}
}

// invalidationHook re-polls print status when a recovery mutation invalidates it.
type invalidationHook struct {
	panel *Panel
}

func (h invalidationHook) OnConnectivity(schema.ConnectivityEvent) {}
func (h invalidationHook) OnRecovery(schema.RecoveryEvent) {}
func (h invalidationHook) OnNotification(schema.Notification) {}

func (h invalidationHook) OnInvalidate(event schema.InvalidationEvent) {
	if event.PrinterID != h.panel.Printer() {
		return
	}
	for _, query := range event.Queries {
		if query == schema.QueryPrintStatus {
			h.panel.reprime()
			return
		}
	}
}

type discardSink struct{}

func (discardSink) Clear() {}
func (discardSink) ProcessGCode(string) {}
func (discardSink) Resize() {}
