package core

import (
	"context"
	"sync"
	"time"

	"pkt.systems/printwatch/internal/channels"
	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// Monitor derives printer connectivity from sparse heartbeats.
//
// Inputs are status updates (server heartbeat plus threshold), mapper-running
// events and a local tick. A mapper event newer than the last status update
// forces connecting. Otherwise the heartbeat age is compared against the
// server threshold: within it is online, within twice it is waiting, beyond
// it is offline. Independently, if no update of any kind arrives within
// MaxThreshold the status is forced offline.
type Monitor struct {
	events       EventSink
	log          pslog.Logger
	maxThreshold time.Duration
	tick         time.Duration
	now          func() time.Time
	scope        *channels.Scope

	mu        sync.Mutex
	printer   schema.PrinterID
	lastSeen  *time.Time
	threshold int
	seq       uint64
	statusSeq uint64
	mapperSeq uint64
	updatedAt time.Time
	status    schema.Connectivity
}

// NewMonitor constructs a Monitor.
func NewMonitor(deps MonitorDeps) *Monitor {
	m := &Monitor{
		events:       sinkOrNop(deps.EventSink),
		log:          logx.Or(deps.Logger).With("component", "health"),
		maxThreshold: deps.MaxThreshold,
		tick:         deps.Tick,
		now:          deps.Now,
	}
	if m.maxThreshold <= 0 {
		m.maxThreshold = schema.DefaultMaxThresholdSecs * time.Second
	}
	if m.tick <= 0 {
		m.tick = time.Second
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.status = schema.Connectivity{State: schema.ConnectivityWaiting, Label: schema.ConnectivityOffline}
	if deps.Channels != nil {
		m.scope = deps.Channels.NewScope("health",
			channels.Topic{
				Name: schema.TopicConnection,
				Events: map[schema.EventName]channels.Handler{
					schema.EventConnectionStatus: m.onConnectionEvent,
				},
			},
			channels.Topic{
				Name: schema.TopicMapper,
				Events: map[schema.EventName]channels.Handler{
					schema.EventMapperRunning: m.onMapperEvent,
				},
			},
		)
	}
	return m
}

// Bind resets the monitor for printer and rebinds its channel scope.
func (m *Monitor) Bind(printer schema.PrinterID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if printer == m.printer {
		return
	}
	m.printer = printer
	m.lastSeen = nil
	m.threshold = 0
	m.statusSeq = 0
	m.mapperSeq = 0
	m.updatedAt = m.now()
	m.status = schema.Connectivity{PrinterID: printer, State: schema.ConnectivityWaiting, Label: schema.ConnectivityOffline}
	if m.scope != nil {
		m.scope.Bind(printer)
	}
	m.events.OnConnectivity(schema.ConnectivityEvent{PrinterID: printer, Status: m.status})
}

// Close releases the monitor's channel scope.
func (m *Monitor) Close() {
	if m.scope != nil {
		m.scope.Release()
	}
}

// StatusUpdate records a heartbeat for printer. Updates for any other printer are ignored.
func (m *Monitor) StatusUpdate(printer schema.PrinterID, snapshot schema.ConnectionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if printer != m.printer {
		m.log.Trace("health stale status dropped", "printer", printer, "bound", m.printer)
		return
	}
	m.seq++
	m.statusSeq = m.seq
	m.lastSeen = snapshot.LastSeen.Ptr()
	m.threshold = snapshot.ThresholdSecs
	m.updatedAt = m.now()
	m.evaluateLocked(m.updatedAt)
}

// MapperRunning records a mapper-running signal for printer.
func (m *Monitor) MapperRunning(printer schema.PrinterID, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if printer != m.printer {
		return
	}
	m.updatedAt = m.now()
	if running {
		m.seq++
		m.mapperSeq = m.seq
	} else {
		m.mapperSeq = 0
	}
	m.evaluateLocked(m.updatedAt)
}

// Tick re-evaluates the status at now and returns it.
func (m *Monitor) Tick(now time.Time) schema.Connectivity {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluateLocked(now)
	return m.copyStatusLocked()
}

// Status returns the last computed status.
func (m *Monitor) Status() schema.Connectivity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyStatusLocked()
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(m.now())
		}
	}
}

func (m *Monitor) onConnectionEvent(printer schema.PrinterID, payload []byte) error {
	var event schema.ConnectionPayload
	if err := decodeEvent(payload, &event, "lastSeen", "thresholdSecs"); err != nil {
		return err
	}
	m.StatusUpdate(printer, schema.ConnectionSnapshot{LastSeen: event.LastSeen, ThresholdSecs: event.ThresholdSecs})
	return nil
}

func (m *Monitor) onMapperEvent(printer schema.PrinterID, payload []byte) error {
	event := schema.MapperPayload{}
	if len(payload) > 0 {
		if err := decodeEvent(payload, &event); err != nil {
			return err
		}
	}
	running := true
	if event.Running != nil {
		running = *event.Running
	}
	m.MapperRunning(printer, running)
	return nil
}

func (m *Monitor) evaluateLocked(now time.Time) {
	next := schema.Connectivity{
		PrinterID:     m.printer,
		Label:         m.status.Label,
		LastSeenAt:    m.lastSeen,
		ThresholdSecs: m.threshold,
	}
	threshold := time.Duration(m.threshold) * time.Second
	switch {
	case !m.updatedAt.IsZero() && now.Sub(m.updatedAt) > m.maxThreshold:
		next.State = schema.ConnectivityOffline
		next.Label = schema.ConnectivityOffline
		next.Watchdog = true
	case m.mapperSeq > m.statusSeq:
		next.State = schema.ConnectivityConnecting
		next.Label = schema.ConnectivityConnecting
	case m.statusSeq == 0:
		next.State = schema.ConnectivityWaiting
	case m.lastSeen == nil || now.Sub(*m.lastSeen) > 2*threshold:
		next.State = schema.ConnectivityOffline
		next.Label = schema.ConnectivityOffline
	case now.Sub(*m.lastSeen) > threshold:
		next.State = schema.ConnectivityWaiting
	default:
		next.State = schema.ConnectivityOnline
		next.Label = schema.ConnectivityOnline
	}
	if sameConnectivity(next, m.status) {
		return
	}
	prev := m.status.State
	m.status = next
	m.log.Debug("health status changed", "printer", m.printer, "from", prev, "to", next.State, "watchdog", next.Watchdog)
	m.events.OnConnectivity(schema.ConnectivityEvent{PrinterID: m.printer, Status: m.copyStatusLocked()})
}

func (m *Monitor) copyStatusLocked() schema.Connectivity {
	out := m.status
	if out.LastSeenAt != nil {
		seen := *out.LastSeenAt
		out.LastSeenAt = &seen
	}
	return out
}

func sameConnectivity(a, b schema.Connectivity) bool {
	if a.State != b.State || a.Label != b.Label || a.Watchdog != b.Watchdog || a.ThresholdSecs != b.ThresholdSecs || a.PrinterID != b.PrinterID {
		return false
	}
	if (a.LastSeenAt == nil) != (b.LastSeenAt == nil) {
		return false
	}
	return a.LastSeenAt == nil || a.LastSeenAt.Equal(*b.LastSeenAt)
}
