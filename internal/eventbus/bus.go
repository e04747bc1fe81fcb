// Package eventbus fans UI-facing telemetry events out to per-printer
// subscribers.
package eventbus

import (
	"sync"

	"pkt.systems/printwatch/internal/logx"
	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventConnectivity carries a connectivity change.
	EventConnectivity EventType = "connectivity"
	// EventRecovery carries a recovery session change.
	EventRecovery EventType = "recovery"
	// EventNotification carries a transient user-facing message.
	EventNotification EventType = "notification"
	// EventInvalidate names read models to refetch.
	EventInvalidate EventType = "invalidate"
)

// Event is one UI-facing event.
type Event struct {
	Type         EventType
	PrinterID    schema.PrinterID
	Connectivity schema.Connectivity
	Recovery     schema.RecoverySession
	Notification schema.Notification
	Invalidate   schema.InvalidationEvent
}

const allPrinters schema.PrinterID = ""

// Bus fans events out to per-printer subscribers. Delivery never blocks;
// events for a full subscriber are dropped.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.PrinterID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	return &Bus{
		subs:  make(map[schema.PrinterID]map[chan Event]struct{}),
		log:   logx.Or(logger),
		depth: 256,
	}
}

// Subscribe registers a subscriber for printer and returns a channel + cancel.
func (b *Bus) Subscribe(printer schema.PrinterID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	printerSubs := b.subs[printer]
	if printerSubs == nil {
		printerSubs = make(map[chan Event]struct{})
		b.subs[printer] = printerSubs
	}
	printerSubs[ch] = struct{}{}
	count := len(printerSubs)
	b.mu.Unlock()
	b.log.With("printer", printer).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[printer]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, printer)
				}
			}
			b.mu.Unlock()
			close(ch)
			b.log.With("printer", printer).Debug("eventbus unsubscribe")
		})
	}
}

// SubscribeAll registers a subscriber that receives events for every printer.
func (b *Bus) SubscribeAll() (<-chan Event, func()) {
	return b.Subscribe(allPrinters)
}

// OnConnectivity publishes a connectivity event.
func (b *Bus) OnConnectivity(event schema.ConnectivityEvent) {
	b.publish(Event{Type: EventConnectivity, PrinterID: event.PrinterID, Connectivity: event.Status})
}

// OnRecovery publishes a recovery session event.
func (b *Bus) OnRecovery(event schema.RecoveryEvent) {
	b.publish(Event{Type: EventRecovery, PrinterID: event.PrinterID, Recovery: event.Session})
}

// OnNotification publishes a notification.
func (b *Bus) OnNotification(event schema.Notification) {
	b.publish(Event{Type: EventNotification, PrinterID: event.PrinterID, Notification: event})
}

// OnInvalidate publishes an invalidation.
func (b *Bus) OnInvalidate(event schema.InvalidationEvent) {
	b.publish(Event{Type: EventInvalidate, PrinterID: event.PrinterID, Invalidate: event})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[event.PrinterID])+len(b.subs[allPrinters]))
	for sub := range b.subs[event.PrinterID] {
		subs = append(subs, sub)
	}
	if event.PrinterID != allPrinters {
		for sub := range b.subs[allPrinters] {
			subs = append(subs, sub)
		}
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("printer", event.PrinterID).Trace("eventbus dropped", "type", event.Type, "count", dropped)
	}
}
