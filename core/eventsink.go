package core

import "pkt.systems/printwatch/schema"

// EventSink receives UI-facing events from the telemetry core. Calls may be
// made while component locks are held; implementations must not block or
// call back into the emitting component.
type EventSink interface {
	OnConnectivity(event schema.ConnectivityEvent)
	OnRecovery(event schema.RecoveryEvent)
	OnNotification(event schema.Notification)
	OnInvalidate(event schema.InvalidationEvent)
}

type nopSink struct{}

func (nopSink) OnConnectivity(schema.ConnectivityEvent) {}
func (nopSink) OnRecovery(schema.RecoveryEvent) {}
func (nopSink) OnNotification(schema.Notification) {}
func (nopSink) OnInvalidate(schema.InvalidationEvent) {}

func sinkOrNop(sink EventSink) EventSink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}
