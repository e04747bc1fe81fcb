package printwatch

import (
	"pkt.systems/printwatch/core"
	"pkt.systems/printwatch/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnConnectivity(event schema.ConnectivityEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnConnectivity(event)
	}
}

func (f eventFanout) OnRecovery(event schema.RecoveryEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRecovery(event)
	}
}

func (f eventFanout) OnNotification(event schema.Notification) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnNotification(event)
	}
}

func (f eventFanout) OnInvalidate(event schema.InvalidationEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnInvalidate(event)
	}
}
