package eventbus

import (
	"testing"
	"time"

	"pkt.systems/printwatch/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("p1")
	defer cancel()

	bus.OnConnectivity(schema.ConnectivityEvent{PrinterID: "p1", Status: schema.Connectivity{State: schema.ConnectivityOnline}})

	select {
	case got := <-ch:
		if got.Type != EventConnectivity {
			t.Fatalf("expected connectivity event, got %v", got.Type)
		}
		if got.Connectivity.State != schema.ConnectivityOnline {
			t.Fatalf("unexpected payload: %+v", got.Connectivity)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishRoutesByPrinter(t *testing.T) {
	bus := New(nil)
	p1, cancel1 := bus.Subscribe("p1")
	defer cancel1()
	all, cancelAll := bus.SubscribeAll()
	defer cancelAll()

	bus.OnNotification(schema.Notification{PrinterID: "p2", Level: schema.NotifyError, Message: "boom"})

	select {
	case got := <-p1:
		t.Fatalf("expected no event for p1, got %+v", got)
	default:
	}
	select {
	case got := <-all:
		if got.Type != EventNotification || got.Notification.Message != "boom" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for wildcard event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("p1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	bus.OnInvalidate(schema.InvalidationEvent{PrinterID: "p1"})
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("p1")
	defer cancel()

	bus.OnRecovery(schema.RecoveryEvent{PrinterID: "p1"})
	done := make(chan struct{})
	go func() {
		bus.OnRecovery(schema.RecoveryEvent{PrinterID: "p1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
