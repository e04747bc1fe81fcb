package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkt.systems/printwatch/schema"
)

type fetchReply struct {
	text string
	err  error
}

type fetchCall struct {
	printer schema.PrinterID
	window  schema.LineWindow
	reply   chan fetchReply
}

type fakeFetcher struct {
	calls chan fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan fetchCall, 16)}
}

func (f *fakeFetcher) FetchWindow(ctx context.Context, printer schema.PrinterID, window schema.LineWindow) (string, error) {
	call := fetchCall{printer: printer, window: window, reply: make(chan fetchReply, 1)}
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeFetcher) next(t *testing.T) fetchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("expected window fetch")
		return fetchCall{}
	}
}

type recordingSink struct {
	mu  sync.Mutex
	ops []string
}

func (s *recordingSink) Clear() {
	s.mu.Lock()
	s.ops = append(s.ops, "clear")
	s.mu.Unlock()
}

func (s *recordingSink) ProcessGCode(text string) {
	s.mu.Lock()
	s.ops = append(s.ops, text)
	s.mu.Unlock()
}

func (s *recordingSink) Resize() {
	s.mu.Lock()
	s.ops = append(s.ops, "resize")
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

type recordingEvents struct {
	mu            sync.Mutex
	connectivity  []schema.Connectivity
	recovery      []schema.RecoverySession
	notifications []schema.Notification
	invalidations []schema.InvalidationEvent
}

func (r *recordingEvents) OnConnectivity(event schema.ConnectivityEvent) {
	r.mu.Lock()
	r.connectivity = append(r.connectivity, event.Status)
	r.mu.Unlock()
}

func (r *recordingEvents) OnRecovery(event schema.RecoveryEvent) {
	r.mu.Lock()
	r.recovery = append(r.recovery, event.Session)
	r.mu.Unlock()
}

func (r *recordingEvents) OnNotification(event schema.Notification) {
	r.mu.Lock()
	r.notifications = append(r.notifications, event)
	r.mu.Unlock()
}

func (r *recordingEvents) OnInvalidate(event schema.InvalidationEvent) {
	r.mu.Lock()
	r.invalidations = append(r.invalidations, event)
	r.mu.Unlock()
}

func (r *recordingEvents) states() []schema.ConnectivityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.ConnectivityState, 0, len(r.connectivity))
	for _, status := range r.connectivity {
		out = append(out, status.State)
	}
	return out
}

func (r *recordingEvents) notificationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}

func (r *recordingEvents) invalidationList() []schema.InvalidationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.InvalidationEvent(nil), r.invalidations...)
}

func waitWindow(t *testing.T, w *Window) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-w.Done():
	case <-ctx.Done():
		t.Fatalf("expected window %+v to finish", w.Range)
	}
}

func equalOps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
