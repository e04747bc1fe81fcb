package core

import (
	"context"
	"sync"

	"pkt.systems/printwatch/schema"
)

// WindowState is the lifecycle of a historical window request.
type WindowState string

const (
	// WindowPending means the fetch is in flight.
	WindowPending WindowState = "pending"
	// WindowApplied means the window and buffered lines reached the sink.
	WindowApplied WindowState = "applied"
	// WindowFailed means the fetch failed and the sink was left untouched.
	WindowFailed WindowState = "failed"
	// WindowSuperseded means a newer request replaced this one.
	WindowSuperseded WindowState = "superseded"
)

// Window is the handle of a historical window request.
type Window struct {
	Printer schema.PrinterID
	Range   schema.LineWindow
	Seek    bool

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state WindowState
	err   error
}

func newWindow(printer schema.PrinterID, window schema.LineWindow, seek bool) *Window {
	return &Window{
		Printer: printer,
		Range:   window,
		Seek:    seek,
		done:    make(chan struct{}),
		state:   WindowPending,
		cancel:  func() {},
	}
}

// Done is closed once the request reaches a terminal state.
func (w *Window) Done() <-chan struct{} {
	return w.done
}

// State returns the current state.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the terminal error, if any.
func (w *Window) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the request finishes or ctx is done.
func (w *Window) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Window) finish(state WindowState, err error) {
	w.mu.Lock()
	if w.state != WindowPending {
		w.mu.Unlock()
		return
	}
	w.state = state
	w.err = err
	w.mu.Unlock()
	w.cancel()
	close(w.done)
}
