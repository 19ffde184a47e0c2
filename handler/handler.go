// Package handler defines the consumer side of a routine: lifecycle and
// per-event callbacks, all invoked from the routine's worker goroutine.
package handler

import "github.com/lsm/eventcalls/source"

// Handler receives lifecycle notifications and events for one run.
//
// The engine calls Initialized once before the first Handle, Handle once
// per event in production order, and Done exactly once after teardown.
// Implementations may hold arbitrary state; the engine touches a handler
// only from the worker goroutine.
type Handler interface {
	// Initialized is called after the source finished Setup. The status
	// is whatever Setup returned, or its error.
	Initialized(status source.Status)

	// Handle is called once per produced event.
	Handle(evt source.Event)

	// Done is called exactly once after the source was finalized. The
	// status is the run's terminal outcome; a non-nil error value means
	// the run ended on a read or finalize failure.
	Done(status source.Status)
}

// Funcs adapts free-standing callback functions to the Handler contract.
// Nil fields fall back to no-ops.
type Funcs struct {
	OnInitialized func(status source.Status)
	OnHandle      func(evt source.Event)
	OnDone        func(status source.Status)
}

var _ Handler = Funcs{}

func (f Funcs) Initialized(status source.Status) {
	if f.OnInitialized != nil {
		f.OnInitialized(status)
	}
}

func (f Funcs) Handle(evt source.Event) {
	if f.OnHandle != nil {
		f.OnHandle(evt)
	}
}

func (f Funcs) Done(status source.Status) {
	if f.OnDone != nil {
		f.OnDone(status)
	}
}
