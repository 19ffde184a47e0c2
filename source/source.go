// Package source defines the contract between event producers and the
// routine engine, plus the cancellable Stream most blocking transports
// are built on. Concrete transports live in the subpackages (udp, serial,
// file, ws, kafka).
package source

import "errors"

// Event is the opaque payload a source yields. Each concrete source
// documents its event type: udp yields a Datagram, serial and file
// yield one line as []byte, kafka yields a Record.
type Event = any

// Status is the opaque outcome of Setup or Finalize, forwarded verbatim
// to the handler's Initialized and Done callbacks. It may be an error.
type Status = any

// ErrDone signals natural exhaustion of a source's event sequence.
// Next also returns ErrDone after the source has been cancelled;
// cancellation is not an error.
var ErrDone = errors.New("source: done")

// Source produces a lazy sequence of events.
//
// All methods except Cancel are invoked only from the routine's worker
// goroutine. Cancel is invoked from the goroutine calling Routine.Stop
// and must unblock a pending Next.
type Source interface {
	// Setup performs one-time initialization. Its status is forwarded
	// to the handler's Initialized callback.
	Setup() (Status, error)

	// Next blocks until the next event is available. It returns ErrDone
	// when the sequence is exhausted or the source has been cancelled.
	Next() (Event, error)

	// Cancel requests that the sequence stop producing further events.
	// It is one-shot and idempotent: calling it again is a no-op.
	Cancel()

	// Finalize performs teardown after the sequence ended. Its status
	// (or error) is forwarded to the handler's Done callback.
	Finalize() (Status, error)
}

// Writable is the optional capability of a source that accepts outbound
// data. The underlying transport is responsible for making Write safe to
// call concurrently with the read loop.
type Writable interface {
	Write(data []byte) error
}
