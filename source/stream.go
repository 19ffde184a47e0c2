package source

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval bounds how long a Stream read parks before
// re-checking the cancellation flag.
const DefaultPollInterval = 500 * time.Millisecond

// Endpoint supplies the blocking transport primitives a Stream drives.
// Deadline-expired reads must surface an error satisfying os.IsTimeout,
// which every net.Conn does.
type Endpoint interface {
	// ReadSingle performs one blocking receive and returns it as an event.
	ReadSingle() (Event, error)

	// SetReadDeadline bounds the next ReadSingle call.
	SetReadDeadline(t time.Time) error

	// Close releases the transport. The Stream guarantees it is called
	// at most once even though both Cancel and Finalize reach it.
	Close() error
}

// StreamConfig holds Stream tuning knobs.
type StreamConfig struct {
	// PollInterval bounds each read wait. Defaults to DefaultPollInterval.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Stream turns an Endpoint whose native read blocks into a Source that
// can be cancelled promptly from another goroutine. Instead of one
// unbounded read per event, it arms a short deadline per lap so the
// read loop observes cancellation within one interval even when no
// data arrives. Closing the endpoint from Cancel is kept as a second
// unblocking path for a read parked before the current lap's deadline.
type Stream struct {
	ep     Endpoint
	poll   time.Duration
	logger *slog.Logger

	cancelled atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps ep in a cancellable polling read loop.
func NewStream(ep Endpoint, cfg StreamConfig) *Stream {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{ep: ep, poll: poll, logger: logger}
}

// Setup is a no-op; embedding sources override it when their transport
// needs per-run initialization.
func (s *Stream) Setup() (Status, error) { return nil, nil }

// Next blocks until the endpoint yields an event, looping through
// deadline-bounded read attempts. Timeouts with no data are not errors.
// After cancellation it returns ErrDone, swallowing any transport error
// caused by the concurrent close.
func (s *Stream) Next() (Event, error) {
	for {
		if s.cancelled.Load() {
			s.close()
			return nil, ErrDone
		}
		if err := s.ep.SetReadDeadline(time.Now().Add(s.poll)); err != nil {
			if s.cancelled.Load() {
				return nil, ErrDone
			}
			return nil, fmt.Errorf("arm read deadline: %w", err)
		}
		evt, err := s.ep.ReadSingle()
		if err == nil {
			return evt, nil
		}
		if s.cancelled.Load() {
			return nil, ErrDone
		}
		if os.IsTimeout(err) {
			continue
		}
		return nil, err
	}
}

// Cancel flags the stream as cancelled and closes the endpoint so a read
// parked under an earlier deadline unblocks immediately. Idempotent.
func (s *Stream) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	if err := s.close(); err != nil {
		// Expected when the worker raced us into teardown.
		s.logger.Debug("endpoint close on cancel", "error", err)
	}
}

// Finalize closes the endpoint on the natural teardown path. A close
// error after cancellation is suppressed; while active it becomes the
// terminal status.
func (s *Stream) Finalize() (Status, error) {
	if err := s.close(); err != nil && !s.cancelled.Load() {
		return nil, fmt.Errorf("close endpoint: %w", err)
	}
	return nil, nil
}

// Cancelled reports whether Cancel has been called.
func (s *Stream) Cancelled() bool { return s.cancelled.Load() }

func (s *Stream) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ep.Close()
	})
	return s.closeErr
}
