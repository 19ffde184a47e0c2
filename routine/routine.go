// Package routine implements the execution engine that drives one Source
// and one Handler on a dedicated worker goroutine.
package routine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lsm/eventcalls/handler"
	"github.com/lsm/eventcalls/internal/observability"
	"github.com/lsm/eventcalls/source"
)

// ErrNotWritable is returned by Write when the routine's source does not
// implement the source.Writable capability.
var ErrNotWritable = errors.New("routine: source is not writable")

// Config holds routine configuration.
type Config struct {
	// Name identifies the routine in logs and metrics.
	Name string

	// StartImmediately starts the worker from New instead of waiting
	// for an explicit Start call.
	StartImmediately bool

	// DetailedErrors includes full diagnostic detail when logging read
	// failures. Affects logging only.
	DetailedErrors bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics
}

// Routine owns exactly one worker goroutine, one source, and one handler.
//
// The worker calls Setup, Initialized, then Handle once per event until
// the sequence ends, then Finalize and exactly one Done. A Routine is
// single-use: once Stop has joined the worker it cannot be restarted;
// create a fresh Routine for a new run.
type Routine struct {
	cfg     Config
	source  source.Source
	handler handler.Handler
	logger  *slog.Logger

	started atomic.Bool
	running atomic.Bool
	done    chan struct{}
}

// New creates a Routine over src and h. When cfg.StartImmediately is set
// the worker goroutine is started before New returns.
func New(cfg Config, src source.Source, h handler.Handler) *Routine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "routine"
	}
	r := &Routine{
		cfg:     cfg,
		source:  src,
		handler: h,
		logger:  logger.With("routine", cfg.Name, "run_id", uuid.NewString()),
		done:    make(chan struct{}),
	}
	if cfg.StartImmediately {
		r.Start()
	}
	return r
}

// Source returns the routine's source.
func (r *Routine) Source() source.Source { return r.source }

// Handler returns the routine's handler.
func (r *Routine) Handler() handler.Handler { return r.handler }

// Start launches the worker goroutine. No-op if already started.
func (r *Routine) Start() {
	if r.started.Swap(true) {
		return
	}
	r.running.Store(true)
	go r.run()
}

// IsRunning reports whether the worker is still consuming events. It is
// safe to call from any goroutine and turns false as soon as the read
// loop exits, before the handler's Done callback fires.
func (r *Routine) IsRunning() bool { return r.running.Load() }

// Write passes data to the underlying source. It returns ErrNotWritable
// if the source lacks the Writable capability. Write may be called
// concurrently with the read loop; the transport is responsible for that
// safety.
func (r *Routine) Write(data []byte) error {
	w, ok := r.source.(source.Writable)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotWritable, r.source)
	}
	return w.Write(data)
}

// Stop cancels the source and blocks until the worker reaches its end.
// Safe to call when the worker already finished on its own, and when the
// routine was never started.
func (r *Routine) Stop() {
	r.source.Cancel()
	if !r.started.Load() {
		return
	}
	<-r.done
}

func (r *Routine) run() {
	defer close(r.done)

	start := time.Now()
	if m := r.cfg.Metrics; m != nil {
		m.RoutinesRunning.Inc()
		defer func() {
			m.RoutinesRunning.Dec()
			m.RunDuration.WithLabelValues(r.cfg.Name).Observe(time.Since(start).Seconds())
		}()
	}

	status, err := r.source.Setup()
	if err != nil {
		r.logger.Error("source setup failed", "error", err)
		status = err
	}
	r.handler.Initialized(status)

	var terminal source.Status
	if err == nil {
		terminal = r.consume()
	} else {
		terminal = err
		r.running.Store(false)
	}

	fstatus, ferr := r.source.Finalize()
	r.running.Store(false)
	switch {
	case ferr != nil:
		r.logger.Error("source finalize failed", "error", ferr)
		terminal = ferr
	case fstatus != nil:
		terminal = fstatus
	}

	r.handler.Done(terminal)
}

// consume drives the read loop and returns the terminal status: nil on
// natural exhaustion or cancellation, the read error otherwise. The
// running flag is cleared here, before finalize, so IsRunning reflects
// "no longer consuming" as early as possible.
func (r *Routine) consume() source.Status {
	for {
		evt, err := r.source.Next()
		if err != nil {
			r.running.Store(false)
			if errors.Is(err, source.ErrDone) {
				return nil
			}
			if r.cfg.DetailedErrors {
				r.logger.Error("failed to read from source",
					"source", fmt.Sprintf("%T", r.source),
					"error", err,
					"detail", fmt.Sprintf("%+v", err),
				)
			} else {
				r.logger.Error("failed to read from source", "error", err)
			}
			if m := r.cfg.Metrics; m != nil {
				m.ReadErrorsTotal.WithLabelValues(r.cfg.Name).Inc()
			}
			return err
		}
		r.handler.Handle(evt)
		if m := r.cfg.Metrics; m != nil {
			m.EventsTotal.WithLabelValues(r.cfg.Name).Inc()
		}
	}
}
