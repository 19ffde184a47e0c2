// Package serial provides a line-oriented source over a serial port.
// One event is one received line with the delimiter stripped.
package serial

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.bug.st/serial"

	"github.com/lsm/eventcalls/source"
)

// DefaultDelimiter terminates lines on both the read and write side.
const DefaultDelimiter = "\r\n"

// Port abstracts the serial device so tests can substitute an in-memory
// implementation. go.bug.st/serial's Port satisfies it.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds the next Read; an expired Read must return
	// n == 0 with a nil error, as go.bug.st/serial does.
	SetReadTimeout(t time.Duration) error
}

// Config holds serial source configuration.
type Config struct {
	// BaudRate defaults to 9600.
	BaudRate int

	// Delimiter terminates lines. Defaults to DefaultDelimiter.
	Delimiter string

	// PollInterval overrides the stream's cancellation poll interval.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Source reads delimiter-terminated lines from a serial port, yielding
// each line as a []byte event. It is Writable: Write normalizes the line
// ending before transmitting.
type Source struct {
	*source.Stream
	ep *endpoint
}

var (
	_ source.Source   = (*Source)(nil)
	_ source.Writable = (*Source)(nil)
)

// Open opens the named device and wraps it in a Source.
func Open(device string, cfg Config) (*Source, error) {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial device %s: %w", device, err)
	}
	return New(port, cfg), nil
}

// New wraps an already-open port. The port is owned by the source from
// here on.
func New(port Port, cfg Config) *Source {
	delim := cfg.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	ep := &endpoint{port: port, delim: []byte(delim)}
	return &Source{
		Stream: source.NewStream(ep, source.StreamConfig{
			PollInterval: cfg.PollInterval,
			Logger:       cfg.Logger,
		}),
		ep: ep,
	}
}

// Write transmits data terminated by the configured delimiter. A trailing
// "\n" or "\r\n" in data is replaced rather than doubled.
func (s *Source) Write(data []byte) error {
	line := bytes.TrimSuffix(data, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	line = append(append([]byte{}, line...), s.ep.delim...)
	_, err := s.ep.port.Write(line)
	return err
}

// endpoint accumulates raw reads and splits them into lines. A read that
// ends with no complete line buffered reports a timeout so the stream's
// cancellation check still runs every poll interval.
type endpoint struct {
	port    Port
	delim   []byte
	buf     bytes.Buffer
	pending [][]byte
}

func (e *endpoint) ReadSingle() (source.Event, error) {
	for {
		if len(e.pending) > 0 {
			line := e.pending[0]
			e.pending = e.pending[1:]
			return line, nil
		}

		chunk := make([]byte, 256)
		n, err := e.port.Read(chunk)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Timed-out read with no data.
			return nil, os.ErrDeadlineExceeded
		}
		e.buf.Write(chunk[:n])
		e.split()
	}
}

func (e *endpoint) split() {
	for {
		data := e.buf.Bytes()
		i := bytes.Index(data, e.delim)
		if i < 0 {
			return
		}
		line := append([]byte{}, data[:i]...)
		e.pending = append(e.pending, line)
		e.buf.Next(i + len(e.delim))
	}
}

func (e *endpoint) SetReadDeadline(t time.Time) error {
	return e.port.SetReadTimeout(time.Until(t))
}

func (e *endpoint) Close() error { return e.port.Close() }
