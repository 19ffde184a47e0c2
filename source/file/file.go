// Package file provides a tail-style source that emits lines appended to
// a file as events.
package file

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/lsm/eventcalls/source"
)

// Config holds file source configuration.
type Config struct {
	// Path of the file to tail. Required.
	Path string

	// FromStart replays existing content before tailing; the default is
	// to start at the current end of file.
	FromStart bool

	Logger *slog.Logger
}

// Source tails a file, yielding each appended line as a []byte event with
// the trailing newline stripped. It does not implement source.Writable.
type Source struct {
	cfg    Config
	logger *slog.Logger

	f       *os.File
	watcher *fsnotify.Watcher
	pending [][]byte
	partial bytes.Buffer

	cancelled atomic.Bool
	cancelCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ source.Source = (*Source)(nil)

// New creates a file source for cfg.Path.
func New(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file source path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:      cfg,
		logger:   logger,
		cancelCh: make(chan struct{}),
	}, nil
}

// Setup opens the file, seeks to the tail position, and starts the
// filesystem watch.
func (s *Source) Setup() (source.Status, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.cfg.Path, err)
	}
	if !s.cfg.FromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s: %w", s.cfg.Path, err)
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.cfg.Path); err != nil {
		watcher.Close()
		f.Close()
		return nil, fmt.Errorf("watch %s: %w", s.cfg.Path, err)
	}
	s.f = f
	s.watcher = watcher
	s.logger.Info("tailing file", "path", s.cfg.Path, "from_start", s.cfg.FromStart)
	return nil, nil
}

// Next blocks until a new line has been appended, or returns ErrDone
// after cancellation.
func (s *Source) Next() (source.Event, error) {
	for {
		if len(s.pending) > 0 {
			line := s.pending[0]
			s.pending = s.pending[1:]
			return line, nil
		}
		if s.cancelled.Load() {
			return nil, source.ErrDone
		}
		// FromStart content may already be waiting before any notification.
		if err := s.drain(); err != nil {
			if s.cancelled.Load() {
				return nil, source.ErrDone
			}
			return nil, err
		}
		if len(s.pending) > 0 {
			continue
		}

		select {
		case <-s.cancelCh:
			return nil, source.ErrDone
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil, source.ErrDone
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil, source.ErrDone
			}
			if s.cancelled.Load() {
				return nil, source.ErrDone
			}
			return nil, fmt.Errorf("watch %s: %w", s.cfg.Path, err)
		}
	}
}

// drain reads everything appended since the last read and splits it into
// pending lines, keeping an unterminated tail for the next round.
func (s *Source) drain() error {
	chunk := make([]byte, 4096)
	for {
		n, err := s.f.Read(chunk)
		if n > 0 {
			s.partial.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	for {
		data := s.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		line := bytes.TrimSuffix(data[:i], []byte("\r"))
		s.pending = append(s.pending, append([]byte{}, line...))
		s.partial.Next(i + 1)
	}
}

// Cancel stops the tail. Idempotent.
func (s *Source) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	close(s.cancelCh)
}

// Finalize releases the watcher and the file handle.
func (s *Source) Finalize() (source.Status, error) {
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				s.closeErr = fmt.Errorf("close watcher: %w", err)
			}
		}
		if s.f != nil {
			if err := s.f.Close(); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("close %s: %w", s.cfg.Path, err)
			}
		}
	})
	if s.closeErr != nil && !s.cancelled.Load() {
		return nil, s.closeErr
	}
	return nil, nil
}
