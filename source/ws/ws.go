// Package ws provides a source that reads messages from a WebSocket
// connection.
//
// Unlike the deadline-polling sources, cancellation here closes the
// connection to unblock the pending read: gorilla/websocket treats an
// expired read deadline as fatal for the connection, so the polling
// pattern cannot be used on this transport.
package ws

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/lsm/eventcalls/source"
)

// Message is the event yielded per received WebSocket message.
type Message struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type int
	Data []byte
}

// Config holds WebSocket source configuration.
type Config struct {
	Logger *slog.Logger
}

// Source reads messages from a WebSocket connection, yielding one Message
// per frame. It is Writable: Write sends a text message, serialized
// against concurrent writers.
type Source struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	cancelled atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var (
	_ source.Source   = (*Source)(nil)
	_ source.Writable = (*Source)(nil)
)

// Dial connects to url and wraps the connection in a Source.
func Dial(url string, cfg Config) (*Source, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(conn, cfg), nil
}

// New wraps an established connection. The connection is owned by the
// source from here on.
func New(conn *websocket.Conn, cfg Config) *Source {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{conn: conn, logger: logger}
}

// Setup is a no-op; the connection was established at construction.
func (s *Source) Setup() (source.Status, error) { return nil, nil }

// Next blocks on the next message. Control frames are consumed by the
// underlying connection; close frames and a cancelled connection end the
// sequence.
func (s *Source) Next() (source.Event, error) {
	for {
		if s.cancelled.Load() {
			s.close()
			return nil, source.ErrDone
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.cancelled.Load() {
				return nil, source.ErrDone
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, source.ErrDone
			}
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return Message{Type: mt, Data: data}, nil
	}
}

// Write sends data as a text message.
func (s *Source) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Cancel closes the connection to unblock a pending read. Idempotent.
func (s *Source) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	if err := s.close(); err != nil {
		s.logger.Debug("connection close on cancel", "error", err)
	}
}

// Finalize closes the connection on the natural teardown path.
func (s *Source) Finalize() (source.Status, error) {
	if err := s.close(); err != nil && !s.cancelled.Load() {
		return nil, fmt.Errorf("close connection: %w", err)
	}
	return nil, nil
}

func (s *Source) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
