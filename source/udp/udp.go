// Package udp provides a datagram source that keeps reading from a UDP
// endpoint. The endpoint can be a listening socket or one already used
// for sending packets.
package udp

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/lsm/eventcalls/source"
)

// DefaultBufferSize is the receive buffer size when Config leaves it zero.
const DefaultBufferSize = 1024

// Datagram is the event yielded per received packet.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Config holds datagram source configuration.
type Config struct {
	// BufferSize caps a single receive. Defaults to DefaultBufferSize.
	BufferSize int

	// Peer is the destination for Write on an unconnected socket.
	// Leave nil for a connected socket, where Write uses the connection's
	// remote address.
	Peer *net.UDPAddr

	// PollInterval overrides the stream's cancellation poll interval.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Source reads datagrams from a UDP socket, yielding one Datagram per
// packet. It is Writable: outbound packets go to the configured peer or
// to the connected remote.
type Source struct {
	*source.Stream
	ep *endpoint
}

var (
	_ source.Source   = (*Source)(nil)
	_ source.Writable = (*Source)(nil)
)

// Bind creates a Source on a listening socket bound to the loopback
// interface and the given port. Port 0 picks a free port; see LocalAddr.
func Bind(port int, cfg Config) (*Source, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}
	return New(conn, cfg), nil
}

// New wraps an existing UDP socket. The socket is owned by the source
// from here on; its Close runs exactly once, on cancel or teardown.
func New(conn *net.UDPConn, cfg Config) *Source {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	ep := &endpoint{conn: conn, size: size, peer: cfg.Peer}
	return &Source{
		Stream: source.NewStream(ep, source.StreamConfig{
			PollInterval: cfg.PollInterval,
			Logger:       cfg.Logger,
		}),
		ep: ep,
	}
}

// LocalAddr returns the socket's bound address.
func (s *Source) LocalAddr() net.Addr { return s.ep.conn.LocalAddr() }

// Write transmits data to the configured peer, or over the connection
// itself when no peer is set.
func (s *Source) Write(data []byte) error {
	if s.ep.peer != nil {
		_, err := s.ep.conn.WriteToUDP(data, s.ep.peer)
		return err
	}
	_, err := s.ep.conn.Write(data)
	return err
}

type endpoint struct {
	conn *net.UDPConn
	size int
	peer *net.UDPAddr
}

func (e *endpoint) ReadSingle() (source.Event, error) {
	buf := make([]byte, e.size)
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return Datagram{Data: buf[:n], Addr: addr}, nil
}

func (e *endpoint) SetReadDeadline(t time.Time) error { return e.conn.SetReadDeadline(t) }

func (e *endpoint) Close() error { return e.conn.Close() }
