package serial

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lsm/eventcalls/source"
)

// fakePort scripts Read results the way go.bug.st/serial behaves: a
// timed-out read returns n == 0 with a nil error.
type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	written [][]byte
	closed  int
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, nil // timeout
	}
	chunk := p.chunks[0]
	p.chunks = p.chunks[1:]
	return copy(buf, chunk), nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, append([]byte{}, data...))
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

var _ Port = (*fakePort)(nil)

func TestLinesAcrossChunks(t *testing.T) {
	port := &fakePort{chunks: [][]byte{
		[]byte("hel"),
		[]byte("lo\r\nwor"),
		[]byte("ld\r\n"),
	}}
	s := New(port, Config{PollInterval: 10 * time.Millisecond})

	for _, want := range []string{"hello", "world"} {
		evt, err := s.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(evt.([]byte)) != want {
			t.Errorf("expected %q, got %q", want, evt)
		}
	}
}

func TestMultipleLinesInOneChunk(t *testing.T) {
	port := &fakePort{chunks: [][]byte{[]byte("a\r\nb\r\nc\r\n")}}
	s := New(port, Config{PollInterval: 10 * time.Millisecond})

	for _, want := range []string{"a", "b", "c"} {
		evt, err := s.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(evt.([]byte)) != want {
			t.Errorf("expected %q, got %q", want, evt)
		}
	}
}

func TestCustomDelimiter(t *testing.T) {
	port := &fakePort{chunks: [][]byte{[]byte("one\ntwo\n")}}
	s := New(port, Config{Delimiter: "\n", PollInterval: 10 * time.Millisecond})

	evt, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(evt.([]byte)) != "one" {
		t.Errorf("expected one, got %q", evt)
	}
}

func TestCancelUnblocksIdleRead(t *testing.T) {
	port := &fakePort{} // never yields data, every read times out
	s := New(port, Config{PollInterval: 10 * time.Millisecond})

	result := make(chan error, 1)
	go func() {
		_, err := s.Next()
		result <- err
	}()

	time.Sleep(25 * time.Millisecond)
	s.Cancel()

	select {
	case err := <-result:
		if !errors.Is(err, source.ErrDone) {
			t.Fatalf("expected ErrDone after cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not unblock the idle read loop")
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if port.closed != 1 {
		t.Fatalf("port closed %d times, expected once", port.closed)
	}
}

func TestPortErrorPropagatesWhileActive(t *testing.T) {
	port := &fakePort{readErr: io.ErrUnexpectedEOF}
	s := New(port, Config{PollInterval: 10 * time.Millisecond})

	_, err := s.Next()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected port error to propagate, got %v", err)
	}
}

func TestWriteNormalizesLineEnding(t *testing.T) {
	port := &fakePort{}
	s := New(port, Config{})

	cases := []struct {
		in   string
		want string
	}{
		{"CMD", "CMD\r\n"},
		{"CMD\n", "CMD\r\n"},
		{"CMD\r\n", "CMD\r\n"},
	}
	for _, tc := range cases {
		if err := s.Write([]byte(tc.in)); err != nil {
			t.Fatalf("write %q: %v", tc.in, err)
		}
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.written) != len(cases) {
		t.Fatalf("expected %d writes, got %d", len(cases), len(port.written))
	}
	for i, tc := range cases {
		if string(port.written[i]) != tc.want {
			t.Errorf("write %q: expected %q on the wire, got %q", tc.in, tc.want, port.written[i])
		}
	}
}
