package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lsm/eventcalls/handler"
	"github.com/lsm/eventcalls/routine"
	"github.com/lsm/eventcalls/source"
)

var upgrader = websocket.Upgrader{}

// messageServer upgrades each connection, sends the given messages, then
// keeps the connection open until the test ends, recording client writes.
func messageServer(t *testing.T, messages []string, received *[][]byte, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if received != nil {
				mu.Lock()
				*received = append(*received, data)
				mu.Unlock()
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialAndReceive(t *testing.T) {
	srv := messageServer(t, []string{"one", "two"}, nil, nil)
	defer srv.Close()

	src, err := Dial(wsURL(srv), Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var mu sync.Mutex
	var got []string
	doneCh := make(chan struct{})
	rt := routine.New(routine.Config{Name: "ws-test", StartImmediately: true}, src, handler.Funcs{
		OnHandle: func(evt source.Event) {
			mu.Lock()
			got = append(got, string(evt.(Message).Data))
			mu.Unlock()
		},
		OnDone: func(source.Status) { close(doneCh) },
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("messages were not delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rt.Stop()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not called after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "one" || got[1] != "two" {
		t.Fatalf("expected messages in order, got %v", got)
	}
}

func TestCancelUnblocksPendingRead(t *testing.T) {
	srv := messageServer(t, nil, nil, nil)
	defer srv.Close()

	src, err := Dial(wsURL(srv), Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := src.Next()
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	src.Cancel()
	src.Cancel() // idempotent

	select {
	case err := <-result:
		if !errors.Is(err, source.ErrDone) {
			t.Fatalf("expected ErrDone after cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not unblock the pending read")
	}

	if _, err := src.Finalize(); err != nil {
		t.Fatalf("finalize after cancel must be clean, got %v", err)
	}
}

func TestServerCloseEndsSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	src, err := Dial(wsURL(srv), Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer src.Finalize()

	if _, err := src.Next(); !errors.Is(err, source.ErrDone) {
		t.Fatalf("normal close must end the sequence, got %v", err)
	}
}

func TestWriteReachesServer(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte
	srv := messageServer(t, nil, &received, &mu)
	defer srv.Close()

	src, err := Dial(wsURL(srv), Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := src.Write([]byte("outbound")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server never received the written message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	if string(received[0]) != "outbound" {
		t.Errorf("expected outbound, got %q", received[0])
	}
	mu.Unlock()

	src.Cancel()
}
