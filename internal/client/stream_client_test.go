package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer accepts streaming connections, records the commands it receives and lets a
// test decide how each connection ends.
type fakeServer struct {
	t        *testing.T
	http     *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	accepted int
	conns    []*websocket.Conn
	commands []command
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{t: t}
	fs.http = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.http.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.http.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.accepted++
	fs.conns = append(fs.conns, conn)
	fs.mu.Unlock()

	conn.WriteJSON(map[string]string{"type": "connected"})
	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		fs.mu.Lock()
		fs.commands = append(fs.commands, cmd)
		fs.mu.Unlock()
	}
}

func (fs *fakeServer) acceptedCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.accepted
}

func (fs *fakeServer) received() []command {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]command(nil), fs.commands...)
}

func (fs *fakeServer) lastConn() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns[len(fs.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastOptions() Options {
	return Options{
		SettleDelay: 10 * time.Millisecond,
		SwitchDelay: 10 * time.Millisecond,
		Wait:        func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func TestStreamClient_BackoffSequence(t *testing.T) {
	// A closed server refuses every dial
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	errStop := errors.New("stop")
	opts := Options{Wait: func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)
		if len(delays) == 7 {
			return errStop
		}
		return nil
	}}

	c := New(url, opts)
	c.Connect(context.Background())
	waitFor(t, "loop exit", func() bool { return c.State() == StateDisconnected })

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != len(want) {
		t.Fatalf("got %d delays, want %d: %v", len(delays), len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestStreamClient_ConnectIsNoopWhileActive(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), fastOptions())
	t.Cleanup(c.Disconnect)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Connect(context.Background())
		}()
	}
	wg.Wait()

	waitFor(t, "connected", func() bool { return c.State() == StateConnected })
	c.Connect(context.Background())
	time.Sleep(50 * time.Millisecond)

	if got := fs.acceptedCount(); got != 1 {
		t.Errorf("expected exactly one connection, got %d", got)
	}
}

func TestStreamClient_SubscribesAfterConnect(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), fastOptions())
	t.Cleanup(c.Disconnect)

	c.SetSymbol("EUR/USD")
	c.Connect(context.Background())

	waitFor(t, "subscribe", func() bool { return len(fs.received()) == 1 })
	if cmd := fs.received()[0]; cmd.Type != "subscribe" || cmd.Symbol != "EUR/USD" {
		t.Errorf("unexpected command: %+v", cmd)
	}
}

func TestStreamClient_SwitchSymbol(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), fastOptions())
	t.Cleanup(c.Disconnect)

	c.SetSymbol("EUR/USD")
	c.Connect(context.Background())
	waitFor(t, "first subscribe", func() bool { return len(fs.received()) == 1 })

	c.SetSymbol("GBP/USD")
	waitFor(t, "switch", func() bool { return len(fs.received()) == 3 })

	got := fs.received()
	want := []command{
		{Type: "subscribe", Symbol: "EUR/USD"},
		{Type: "unsubscribe", Symbol: "EUR/USD"},
		{Type: "subscribe", Symbol: "GBP/USD"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStreamClient_ReconnectsAfterAbnormalClose(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), fastOptions())
	t.Cleanup(c.Disconnect)

	c.SetSymbol("BTC/USD")
	c.Connect(context.Background())
	waitFor(t, "first subscribe", func() bool { return len(fs.received()) == 1 })

	// Drop the socket without a close frame
	fs.lastConn().UnderlyingConn().Close()

	waitFor(t, "reconnect", func() bool { return fs.acceptedCount() == 2 })
	waitFor(t, "resubscribe", func() bool { return len(fs.received()) == 2 })
	if cmd := fs.received()[1]; cmd.Symbol != "BTC/USD" {
		t.Errorf("resubscribe went to %q", cmd.Symbol)
	}
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })
}

func TestStreamClient_NormalCloseDoesNotReconnect(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), fastOptions())
	t.Cleanup(c.Disconnect)

	c.Connect(context.Background())
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })
	waitFor(t, "accept", func() bool { return fs.acceptedCount() == 1 })

	fs.lastConn().WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))

	waitFor(t, "disconnected", func() bool { return c.State() == StateDisconnected })
	time.Sleep(50 * time.Millisecond)
	if got := fs.acceptedCount(); got != 1 {
		t.Errorf("normal closure must not reconnect, got %d connections", got)
	}
}

func TestStreamClient_DisconnectEmitsStatus(t *testing.T) {
	fs := newFakeServer(t)
	c := New(fs.url(), fastOptions())

	var states []State
	record := func(ev Event) bool {
		if ev.Type == EventStatus {
			states = append(states, ev.State)
		}
		return ev.Type == "connected"
	}

	c.Connect(context.Background())

	// Server frames arrive on the same channel as local status changes
	timeout := time.After(2 * time.Second)
	for sawFrame := false; !sawFrame; {
		select {
		case ev := <-c.Events():
			sawFrame = record(ev)
		case <-timeout:
			t.Fatal("timed out waiting for the connected frame")
		}
	}

	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}

	for drained := false; !drained; {
		select {
		case ev := <-c.Events():
			record(ev)
		default:
			drained = true
		}
	}

	want := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}

	// A stopped client can connect again
	c.Connect(context.Background())
	waitFor(t, "reconnected", func() bool { return c.State() == StateConnected })
	c.Disconnect()
}
