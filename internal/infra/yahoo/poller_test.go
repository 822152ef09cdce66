package yahoo

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"otc_stream/internal/domain"
)

var eurusd = domain.Instrument{Symbol: "EUR/USD", Category: domain.CategoryForex, DefaultPrice: 1.0850, Precision: 5}

func TestPoller_EmitsRealQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(quoteBody))
	}))
	defer server.Close()

	out := make(chan domain.Tick, 4)
	p := NewPoller(eurusd, NewChartClient(server.URL, time.Second, nil), time.Hour, out, 0)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer p.Disconnect()

	select {
	case tick := <-out:
		if tick.Price != 1.0912 || tick.IsSynthetic {
			t.Errorf("expected the real quote, got %+v", tick)
		}
		if tick.ChangePercent == nil || math.Abs(*tick.ChangePercent-(1.0912-1.0850)/1.0850*100) > 1e-9 {
			t.Errorf("changePercent should be relative to previous close, got %v", tick.ChangePercent)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the first poll")
	}

	if !p.IsConnected() {
		t.Error("poller should report connected after a successful poll")
	}
	if p.Kind() != domain.SourcePolling {
		t.Errorf("kind = %s, want polling", p.Kind())
	}
}

func TestPoller_FallsBackToSynthetic(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(quoteBody))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	out := make(chan domain.Tick, 8)
	p := NewPoller(eurusd, NewChartClient(server.URL, time.Second, nil), 20*time.Millisecond, out, 0)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer p.Disconnect()

	var ticks []domain.Tick
	for len(ticks) < 4 {
		select {
		case tick := <-out:
			ticks = append(ticks, tick)
		case <-time.After(2 * time.Second):
			t.Fatalf("stream stalled after %d ticks", len(ticks))
		}
	}

	if ticks[0].IsSynthetic {
		t.Error("first tick should be the real quote")
	}
	prev := ticks[0].Price
	for i, tick := range ticks[1:] {
		if !tick.IsSynthetic {
			t.Errorf("tick %d should be a synthetic fallback", i+1)
		}
		if math.Abs(tick.Price-prev)/prev > 0.01+1e-12 {
			t.Errorf("fallback tick %d jumped %.4f from %f", i+1, tick.Price, prev)
		}
		if tick.Bid == nil || tick.Ask == nil {
			t.Errorf("fallback tick %d should carry a spread", i+1)
		}
		prev = tick.Price
	}
	if p.IsConnected() {
		t.Error("poller should report disconnected while the upstream fails")
	}
}

func TestPoller_NeverFetchedUsesSeedPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	out := make(chan domain.Tick, 1)
	p := NewPoller(eurusd, NewChartClient(server.URL, time.Second, nil), time.Hour, out, 1.2)
	p.Connect(context.Background())
	defer p.Disconnect()

	select {
	case tick := <-out:
		if math.Abs(tick.Price-1.2)/1.2 > 0.01 {
			t.Errorf("fallback should walk from the seed price, got %f", tick.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the fallback tick")
	}
}

func TestPoller_DisconnectStops(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(quoteBody))
	}))
	defer server.Close()

	out := make(chan domain.Tick, 64)
	p := NewPoller(eurusd, NewChartClient(server.URL, time.Second, nil), 10*time.Millisecond, out, 0)
	p.Connect(context.Background())

	time.Sleep(50 * time.Millisecond)
	p.Disconnect()
	after := calls.Load()

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != after {
		t.Errorf("poller kept polling after Disconnect: %d -> %d", after, calls.Load())
	}
}

func TestPoller_LimiterWaitIsBounded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(quoteBody))
	}))
	defer server.Close()

	// One request per 30s: every poll after the first is starved by the limiter
	limiter := rate.NewLimiter(rate.Every(30*time.Second), 1)
	out := make(chan domain.Tick, 8)
	p := NewPoller(eurusd, NewChartClient(server.URL, 10*time.Second, limiter), 50*time.Millisecond, out, 0)
	p.timeout = 200 * time.Millisecond

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer p.Disconnect()

	var ticks []domain.Tick
	deadline := time.After(2 * time.Second)
	for len(ticks) < 3 {
		select {
		case tick := <-out:
			ticks = append(ticks, tick)
		case <-deadline:
			t.Fatalf("poll not bounded by its timeout: %d ticks in 2s", len(ticks))
		}
	}

	if ticks[0].IsSynthetic {
		t.Error("first poll should use the limiter token and return the real quote")
	}
	for i, tick := range ticks[1:] {
		if !tick.IsSynthetic {
			t.Errorf("tick %d should be a synthetic fallback while the limiter is saturated", i+1)
		}
	}
}
