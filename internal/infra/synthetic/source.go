package synthetic

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/engine"
)

// DefaultInterval matches the polling cadence.
const DefaultInterval = 2 * time.Second

// Source is the synthetic adapter: a random walk around an anchor price, ticking at a
// fixed interval. It always succeeds. Each Source owns a fresh GeneratorState.
type Source struct {
	inst     domain.Instrument
	interval time.Duration
	out      chan<- domain.Tick
	now      func() time.Time

	// Owned by the ticking goroutine
	gen    *engine.Generator
	state  engine.GeneratorState
	anchor float64

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSource creates a synthetic adapter. anchorPrice is the last real or cached price
// (0 selects the instrument default).
func NewSource(inst domain.Instrument, interval time.Duration, out chan<- domain.Tick, anchorPrice float64) *Source {
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := time.Now
	gen := engine.NewGenerator(inst, engine.SeedFor(inst.Symbol, minuteKey(now())))
	return &Source{
		inst:     inst,
		interval: interval,
		out:      out,
		now:      now,
		gen:      gen,
		anchor:   gen.Anchor(anchorPrice),
	}
}

func minuteKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}

// Kind implements domain.TickSource.
func (s *Source) Kind() domain.SourceKind { return domain.SourceSynthetic }

// Connect starts ticking. The first tick is emitted immediately.
func (s *Source) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	slog.Info("🎲 Synthetic feed started",
		slog.String("symbol", s.inst.Symbol),
		slog.Float64("anchor", s.anchor),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if !s.emit(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (s *Source) emit(ctx context.Context) bool {
	base := s.anchor
	if s.state.Len() > 0 {
		base = s.state.LastPrice
	}
	price, next := s.gen.Next(base, s.state)
	s.state = next

	tick := engine.Quote(s.inst, price, s.anchor, s.now().UnixMilli())
	select {
	case s.out <- tick:
		return true
	case <-ctx.Done():
		return false
	}
}

// Disconnect stops the feed and discards its state.
func (s *Source) Disconnect() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// IsConnected reports whether the feed goroutine is running.
func (s *Source) IsConnected() bool {
	return s.running.Load()
}

// State returns a copy of the generator state. Only safe once the feed has stopped.
func (s *Source) State() engine.GeneratorState {
	return s.state
}
