package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"otc_stream/internal/domain"
	"otc_stream/internal/infra"
)

// EventSink receives every accepted tick together with the candle events it produced.
// It is called from the Sequencer goroutine, in production order.
type EventSink func(tick domain.Tick, events []domain.CandleEvent)

// Sequencer is the single-goroutine processor for one symbol: adapters push ticks into its
// inbox, it folds them into candles and hands the results to the sink in order.
type Sequencer struct {
	symbol string
	inbox  chan domain.Tick
	agg    *Aggregator
	sink   EventSink

	processed uint64
	lastTick  domain.Tick
	hasTick   bool

	mu sync.RWMutex // Used only for external reads
}

// NewSequencer creates a sequencer for symbol with the given inbox size and bucket width.
func NewSequencer(symbol string, inboxSize int, widthMs int64, sink EventSink) *Sequencer {
	if inboxSize <= 0 {
		inboxSize = 256
	}
	return &Sequencer{
		symbol: symbol,
		inbox:  make(chan domain.Tick, inboxSize),
		agg:    NewAggregator(symbol, widthMs),
		sink:   sink,
	}
}

// Inbox returns the tick channel. Adapters send here.
func (s *Sequencer) Inbox() chan<- domain.Tick {
	return s.inbox
}

// Run processes ticks until ctx is cancelled. It MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.String("symbol", s.symbol), slog.Any("panic", r))
			s.DumpState("panic_dump_" + sanitize(s.symbol) + ".json")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-s.inbox:
			s.processTick(tick)
		}
	}
}

func (s *Sequencer) processTick(tick domain.Tick) {
	if tick.Symbol != s.symbol {
		slog.Warn("Tick routed to wrong sequencer", slog.String("want", s.symbol), slog.String("got", tick.Symbol))
		return
	}

	s.mu.Lock()
	events := s.agg.Ingest(tick)
	if events == nil {
		s.mu.Unlock()
		infra.GlobalMetrics.RecordDroppedTick()
		return
	}
	s.processed++
	s.lastTick = tick
	s.hasTick = true
	s.mu.Unlock()

	infra.GlobalMetrics.RecordTick()
	for _, ev := range events {
		if ev.Kind == domain.CandleClosed {
			infra.GlobalMetrics.RecordCandleClosed()
		}
	}

	if s.sink != nil {
		s.sink(tick, events)
	}
}

// Snapshot returns the open candle and the last accepted tick (external read).
func (s *Sequencer) Snapshot() (domain.Candle, domain.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candle, ok := s.agg.Current()
	if !ok || !s.hasTick {
		return domain.Candle{}, domain.Tick{}, false
	}
	return candle, s.lastTick, true
}

// LastPrice returns the price of the last accepted tick.
func (s *Sequencer) LastPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick.Price, s.hasTick
}

// DumpState writes the sequencer state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	s.mu.RLock()
	candle, hasCandle := s.agg.Current()
	data := struct {
		Symbol    string         `json:"symbol"`
		Processed uint64         `json:"processed"`
		LastTick  *domain.Tick   `json:"last_tick,omitempty"`
		Candle    *domain.Candle `json:"candle,omitempty"`
	}{
		Symbol:    s.symbol,
		Processed: s.processed,
	}
	if s.hasTick {
		lt := s.lastTick
		data.LastTick = &lt
	}
	if hasCandle {
		data.Candle = &candle
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}

func sanitize(symbol string) string {
	out := []byte(symbol)
	for i, c := range out {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			out[i] = '_'
		}
	}
	return string(out)
}
