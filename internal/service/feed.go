package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/engine"
	"otc_stream/internal/infra"
)

const cacheWriteTimeout = 500 * time.Millisecond

// feed is the running pipeline for one symbol: the current tick source, the sequencer
// that folds its ticks into candles, and the ordered subscriber list.
type feed struct {
	broker *Broker
	inst   domain.Instrument

	subMu    sync.RWMutex
	subs     []domain.Subscriber
	evicting map[string]bool

	seq    *engine.Sequencer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	srcMu  sync.Mutex
	source domain.TickSource
	status domain.MarketStatus
}

func newFeed(b *Broker, inst domain.Instrument) *feed {
	f := &feed{
		broker:   b,
		inst:     inst,
		evicting: make(map[string]bool),
	}
	f.seq = engine.NewSequencer(inst.Symbol, b.cfg.InboxSize, b.cfg.CandleWidthMs, f.onTick)
	return f
}

// start spins up the sequencer, the source picked for the current market status, and the
// status watcher. Called once, under the symbol lock.
func (f *feed) start(parent context.Context, anchor float64) {
	b := f.broker
	f.ctx, f.cancel = context.WithCancel(parent)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.seq.Run(f.ctx)
	}()

	status := b.resolver.Resolve(f.inst.Symbol, f.inst.Category, b.now())
	kind := domain.SelectSource(status)

	f.srcMu.Lock()
	f.status = status
	f.source = b.factory.NewSource(kind, f.inst, f.seq.Inbox(), anchor)
	if err := f.source.Connect(f.ctx); err != nil {
		slog.Error("Tick source failed to start", slog.String("symbol", f.inst.Symbol), slog.Any("error", err))
	}
	f.srcMu.Unlock()

	f.wg.Add(1)
	go f.watchStatus()

	infra.GlobalMetrics.IncrementFeeds()
	slog.Info("📡 Feed started",
		slog.String("symbol", f.inst.Symbol),
		slog.String("source", string(kind)),
		slog.Bool("otc", status.IsOTC),
	)
}

// stop cancels every goroutine of the feed and waits for them. The last price is returned
// so a later restart can anchor on it.
func (f *feed) stop() (float64, bool) {
	f.cancel()

	f.srcMu.Lock()
	if f.source != nil {
		f.source.Disconnect()
	}
	f.srcMu.Unlock()

	f.wg.Wait()
	infra.GlobalMetrics.DecrementFeeds()
	slog.Info("🛑 Feed stopped", slog.String("symbol", f.inst.Symbol))
	return f.seq.LastPrice()
}

// watchStatus sleeps until the next session boundary and re-evaluates the source there.
func (f *feed) watchStatus() {
	defer f.wg.Done()
	b := f.broker

	for {
		next := b.resolver.NextTransition(f.inst.Category, b.now())
		if next.IsZero() {
			<-f.ctx.Done()
			return
		}

		timer := time.NewTimer(next.Sub(b.now()))
		select {
		case <-f.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		f.reevaluate()
	}
}

// reevaluate recomputes the market status and swaps the tick source if the policy picks
// a different kind. Subscribers only see the new status frame and the isOTC flag.
func (f *feed) reevaluate() {
	b := f.broker
	status := b.resolver.Resolve(f.inst.Symbol, f.inst.Category, b.now())

	f.srcMu.Lock()
	if f.ctx.Err() != nil {
		f.srcMu.Unlock()
		return
	}
	if status.SameState(f.status) {
		// Keep the refreshed transition time for new subscribers
		f.status = status
		f.srcMu.Unlock()
		return
	}
	f.status = status

	kind := domain.SelectSource(status)
	if f.source == nil || f.source.Kind() != kind {
		anchor, ok := f.seq.LastPrice()
		if !ok {
			anchor = b.anchorFor(f.ctx, f.inst.Symbol)
		}
		if f.source != nil {
			f.source.Disconnect()
		}
		f.source = b.factory.NewSource(kind, f.inst, f.seq.Inbox(), anchor)
		if err := f.source.Connect(f.ctx); err != nil {
			slog.Error("Tick source failed to start", slog.String("symbol", f.inst.Symbol), slog.Any("error", err))
		}
		slog.Info("🔀 Tick source switched",
			slog.String("symbol", f.inst.Symbol),
			slog.String("source", string(kind)),
			slog.Float64("anchor", anchor),
		)
	}
	f.srcMu.Unlock()

	f.broadcast(domain.NewStatusEvent(status))
}

// onTick is the sequencer sink. It runs on the sequencer goroutine, so frames for one
// symbol leave in production order.
func (f *feed) onTick(tick domain.Tick, events []domain.CandleEvent) {
	f.broadcast(domain.NewTickEvent(tick))
	for _, ev := range events {
		f.broadcast(domain.NewCandleEvent(ev))
		if ev.Kind == domain.CandleClosed {
			f.persist(ev.Candle)
		}
	}

	if c := f.broker.cfg.Cache; c != nil {
		ctx, cancel := context.WithTimeout(f.ctx, cacheWriteTimeout)
		if err := c.SaveTick(ctx, tick); err != nil {
			slog.Debug("Tick cache write failed", slog.String("symbol", tick.Symbol), slog.Any("error", err))
		}
		cancel()
	}
}

func (f *feed) persist(candle domain.Candle) {
	repo := f.broker.cfg.Repo
	if repo == nil {
		return
	}
	if err := repo.SaveCandle(candle); err != nil {
		slog.Warn("Failed to store closed candle", slog.String("symbol", candle.Symbol), slog.Any("error", err))
		return
	}
	if err := repo.PruneCandles(candle.Symbol, f.broker.cfg.KeepCandles); err != nil {
		slog.Warn("Failed to prune candles", slog.String("symbol", candle.Symbol), slog.Any("error", err))
	}
	if err := repo.SaveAnchor(candle.Symbol, candle.Close); err != nil {
		slog.Warn("Failed to store price anchor", slog.String("symbol", candle.Symbol), slog.Any("error", err))
	}
}

// broadcast delivers ev to every subscriber in registration order. A subscriber that
// cannot keep up is evicted asynchronously; it gets no further frames from this feed.
func (f *feed) broadcast(ev domain.StreamEvent) {
	f.subMu.RLock()
	subs := f.subs
	f.subMu.RUnlock()

	sent := 0
	for _, sub := range subs {
		if sub.Deliver(ev) {
			sent++
			continue
		}
		f.evict(sub)
	}
	infra.GlobalMetrics.RecordBroadcast(sent)
}

func (f *feed) evict(sub domain.Subscriber) {
	f.subMu.Lock()
	if f.evicting[sub.ID()] {
		f.subMu.Unlock()
		return
	}
	f.evicting[sub.ID()] = true
	f.subMu.Unlock()

	infra.GlobalMetrics.RecordEviction()
	slog.Warn("🐢 Evicting slow subscriber", slog.String("symbol", f.inst.Symbol), slog.String("conn", sub.ID()))
	go f.broker.Remove(sub.ID())
}

// addSubscriber appends sub unless it is already registered.
func (f *feed) addSubscriber(sub domain.Subscriber) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, s := range f.subs {
		if s.ID() == sub.ID() {
			return
		}
	}
	// Copy-on-write so broadcast can iterate a stable slice without the lock
	next := make([]domain.Subscriber, len(f.subs), len(f.subs)+1)
	copy(next, f.subs)
	f.subs = append(next, sub)
}

// removeSubscriber drops the subscriber with id and returns the remaining count.
func (f *feed) removeSubscriber(id string) int {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	next := make([]domain.Subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		if s.ID() != id {
			next = append(next, s)
		}
	}
	f.subs = next
	delete(f.evicting, id)
	return len(next)
}

func (f *feed) subscriberCount() int {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	return len(f.subs)
}

func (f *feed) currentStatus() domain.MarketStatus {
	f.srcMu.Lock()
	defer f.srcMu.Unlock()
	return f.status
}

func (f *feed) sourceKind() domain.SourceKind {
	f.srcMu.Lock()
	defer f.srcMu.Unlock()
	if f.source == nil {
		return ""
	}
	return f.source.Kind()
}
