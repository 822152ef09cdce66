package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/engine"
)

// BrokerConfig carries the broker's optional collaborators and tuning.
type BrokerConfig struct {
	Cache         domain.TickCache        // optional
	Repo          domain.CandleRepository // optional
	CandleWidthMs int64
	InboxSize     int
	KeepCandles   int
	Now           func() time.Time
}

// symbolLock serializes lifecycle changes of one symbol's feed. refs counts holders and
// waiters, guarded by Broker.mu; the entry is dropped when it reaches zero.
type symbolLock struct {
	mu   sync.Mutex
	refs int
}

type subscription struct {
	symbol string
	sub    domain.Subscriber
}

// Broker maps symbols to subscribed connections and owns one feed per symbol,
// reference counted by its subscribers.
type Broker struct {
	ctx      context.Context
	catalog  *domain.Catalog
	resolver domain.StatusResolver
	factory  SourceFactory
	cfg      BrokerConfig
	now      func() time.Time

	mu          sync.Mutex // registry
	feeds       map[string]*feed
	conns       map[string]subscription
	symbolLocks map[string]*symbolLock
	lastPrices  map[string]float64 // catalog instruments only
}

// NewBroker creates a broker. Feeds run until ctx is cancelled or Shutdown is called.
func NewBroker(ctx context.Context, catalog *domain.Catalog, resolver domain.StatusResolver, factory SourceFactory, cfg BrokerConfig) *Broker {
	if cfg.CandleWidthMs <= 0 {
		cfg.CandleWidthMs = engine.DefaultCandleWidthMs
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.KeepCandles <= 0 {
		cfg.KeepCandles = 1000
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Broker{
		ctx:         ctx,
		catalog:     catalog,
		resolver:    resolver,
		factory:     factory,
		cfg:         cfg,
		now:         now,
		feeds:       make(map[string]*feed),
		conns:       make(map[string]subscription),
		symbolLocks: make(map[string]*symbolLock),
		lastPrices:  make(map[string]float64),
	}
}

func (b *Broker) lockSymbol(symbol string) *symbolLock {
	b.mu.Lock()
	lk, ok := b.symbolLocks[symbol]
	if !ok {
		lk = &symbolLock{}
		b.symbolLocks[symbol] = lk
	}
	lk.refs++
	b.mu.Unlock()

	lk.mu.Lock()
	return lk
}

func (b *Broker) unlockSymbol(symbol string, lk *symbolLock) {
	lk.mu.Unlock()

	b.mu.Lock()
	lk.refs--
	if lk.refs == 0 && b.symbolLocks[symbol] == lk {
		delete(b.symbolLocks, symbol)
	}
	b.mu.Unlock()
}

// Subscribe points the subscriber's connection at symbol. Subscribing to the current symbol
// is a no-op; subscribing to another symbol first releases the previous one. The first
// subscriber of a symbol starts its feed. Every new subscription is sent the current
// market status.
func (b *Broker) Subscribe(sub domain.Subscriber, symbol string) (domain.MarketStatus, error) {
	inst, err := b.catalog.Resolve(symbol)
	if err != nil {
		return domain.MarketStatus{}, err
	}
	symbol = inst.Symbol

	b.mu.Lock()
	prev, had := b.conns[sub.ID()]
	if had && prev.symbol == symbol {
		f := b.feeds[symbol]
		b.mu.Unlock()
		if f != nil {
			return f.currentStatus(), nil
		}
		return b.resolver.Resolve(symbol, inst.Category, b.now()), nil
	}
	b.conns[sub.ID()] = subscription{symbol: symbol, sub: sub}
	b.mu.Unlock()

	if had {
		b.release(prev.symbol, sub.ID())
	}
	status := b.acquire(inst, sub)

	slog.Debug("Subscribed", slog.String("conn", sub.ID()), slog.String("symbol", symbol))
	return status, nil
}

// Unsubscribe removes the connection's subscription if it is for symbol.
func (b *Broker) Unsubscribe(connID, symbol string) {
	symbol = domain.NormalizeSymbol(symbol)

	b.mu.Lock()
	cur, ok := b.conns[connID]
	if !ok || cur.symbol != symbol {
		b.mu.Unlock()
		return
	}
	delete(b.conns, connID)
	b.mu.Unlock()

	b.release(symbol, connID)
}

// Remove drops whatever the connection is subscribed to. Used on disconnect and eviction.
func (b *Broker) Remove(connID string) {
	b.mu.Lock()
	cur, ok := b.conns[connID]
	if ok {
		delete(b.conns, connID)
	}
	b.mu.Unlock()

	if ok {
		b.release(cur.symbol, connID)
	}
}

func (b *Broker) acquire(inst domain.Instrument, sub domain.Subscriber) domain.MarketStatus {
	lk := b.lockSymbol(inst.Symbol)
	defer b.unlockSymbol(inst.Symbol, lk)

	// The connection may have moved on while we waited for the symbol lock
	b.mu.Lock()
	cur, ok := b.conns[sub.ID()]
	if !ok || cur.symbol != inst.Symbol {
		b.mu.Unlock()
		return b.resolver.Resolve(inst.Symbol, inst.Category, b.now())
	}
	f, running := b.feeds[inst.Symbol]
	if !running {
		f = newFeed(b, inst)
		b.feeds[inst.Symbol] = f
	}
	b.mu.Unlock()

	if !running {
		f.start(b.ctx, b.anchorFor(b.ctx, inst.Symbol))
	}
	status := f.currentStatus()
	sub.Deliver(domain.NewStatusEvent(status))
	f.addSubscriber(sub)
	return status
}

func (b *Broker) release(symbol, connID string) {
	lk := b.lockSymbol(symbol)
	defer b.unlockSymbol(symbol, lk)

	b.mu.Lock()
	f, ok := b.feeds[symbol]
	if !ok {
		b.mu.Unlock()
		return
	}
	remaining := f.removeSubscriber(connID)
	if remaining == 0 {
		delete(b.feeds, symbol)
	}
	b.mu.Unlock()

	if remaining == 0 {
		// Ad-hoc symbols fall back to the tick cache and stored anchor on restart
		if last, ok := f.stop(); ok {
			if _, known := b.catalog.Get(symbol); known {
				b.mu.Lock()
				b.lastPrices[symbol] = last
				b.mu.Unlock()
			}
		}
	}
}

// anchorFor picks the price a new source starts from: the last in-process price, then the
// tick cache, then the stored anchor. 0 lets the generator use the instrument default.
func (b *Broker) anchorFor(ctx context.Context, symbol string) float64 {
	b.mu.Lock()
	p, ok := b.lastPrices[symbol]
	b.mu.Unlock()
	if ok {
		return p
	}

	if b.cfg.Cache != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
		price, ok, err := b.cfg.Cache.LatestPrice(cctx, symbol)
		cancel()
		if err != nil {
			slog.Debug("Tick cache read failed", slog.String("symbol", symbol), slog.Any("error", err))
		} else if ok {
			return price
		}
	}

	if b.cfg.Repo != nil {
		anchor, err := b.cfg.Repo.GetAnchor(symbol)
		if err != nil {
			slog.Debug("Anchor lookup failed", slog.String("symbol", symbol), slog.Any("error", err))
		} else if anchor != nil {
			return anchor.Price
		}
	}
	return 0
}

// LastKnownPrice returns the running feed's last price, or the best stored anchor.
func (b *Broker) LastKnownPrice(ctx context.Context, symbol string) float64 {
	b.mu.Lock()
	f := b.feeds[symbol]
	b.mu.Unlock()
	if f != nil {
		if p, ok := f.seq.LastPrice(); ok {
			return p
		}
	}
	return b.anchorFor(ctx, symbol)
}

// Status resolves the market status for symbol.
func (b *Broker) Status(symbol string) (domain.MarketStatus, error) {
	inst, err := b.catalog.Resolve(symbol)
	if err != nil {
		return domain.MarketStatus{}, err
	}
	return b.resolver.Resolve(inst.Symbol, inst.Category, b.now()), nil
}

// FeedInfo describes a running feed.
type FeedInfo struct {
	Symbol      string            `json:"symbol"`
	Source      domain.SourceKind `json:"source"`
	Subscribers int               `json:"subscribers"`
	IsOTC       bool              `json:"isOTC"`
}

// Feeds lists the running feeds sorted by symbol.
func (b *Broker) Feeds() []FeedInfo {
	b.mu.Lock()
	feeds := make([]*feed, 0, len(b.feeds))
	for _, f := range b.feeds {
		feeds = append(feeds, f)
	}
	b.mu.Unlock()

	out := make([]FeedInfo, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, FeedInfo{
			Symbol:      f.inst.Symbol,
			Source:      f.sourceKind(),
			Subscribers: f.subscriberCount(),
			IsOTC:       f.currentStatus().IsOTC,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SubscribedSymbol returns the symbol a connection is subscribed to.
func (b *Broker) SubscribedSymbol(connID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.conns[connID]
	return cur.symbol, ok
}

// Shutdown stops every feed and forgets all subscriptions.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	symbols := make([]string, 0, len(b.feeds))
	for s := range b.feeds {
		symbols = append(symbols, s)
	}
	conns := make([]string, 0, len(b.conns))
	for id := range b.conns {
		conns = append(conns, id)
	}
	b.mu.Unlock()

	for _, id := range conns {
		b.Remove(id)
	}

	// Feeds whose subscribers vanished mid-shutdown
	for _, s := range symbols {
		lk := b.lockSymbol(s)
		b.mu.Lock()
		f, ok := b.feeds[s]
		delete(b.feeds, s)
		b.mu.Unlock()
		if ok {
			f.stop()
		}
		b.unlockSymbol(s, lk)
	}
	slog.Info("Broker shut down", slog.Int("feeds", len(symbols)))
}
