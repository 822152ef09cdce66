package yahoo

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/engine"
	"otc_stream/internal/infra"
)

const (
	// DefaultPollInterval is the quote polling cadence.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollTimeout bounds one poll, limiter wait included.
	DefaultPollTimeout = 10 * time.Second
)

// Poller is the live polling adapter for one symbol. A failed poll is replaced by a
// synthetic tick seeded with the last known price, so the stream never stalls.
type Poller struct {
	inst     domain.Instrument
	client   *ChartClient
	interval time.Duration
	timeout  time.Duration
	out      chan<- domain.Tick

	// Owned by the polling goroutine
	gen       *engine.Generator
	state     engine.GeneratorState
	lastPrice float64
	reference float64

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoller creates a polling adapter. seedPrice is the last price known for the symbol
// (0 when none); it seeds the fallback generator until the first successful poll.
func NewPoller(inst domain.Instrument, client *ChartClient, interval time.Duration, out chan<- domain.Tick, seedPrice float64) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		inst:      inst,
		client:    client,
		interval:  interval,
		timeout:   DefaultPollTimeout,
		out:       out,
		gen:       engine.NewGenerator(inst, engine.SeedFor(inst.Symbol, "poll", time.Now().Format("200601021504"))),
		lastPrice: seedPrice,
	}
}

// Kind implements domain.TickSource.
func (p *Poller) Kind() domain.SourceKind { return domain.SourcePolling }

// Connect begins polling. The first poll runs immediately.
func (p *Poller) Connect(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Quote polling panic recovered", slog.String("symbol", p.inst.Symbol), slog.Any("panic", r))
			}
		}()

		p.poll(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Debug("Quote polling stopped", slog.String("symbol", p.inst.Symbol))
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()

	return nil
}

// poll always resolves to one tick: the real quote or a synthetic fallback.
func (p *Poller) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	tick, err := p.fetchTick(fetchCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("Quote fetch failed, using synthetic fallback",
			slog.String("symbol", p.inst.Symbol),
			slog.Any("error", err),
		)
		p.connected.Store(false)
		infra.GlobalMetrics.RecordPollFallback()
		tick = p.fallbackTick()
	} else {
		p.connected.Store(true)
	}

	select {
	case p.out <- tick:
	case <-ctx.Done():
	}
}

func (p *Poller) fetchTick(ctx context.Context) (domain.Tick, error) {
	q, err := p.client.FetchQuote(ctx, p.inst.Symbol)
	if err != nil {
		infra.GlobalMetrics.RecordError()
		return domain.Tick{}, err
	}

	p.lastPrice = q.Price
	if q.PreviousClose > 0 {
		p.reference = q.PreviousClose
	}
	// Real quotes re-anchor the walk
	p.state = engine.GeneratorState{}

	tick := domain.Tick{
		Symbol:      p.inst.Symbol,
		Price:       q.Price,
		TimestampMs: time.Now().UnixMilli(),
	}
	if p.reference > 0 {
		change := q.Price - p.reference
		tick.Change = domain.Float(change)
		tick.ChangePercent = domain.Float(change / p.reference * 100)
	}
	return tick, nil
}

func (p *Poller) fallbackTick() domain.Tick {
	base := p.lastPrice
	if p.state.Len() > 0 {
		base = p.state.LastPrice
	}
	price, next := p.gen.Next(base, p.state)
	p.state = next

	ref := p.reference
	if ref <= 0 {
		ref = p.lastPrice
	}
	return engine.Quote(p.inst, price, ref, time.Now().UnixMilli())
}

// Disconnect stops polling and waits for the goroutine to exit.
func (p *Poller) Disconnect() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
	p.connected.Store(false)
}

// IsConnected reports whether the last poll reached the upstream.
func (p *Poller) IsConnected() bool {
	return p.connected.Load()
}
