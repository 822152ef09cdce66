package domain

import (
	"context"
	"time"
)

// TickSource is an upstream feed for a single symbol. Connect starts the feed in the
// background and must not block; ticks are delivered on the channel handed to the
// source's constructor. Disconnect blocks until the feed's goroutines have exited.
type TickSource interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Kind() SourceKind
}

// StatusResolver decides whether an instrument's real market is open.
type StatusResolver interface {
	Resolve(symbol string, category Category, now time.Time) MarketStatus
	NextTransition(category Category, now time.Time) time.Time
}

// TickCache keeps the most recent ticks per symbol outside the process.
type TickCache interface {
	SaveTick(ctx context.Context, tick Tick) error
	LatestPrice(ctx context.Context, symbol string) (float64, bool, error)
}

// CandleRepository stores closed candles for cold-start backfill.
type CandleRepository interface {
	SaveCandle(candle Candle) error
	RecentCandles(symbol string, limit int) ([]Candle, error)
	PruneCandles(symbol string, keep int) error
	SaveAnchor(symbol string, price float64) error
	GetAnchor(symbol string) (*PriceAnchor, error)
}

// Subscriber receives stream events for the symbol it is subscribed to.
// Deliver must not block; it returns false when the subscriber cannot keep up.
type Subscriber interface {
	ID() string
	Deliver(ev StreamEvent) bool
}
