package engine

import (
	"log/slog"
	"math"

	"otc_stream/internal/domain"
)

// DefaultCandleWidthMs is the default bucket width (one minute).
const DefaultCandleWidthMs int64 = 60_000

// Aggregator buckets one symbol's tick stream into fixed-width candles.
// It is owned by a single goroutine (the symbol's Sequencer) and is not safe for concurrent use.
type Aggregator struct {
	symbol  string
	widthMs int64
	current *domain.Candle
}

// NewAggregator creates an aggregator for symbol. A non-positive width selects DefaultCandleWidthMs.
func NewAggregator(symbol string, widthMs int64) *Aggregator {
	if widthMs <= 0 {
		widthMs = DefaultCandleWidthMs
	}
	return &Aggregator{symbol: symbol, widthMs: widthMs}
}

// BucketStart returns floor(ts/width)*width.
func BucketStart(tsMs, widthMs int64) int64 {
	b := tsMs / widthMs
	if tsMs < 0 && tsMs%widthMs != 0 {
		b--
	}
	return b * widthMs
}

const (
	weekWidthMs int64 = 604_800_000
	// The epoch fell on a Thursday
	mondayOffsetMs int64 = 4 * 86_400_000
)

// HistoryBucketStart is BucketStart with weekly buckets opening on Monday 00:00 UTC.
func HistoryBucketStart(tsMs, widthMs int64) int64 {
	if widthMs == weekWidthMs {
		return BucketStart(tsMs-mondayOffsetMs, widthMs) + mondayOffsetMs
	}
	return BucketStart(tsMs, widthMs)
}

// Ingest applies a tick and returns the resulting events: Opened for the first tick,
// Updated inside the current bucket, or Closed followed by Opened when the tick starts a
// new bucket. Ticks older than the current bucket are dropped and yield no events.
func (a *Aggregator) Ingest(tick domain.Tick) []domain.CandleEvent {
	if !validPrice(tick.Price) {
		slog.Warn("Dropping tick with invalid price", slog.String("symbol", a.symbol), slog.Float64("price", tick.Price))
		return nil
	}

	bucket := BucketStart(tick.TimestampMs, a.widthMs)

	if a.current == nil {
		a.current = a.open(bucket, tick)
		return []domain.CandleEvent{{Kind: domain.CandleOpened, Candle: *a.current}}
	}

	switch {
	case bucket == a.current.OpenTimeMs:
		next := *a.current
		next.Close = tick.Price
		next.High = math.Max(next.High, tick.Price)
		next.Low = math.Min(next.Low, tick.Price)
		next.Volume += tick.VolumeOrZero()
		next.IsSynthetic = tick.IsSynthetic
		a.current = &next
		return []domain.CandleEvent{{Kind: domain.CandleUpdated, Candle: next}}

	case bucket > a.current.OpenTimeMs:
		closed := *a.current
		a.current = a.open(bucket, tick)
		return []domain.CandleEvent{
			{Kind: domain.CandleClosed, Candle: closed},
			{Kind: domain.CandleOpened, Candle: *a.current},
		}

	default:
		slog.Warn("Dropping late tick",
			slog.String("symbol", a.symbol),
			slog.Int64("tick_ts", tick.TimestampMs),
			slog.Int64("bucket", a.current.OpenTimeMs),
		)
		return nil
	}
}

func (a *Aggregator) open(bucket int64, tick domain.Tick) *domain.Candle {
	return &domain.Candle{
		Symbol:      a.symbol,
		OpenTimeMs:  bucket,
		Open:        tick.Price,
		High:        tick.Price,
		Low:         tick.Price,
		Close:       tick.Price,
		Volume:      tick.VolumeOrZero(),
		IsSynthetic: tick.IsSynthetic,
	}
}

// Current returns a copy of the open candle.
func (a *Aggregator) Current() (domain.Candle, bool) {
	if a.current == nil {
		return domain.Candle{}, false
	}
	return *a.current, true
}

// Width returns the bucket width in milliseconds.
func (a *Aggregator) Width() int64 { return a.widthMs }
