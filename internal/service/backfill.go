package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/engine"
	"otc_stream/internal/infra/binance"
	"otc_stream/internal/infra/yahoo"
)

const (
	// DefaultHistoryLimit is used when a request carries no limit.
	DefaultHistoryLimit = 500
	// MaxHistoryLimit caps every request.
	MaxHistoryLimit = 1000
)

// KlineFetcher serves crypto history.
type KlineFetcher interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// ChartFetcher serves history for the other categories while their market is open.
type ChartFetcher interface {
	FetchCandles(ctx context.Context, symbol, interval, rng string) ([]domain.Candle, error)
}

// PriceLookup returns the best known current price for a symbol (0 when unknown).
type PriceLookup func(ctx context.Context, symbol string) float64

// BackfillService produces the candles a chart needs on cold start.
type BackfillService struct {
	catalog  *domain.Catalog
	resolver domain.StatusResolver
	klines   KlineFetcher
	chart    ChartFetcher
	repo     domain.CandleRepository
	prices   PriceLookup
	now      func() time.Time
}

// NewBackfillService wires the history sources. repo and prices may be nil.
func NewBackfillService(catalog *domain.Catalog, resolver domain.StatusResolver, klines KlineFetcher, chart ChartFetcher, repo domain.CandleRepository, prices PriceLookup) *BackfillService {
	return &BackfillService{
		catalog:  catalog,
		resolver: resolver,
		klines:   klines,
		chart:    chart,
		repo:     repo,
		prices:   prices,
		now:      time.Now,
	}
}

// ClampLimit applies the default and the cap.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// Historical returns up to limit candles for symbol at timeframe, oldest first.
// Unknown symbols and upstream failures yield an empty slice; only an unknown
// timeframe is an error.
func (s *BackfillService) Historical(ctx context.Context, symbol, timeframe string, limit int) ([]domain.HistoricalCandle, error) {
	width, ok := domain.TimeframeWidthMs(timeframe)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTimeframe, timeframe)
	}
	limit = ClampLimit(limit)

	inst, ok := s.catalog.Get(symbol)
	if !ok {
		slog.Debug("History requested for unknown symbol", slog.String("symbol", symbol))
		return []domain.HistoricalCandle{}, nil
	}

	now := s.now()
	status := s.resolver.Resolve(inst.Symbol, inst.Category, now)

	var (
		candles []domain.Candle
		err     error
	)
	switch {
	case inst.Category == domain.CategoryCrypto:
		candles, err = s.cryptoHistory(ctx, inst, timeframe, width, limit)
	case status.IsOpen:
		candles, err = s.chartHistory(ctx, inst, timeframe, width)
	default:
		candles = s.syntheticHistory(ctx, inst, width, limit, now)
	}
	if err != nil {
		slog.Warn("History upstream failed",
			slog.String("symbol", inst.Symbol),
			slog.String("timeframe", timeframe),
			slog.Any("error", err),
		)
		return []domain.HistoricalCandle{}, nil
	}

	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]domain.HistoricalCandle, len(candles))
	for i, c := range candles {
		out[i] = c.ToHistorical()
	}
	return out, nil
}

func (s *BackfillService) cryptoHistory(ctx context.Context, inst domain.Instrument, timeframe string, width int64, limit int) ([]domain.Candle, error) {
	interval := binance.Interval(timeframe)
	ivWidth, ok := domain.TimeframeWidthMs(interval)
	if !ok {
		ivWidth = width
	}

	// A finer interval needs proportionally more rows to cover limit buckets
	fetch := limit * int(width/ivWidth)
	if fetch > MaxHistoryLimit {
		fetch = MaxHistoryLimit
	}

	candles, err := s.klines.FetchCandles(ctx, inst.Symbol, interval, fetch)
	if err != nil {
		return nil, err
	}
	if ivWidth != width {
		candles = Rebucket(candles, width)
	}
	return candles, nil
}

func (s *BackfillService) chartHistory(ctx context.Context, inst domain.Instrument, timeframe string, width int64) ([]domain.Candle, error) {
	interval, rng, ok := yahoo.HistoryParams(timeframe)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTimeframe, timeframe)
	}
	candles, err := s.chart.FetchCandles(ctx, inst.Symbol, interval, rng)
	if err != nil {
		return nil, err
	}
	return Rebucket(candles, width), nil
}

// syntheticHistory serves closed markets: the stored closed-candle window (one-minute
// buckets only) extended backward with generated candles that end at the oldest stored
// open. Without stored candles the whole series is generated up to the current bucket.
func (s *BackfillService) syntheticHistory(ctx context.Context, inst domain.Instrument, width int64, limit int, now time.Time) []domain.Candle {
	nowBucket := engine.HistoryBucketStart(now.UnixMilli(), width)

	var stored []domain.Candle
	if s.repo != nil && width == engine.DefaultCandleWidthMs {
		var err error
		stored, err = s.repo.RecentCandles(inst.Symbol, limit)
		if err != nil {
			slog.Warn("Failed to load stored candles", slog.String("symbol", inst.Symbol), slog.Any("error", err))
			stored = nil
		}
	}

	missing := limit - len(stored)
	if missing <= 0 {
		return stored
	}

	var anchor float64
	end := nowBucket
	if len(stored) > 0 {
		anchor = stored[0].Open
		end = stored[0].OpenTimeMs - width
	} else if s.prices != nil {
		anchor = s.prices(ctx, inst.Symbol)
	}

	// Same bucket, same path
	seed := engine.SeedFor(inst.Symbol, "hist", strconv.FormatInt(nowBucket/width, 10))
	generated := engine.NewGenerator(inst, seed).Historical(anchor, missing, width, end)

	return append(generated, stored...)
}

// Rebucket merges candles into buckets of width, preserving order. Input must be oldest first.
// Weekly buckets open on Monday.
func Rebucket(candles []domain.Candle, width int64) []domain.Candle {
	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		bucket := engine.HistoryBucketStart(c.OpenTimeMs, width)
		if n := len(out); n > 0 && out[n-1].OpenTimeMs == bucket {
			cur := &out[n-1]
			cur.High = math.Max(cur.High, c.High)
			cur.Low = math.Min(cur.Low, c.Low)
			cur.Close = c.Close
			cur.Volume += c.Volume
			continue
		}
		c.OpenTimeMs = bucket
		out = append(out, c)
	}
	return out
}
