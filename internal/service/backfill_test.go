package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"otc_stream/internal/domain"
)

type stubKlines struct {
	candles  []domain.Candle
	err      error
	interval string
	limit    int
}

func (s *stubKlines) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	s.interval = interval
	s.limit = limit
	return s.candles, s.err
}

type stubChart struct {
	candles  []domain.Candle
	err      error
	interval string
	rng      string
}

func (s *stubChart) FetchCandles(ctx context.Context, symbol, interval, rng string) ([]domain.Candle, error) {
	s.interval = interval
	s.rng = rng
	return s.candles, s.err
}

type stubRepo struct {
	candles []domain.Candle
}

func (r *stubRepo) SaveCandle(c domain.Candle) error { return nil }
func (r *stubRepo) RecentCandles(symbol string, limit int) ([]domain.Candle, error) {
	if len(r.candles) > limit {
		return r.candles[len(r.candles)-limit:], nil
	}
	return r.candles, nil
}
func (r *stubRepo) PruneCandles(symbol string, keep int) error           { return nil }
func (r *stubRepo) SaveAnchor(symbol string, price float64) error        { return nil }
func (r *stubRepo) GetAnchor(symbol string) (*domain.PriceAnchor, error) { return nil, nil }

func minuteCandles(symbol string, startMs int64, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Symbol:     symbol,
			OpenTimeMs: startMs + int64(i)*60_000,
			Open:       c - 1,
			High:       c + 2,
			Low:        c - 2,
			Close:      c,
			Volume:     1,
		}
	}
	return out
}

func newTestBackfill(closed bool, klines *stubKlines, chart *stubChart, repo domain.CandleRepository) *BackfillService {
	resolver := &fakeResolver{closed: closed}
	svc := NewBackfillService(domain.NewCatalog(), resolver, klines, chart, repo, nil)
	svc.now = func() time.Time { return time.UnixMilli(1_700_000_040_000) }
	return svc
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultHistoryLimit},
		{-5, DefaultHistoryLimit},
		{10, 10},
		{1000, 1000},
		{5000, MaxHistoryLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBackfill_UnknownTimeframe(t *testing.T) {
	svc := newTestBackfill(false, &stubKlines{}, &stubChart{}, nil)

	_, err := svc.Historical(context.Background(), "BTC/USD", "3m", 10)
	if !errors.Is(err, domain.ErrUnknownTimeframe) {
		t.Errorf("expected ErrUnknownTimeframe, got %v", err)
	}
}

func TestBackfill_UnknownSymbolIsEmpty(t *testing.T) {
	svc := newTestBackfill(false, &stubKlines{}, &stubChart{}, nil)

	rows, err := svc.Historical(context.Background(), "NOPE", "1m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", rows)
	}
}

func TestBackfill_CryptoUsesKlines(t *testing.T) {
	klines := &stubKlines{candles: minuteCandles("BTC/USD", 1_700_000_000_000, 10, 11, 12, 13)}
	svc := newTestBackfill(false, klines, &stubChart{}, nil)

	rows, err := svc.Historical(context.Background(), "BTC/USD", "1m", 2)
	if err != nil {
		t.Fatal(err)
	}
	if klines.interval != "1m" {
		t.Errorf("interval = %q, want 1m", klines.interval)
	}
	if len(rows) != 2 {
		t.Fatalf("expected tail of 2 rows, got %d", len(rows))
	}
	if rows[0].Close != 12 || rows[1].Close != 13 {
		t.Errorf("unexpected tail: %+v", rows)
	}
	if rows[1].Time != (1_700_000_000_000+3*60_000)/1000 {
		t.Errorf("time should be in seconds, got %d", rows[1].Time)
	}
}

func TestBackfill_UpstreamErrorIsEmpty(t *testing.T) {
	klines := &stubKlines{err: domain.ErrUpstreamUnavailable}
	svc := newTestBackfill(false, klines, &stubChart{}, nil)

	rows, err := svc.Historical(context.Background(), "BTC/USD", "1h", 10)
	if err != nil {
		t.Fatalf("upstream failure should not be an error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestBackfill_OpenMarketUsesChart(t *testing.T) {
	// 00:00..00:03 of a 2m grid rebuckets into two candles
	chart := &stubChart{candles: minuteCandles("AAPL", 1_699_999_920_000, 100, 101, 102, 103)}
	svc := newTestBackfill(false, &stubKlines{}, chart, nil)

	rows, err := svc.Historical(context.Background(), "AAPL", "2m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if chart.interval != "2m" {
		t.Errorf("chart interval = %q", chart.interval)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rebucketed rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Open != 99 || rows[0].Close != 101 || rows[0].High != 103 || rows[0].Low != 98 {
		t.Errorf("unexpected first bucket: %+v", rows[0])
	}
}

func TestBackfill_ClosedMarketGeneratesHistory(t *testing.T) {
	svc := newTestBackfill(true, &stubKlines{}, &stubChart{}, nil)

	rows, err := svc.Historical(context.Background(), "EUR/USD", "1m", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 50 {
		t.Fatalf("expected 50 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Time-rows[i-1].Time != 60 {
			t.Fatalf("rows %d and %d are not one minute apart", i-1, i)
		}
		if rows[i].High < rows[i].Low {
			t.Fatalf("row %d has high < low", i)
		}
	}
	if last := rows[len(rows)-1]; last.Close != 1.0850 {
		t.Errorf("generated series should end at the default price, got %f", last.Close)
	}

	again, _ := svc.Historical(context.Background(), "EUR/USD", "1m", 50)
	if again[10] != rows[10] {
		t.Error("generated history should be stable within a bucket")
	}
}

func TestBackfill_ClosedMarketPrependsGeneratedToStored(t *testing.T) {
	stored := minuteCandles("XAU/USD", 1_699_999_800_000, 2050, 2051, 2052)
	svc := newTestBackfill(true, &stubKlines{}, &stubChart{}, &stubRepo{candles: stored})

	rows, err := svc.Historical(context.Background(), "XAU/USD", "1m", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(rows))
	}
	tail := rows[7:]
	for i, c := range stored {
		if tail[i].Close != c.Close || tail[i].Time != c.OpenTimeMs/1000 {
			t.Errorf("stored candle %d not preserved: %+v", i, tail[i])
		}
	}
	if rows[6].Close != stored[0].Open {
		t.Errorf("generated history should join the stored open %f, got %f", stored[0].Open, rows[6].Close)
	}
	if rows[6].Time != stored[0].OpenTimeMs/1000-60 {
		t.Errorf("generated history should end one bucket before the stored window")
	}
}

func TestRebucket(t *testing.T) {
	in := minuteCandles("X", 0, 10, 20, 5, 7, 9)
	out := Rebucket(in, 180_000)

	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	first := out[0]
	if first.Open != 9 || first.Close != 5 || first.High != 22 || first.Low != 3 || first.Volume != 3 {
		t.Errorf("unexpected first bucket: %+v", first)
	}
	if out[1].OpenTimeMs != 180_000 || out[1].Close != 9 {
		t.Errorf("unexpected second bucket: %+v", out[1])
	}
}

func TestRebucket_WeeksOpenOnMonday(t *testing.T) {
	const day = 86_400_000
	const monday = 1_699_833_600_000 // 2023-11-13 00:00 UTC

	var days []domain.Candle
	for i := 0; i < 8; i++ {
		days = append(days, domain.Candle{Symbol: "X", OpenTimeMs: monday + int64(i)*day, Open: 1, High: 2, Low: 1, Close: 1, Volume: 1})
	}
	out := Rebucket(days, 7*day)

	if len(out) != 2 {
		t.Fatalf("expected 2 weekly buckets, got %d", len(out))
	}
	if out[0].OpenTimeMs != monday || out[0].Volume != 7 {
		t.Errorf("first week should open on monday with 7 days, got %+v", out[0])
	}
	if out[1].OpenTimeMs != monday+7*day {
		t.Errorf("second week should open the next monday, got %d", out[1].OpenTimeMs)
	}
}
