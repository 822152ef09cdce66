package domain

// Tick is a single timestamped price observation for an instrument.
// Values are never mutated after they leave the adapter that produced them.
type Tick struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	TimestampMs   int64    `json:"timestamp"`
	Volume        *float64 `json:"volume,omitempty"`
	Bid           *float64 `json:"bid,omitempty"`
	Ask           *float64 `json:"ask,omitempty"`
	Change        *float64 `json:"change,omitempty"`
	ChangePercent *float64 `json:"changePercent,omitempty"`
	IsSynthetic   bool     `json:"isOTC,omitempty"`
}

// VolumeOrZero returns the tick volume, or 0 when the upstream did not report one.
func (t Tick) VolumeOrZero() float64 {
	if t.Volume == nil {
		return 0
	}
	return *t.Volume
}

// Float returns a pointer to v. Optional tick fields are built with it.
func Float(v float64) *float64 {
	return &v
}

// Candle is an OHLCV summary of the ticks inside one fixed-width bucket.
type Candle struct {
	Symbol      string  `json:"symbol"`
	OpenTimeMs  int64   `json:"openTime"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	IsSynthetic bool    `json:"isOTC,omitempty"`
}

// Valid reports whether the candle satisfies high >= max(open, close) and low <= min(open, close).
func (c Candle) Valid() bool {
	return c.High >= c.Open && c.High >= c.Close && c.Low <= c.Open && c.Low <= c.Close && c.Low <= c.High
}

// CandleEventKind tells subscribers what happened to a candle.
type CandleEventKind string

const (
	CandleOpened  CandleEventKind = "opened"
	CandleUpdated CandleEventKind = "updated"
	CandleClosed  CandleEventKind = "closed"
)

// CandleEvent carries an immutable candle snapshot.
type CandleEvent struct {
	Kind   CandleEventKind `json:"event"`
	Candle Candle          `json:"data"`
}

// HistoricalCandle is the row shape returned by the historical query interface.
type HistoricalCandle struct {
	Time  int64   `json:"time"` // unix seconds
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// ToHistorical converts a candle to the historical row shape.
func (c Candle) ToHistorical() HistoricalCandle {
	return HistoricalCandle{
		Time:  c.OpenTimeMs / 1000,
		Open:  c.Open,
		High:  c.High,
		Low:   c.Low,
		Close: c.Close,
	}
}
