package service

import (
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/infra/binance"
	"otc_stream/internal/infra/synthetic"
	"otc_stream/internal/infra/yahoo"
)

// SourceFactory builds the tick source of a given kind for one instrument.
// anchor is the last known price (0 when unknown).
type SourceFactory interface {
	NewSource(kind domain.SourceKind, inst domain.Instrument, out chan<- domain.Tick, anchor float64) domain.TickSource
}

// AdapterFactory wires the Binance, Yahoo and synthetic adapters.
type AdapterFactory struct {
	BinanceWSURL      string
	Chart             *yahoo.ChartClient
	PollInterval      time.Duration
	SyntheticInterval time.Duration
}

// NewSource implements SourceFactory.
func (f *AdapterFactory) NewSource(kind domain.SourceKind, inst domain.Instrument, out chan<- domain.Tick, anchor float64) domain.TickSource {
	switch kind {
	case domain.SourcePush:
		return binance.NewWorker(inst, f.BinanceWSURL, out)
	case domain.SourcePolling:
		return yahoo.NewPoller(inst, f.Chart, f.PollInterval, out, anchor)
	default:
		return synthetic.NewSource(inst, f.SyntheticInterval, out, anchor)
	}
}
