package server

import (
	"otc_stream/internal/domain"
)

// Outbound frame types that are not stream events.
const (
	frameConnected = "connected"
	frameError     = "error"
)

// Inbound command types.
const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
)

type clientCommand struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type controlFrame struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message,omitempty"`
}

type tickFrame struct {
	Type string      `json:"type"`
	Data domain.Tick `json:"data"`
}

type wireCandle struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	IsOTC  bool    `json:"isOTC"`
}

type candleFrame struct {
	Type  string                 `json:"type"`
	Event domain.CandleEventKind `json:"event"`
	Data  wireCandle             `json:"data"`
}

// statusFrame flattens the status next to the type field.
type statusFrame struct {
	Type string `json:"type"`
	domain.MarketStatus
}

// newFrame converts a stream event into its wire shape, rounding prices to the
// instrument's display precision. It returns nil for an empty event.
func newFrame(ev domain.StreamEvent, inst domain.Instrument) any {
	switch ev.Type {
	case domain.EventTick:
		if ev.Tick == nil {
			return nil
		}
		return tickFrame{Type: string(domain.EventTick), Data: roundTick(*ev.Tick, inst)}

	case domain.EventCandle:
		if ev.Candle == nil {
			return nil
		}
		c := ev.Candle.Candle
		return candleFrame{
			Type:  string(domain.EventCandle),
			Event: ev.Candle.Kind,
			Data: wireCandle{
				Symbol: c.Symbol,
				Time:   c.OpenTimeMs / 1000,
				Open:   inst.Round(c.Open),
				High:   inst.Round(c.High),
				Low:    inst.Round(c.Low),
				Close:  inst.Round(c.Close),
				Volume: c.Volume,
				IsOTC:  c.IsSynthetic,
			},
		}

	case domain.EventMarketStatus:
		if ev.Status == nil {
			return nil
		}
		return statusFrame{Type: string(domain.EventMarketStatus), MarketStatus: *ev.Status}
	}
	return nil
}

func roundTick(t domain.Tick, inst domain.Instrument) domain.Tick {
	t.Price = inst.Round(t.Price)
	if t.Bid != nil {
		t.Bid = domain.Float(inst.Round(*t.Bid))
	}
	if t.Ask != nil {
		t.Ask = domain.Float(inst.Round(*t.Ask))
	}
	if t.Change != nil {
		t.Change = domain.Float(inst.Round(*t.Change))
	}
	if t.ChangePercent != nil {
		// Percentages keep two decimals regardless of instrument
		t.ChangePercent = domain.Float(domain.Instrument{Precision: 2}.Round(*t.ChangePercent))
	}
	return t
}
