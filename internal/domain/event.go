package domain

// StreamEventType is the discriminator carried by every outbound frame.
type StreamEventType string

const (
	EventTick         StreamEventType = "tick"
	EventCandle       StreamEventType = "candle"
	EventMarketStatus StreamEventType = "market-status"
)

// StreamEvent is one unit of fan-out from a symbol feed to its subscribers.
// Exactly one of Tick, Candle or Status is set, matching Type.
type StreamEvent struct {
	Type   StreamEventType
	Symbol string
	Tick   *Tick
	Candle *CandleEvent
	Status *MarketStatus
}

// NewTickEvent wraps a tick.
func NewTickEvent(t Tick) StreamEvent {
	return StreamEvent{Type: EventTick, Symbol: t.Symbol, Tick: &t}
}

// NewCandleEvent wraps a candle event.
func NewCandleEvent(ev CandleEvent) StreamEvent {
	return StreamEvent{Type: EventCandle, Symbol: ev.Candle.Symbol, Candle: &ev}
}

// NewStatusEvent wraps a market status.
func NewStatusEvent(s MarketStatus) StreamEvent {
	return StreamEvent{Type: EventMarketStatus, Symbol: s.Symbol, Status: &s}
}
