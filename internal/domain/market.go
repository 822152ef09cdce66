package domain

// Category groups instruments that share trading hours and volatility.
type Category string

const (
	CategoryCrypto      Category = "crypto"
	CategoryForex       Category = "forex"
	CategoryStocks      Category = "stocks"
	CategoryIndices     Category = "indices"
	CategoryCommodities Category = "commodities"
)

// ParseCategory maps a config/user string to a Category. Unknown values fall back to forex.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryCrypto, CategoryForex, CategoryStocks, CategoryIndices, CategoryCommodities:
		return Category(s)
	default:
		return CategoryForex
	}
}

// MarketStatus describes whether an instrument's real market is open at a point in time.
type MarketStatus struct {
	Symbol   string   `json:"symbol"`
	Category Category `json:"category"`
	IsOpen   bool     `json:"isOpen"`
	IsOTC    bool     `json:"isOTC"`
	Message  string   `json:"message"`

	// NextTransitionMs is when the status may next change (unix ms); 0 for 24/7 markets.
	NextTransitionMs int64 `json:"nextTransition,omitempty"`
}

// SameState reports whether two statuses would produce the same notification.
func (s MarketStatus) SameState(o MarketStatus) bool {
	return s.IsOpen == o.IsOpen && s.IsOTC == o.IsOTC && s.Category == o.Category
}

// SourceKind identifies which adapter variant feeds a symbol.
type SourceKind string

const (
	SourcePush      SourceKind = "push"
	SourcePolling   SourceKind = "polling"
	SourceSynthetic SourceKind = "synthetic"
)

// SelectSource applies the per-symbol source policy: push for crypto, polling while the
// market is open, synthetic whenever the market is in OTC mode.
func SelectSource(status MarketStatus) SourceKind {
	switch {
	case status.Category == CategoryCrypto:
		return SourcePush
	case status.IsOTC:
		return SourceSynthetic
	default:
		return SourcePolling
	}
}
