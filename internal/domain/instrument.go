package domain

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// FallbackPrice is used for well-formed symbols that are missing from the catalog.
const FallbackPrice = 100.0

var symbolPattern = regexp.MustCompile(`^[A-Z0-9^=._/-]{1,20}$`)

// Instrument is a tradable symbol and the metadata the feeds need for it.
type Instrument struct {
	Symbol       string   `yaml:"symbol" json:"symbol"`
	Category     Category `yaml:"category" json:"category"`
	DefaultPrice float64  `yaml:"default_price" json:"defaultPrice"`
	Precision    int32    `yaml:"precision" json:"precision"`
}

// Round rounds a price to the instrument's display precision.
func (i Instrument) Round(price float64) float64 {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	return decimal.NewFromFloat(price).Round(i.Precision).InexactFloat64()
}

// Catalog is the set of known instruments. It is safe for concurrent use.
type Catalog struct {
	mu          sync.RWMutex
	instruments map[string]Instrument
}

// NewCatalog returns a catalog preloaded with the built-in instruments.
func NewCatalog() *Catalog {
	c := &Catalog{instruments: make(map[string]Instrument, len(builtinInstruments))}
	for _, inst := range builtinInstruments {
		c.instruments[inst.Symbol] = inst
	}
	return c
}

// Put adds or replaces an instrument.
func (c *Catalog) Put(inst Instrument) error {
	sym := NormalizeSymbol(inst.Symbol)
	if !symbolPattern.MatchString(sym) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, inst.Symbol)
	}
	inst.Symbol = sym
	inst.Category = ParseCategory(string(inst.Category))
	if inst.Precision <= 0 {
		inst.Precision = defaultPrecision(inst.Category)
	}
	c.mu.Lock()
	c.instruments[sym] = inst
	c.mu.Unlock()
	return nil
}

// Get returns the catalog entry for symbol.
func (c *Catalog) Get(symbol string) (Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[NormalizeSymbol(symbol)]
	return inst, ok
}

// Resolve returns the instrument for symbol. Well-formed unknown symbols get the
// default category (forex) and FallbackPrice; malformed ones return ErrInvalidSymbol.
func (c *Catalog) Resolve(symbol string) (Instrument, error) {
	sym := NormalizeSymbol(symbol)
	if inst, ok := c.Get(sym); ok {
		return inst, nil
	}
	if !symbolPattern.MatchString(sym) {
		return Instrument{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return Instrument{
		Symbol:       sym,
		Category:     CategoryForex,
		DefaultPrice: FallbackPrice,
		Precision:    defaultPrecision(CategoryForex),
	}, nil
}

// All returns every instrument sorted by symbol.
func (c *Catalog) All() []Instrument {
	c.mu.RLock()
	out := make([]Instrument, 0, len(c.instruments))
	for _, inst := range c.instruments {
		out = append(out, inst)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func defaultPrecision(cat Category) int32 {
	switch cat {
	case CategoryForex:
		return 5
	case CategoryCrypto:
		return 4
	default:
		return 2
	}
}

var builtinInstruments = []Instrument{
	// Forex
	{"EUR/USD", CategoryForex, 1.0850, 5},
	{"GBP/USD", CategoryForex, 1.2700, 5},
	{"USD/JPY", CategoryForex, 149.50, 3},
	{"AUD/CAD", CategoryForex, 0.8950, 5},
	{"AUD/USD", CategoryForex, 0.6550, 5},
	{"USD/CAD", CategoryForex, 1.3600, 5},
	{"EUR/GBP", CategoryForex, 0.8550, 5},
	{"EUR/JPY", CategoryForex, 162.50, 3},
	{"GBP/JPY", CategoryForex, 190.00, 3},
	{"USD/BRL", CategoryForex, 4.9500, 4},
	{"NZD/USD", CategoryForex, 0.6250, 5},
	{"USD/CHF", CategoryForex, 0.8750, 5},
	// Stocks
	{"AAPL", CategoryStocks, 264.00, 2},
	{"GOOGL", CategoryStocks, 185.00, 2},
	{"MSFT", CategoryStocks, 397.00, 2},
	{"AMZN", CategoryStocks, 201.00, 2},
	{"TSLA", CategoryStocks, 411.00, 2},
	{"META", CategoryStocks, 639.00, 2},
	{"NVDA", CategoryStocks, 185.00, 2},
	// Indices
	{"SPX", CategoryIndices, 5800.00, 2},
	{"IXIC", CategoryIndices, 18500.00, 2},
	{"DJI", CategoryIndices, 43000.00, 2},
	{"FTSE", CategoryIndices, 8400.00, 2},
	{"DAX", CategoryIndices, 18500.00, 2},
	{"N225", CategoryIndices, 38000.00, 2},
	// Commodities
	{"XAU/USD", CategoryCommodities, 2050.00, 2},
	{"XAG/USD", CategoryCommodities, 23.00, 3},
	{"WTI/USD", CategoryCommodities, 78.00, 2},
	{"XBR/USD", CategoryCommodities, 82.00, 2},
	{"NG/USD", CategoryCommodities, 2.50, 3},
	{"XPT/USD", CategoryCommodities, 920.00, 2},
	// Crypto
	{"BTC/USD", CategoryCrypto, 65000.00, 2},
	{"ETH/USD", CategoryCrypto, 3200.00, 2},
	{"SOL/USD", CategoryCrypto, 150.00, 3},
	{"XRP/USD", CategoryCrypto, 0.55, 4},
	{"BNB/USD", CategoryCrypto, 580.00, 2},
	{"DOGE/USD", CategoryCrypto, 0.15, 5},
}
