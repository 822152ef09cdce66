package engine

import (
	"hash/fnv"
	"math"
	"math/rand/v2"

	"otc_stream/internal/domain"
)

const (
	// historyCap bounds GeneratorState's price history ring.
	historyCap = 100
	// maxStepChange is the per-step circuit breaker relative to the step's reference price.
	maxStepChange = 0.01
)

// Volatility returns the per-tick standard deviation (relative) for a category.
func Volatility(cat domain.Category) float64 {
	switch cat {
	case domain.CategoryForex:
		return 0.0002
	case domain.CategoryIndices, domain.CategoryCommodities:
		return 0.00025
	default:
		return 0.0003
	}
}

// SpreadPercent returns the simulated bid/ask spread for a category, in percent of price.
func SpreadPercent(cat domain.Category) float64 {
	switch cat {
	case domain.CategoryForex:
		return 0.001
	case domain.CategoryStocks:
		return 0.01
	case domain.CategoryIndices:
		return 0.005
	case domain.CategoryCommodities:
		return 0.008
	default:
		return 0.01
	}
}

// GeneratorState is the per-symbol random walk state. It is a plain value: copying it
// copies the history ring, so Next never aliases a caller's state.
type GeneratorState struct {
	LastPrice float64
	Drift     float64

	history [historyCap]float64
	head    int
	size    int
}

// Len returns the number of prices in the history ring.
func (s GeneratorState) Len() int { return s.size }

// History returns the ring contents, oldest first.
func (s GeneratorState) History() []float64 {
	out := make([]float64, 0, s.size)
	start := (s.head - s.size + historyCap) % historyCap
	for i := 0; i < s.size; i++ {
		out = append(out, s.history[(start+i)%historyCap])
	}
	return out
}

func (s *GeneratorState) push(p float64) {
	s.history[s.head] = p
	s.head = (s.head + 1) % historyCap
	if s.size < historyCap {
		s.size++
	}
}

// meanChange is the average relative change between consecutive history entries.
func (s *GeneratorState) meanChange() float64 {
	if s.size < 2 {
		return 0
	}
	h := s.History()
	var sum float64
	for i := 1; i < len(h); i++ {
		sum += (h[i] - h[i-1]) / h[i-1]
	}
	return sum / float64(len(h)-1)
}

// Generator produces synthetic prices for one instrument. It is not safe for concurrent
// use; each feed owns its own Generator.
type Generator struct {
	inst domain.Instrument
	vol  float64
	rng  *rand.Rand
}

// NewGenerator returns a generator for inst seeded with seed.
func NewGenerator(inst domain.Instrument, seed uint64) *Generator {
	return &Generator{
		inst: inst,
		vol:  Volatility(inst.Category),
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SeedFor derives a deterministic seed from its parts.
func SeedFor(parts ...string) uint64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{':'})
		}
		h.Write([]byte(p))
	}
	return h.Sum64()
}

// Instrument returns the instrument the generator was built for.
func (g *Generator) Instrument() domain.Instrument { return g.inst }

// Anchor returns price when it is usable, otherwise the instrument's default price.
func (g *Generator) Anchor(price float64) float64 {
	if validPrice(price) {
		return price
	}
	if validPrice(g.inst.DefaultPrice) {
		return g.inst.DefaultPrice
	}
	return domain.FallbackPrice
}

// Next advances the walk one step from basePrice and returns the new price and state.
// The result never moves more than 1% away from basePrice.
func (g *Generator) Next(basePrice float64, st GeneratorState) (float64, GeneratorState) {
	return g.step(g.Anchor(basePrice), st, 0.9, 0.1)
}

func (g *Generator) step(ref float64, st GeneratorState, keep, blend float64) (float64, GeneratorState) {
	if st.Len() >= 2 {
		st.Drift = st.Drift*keep + st.meanChange()*blend
	}

	proposed := ref * (1 + st.Drift + g.vol*g.normal())
	lo, hi := ref*(1-maxStepChange), ref*(1+maxStepChange)
	proposed = math.Max(lo, math.Min(hi, proposed))

	if !validPrice(proposed) {
		proposed = ref
		if validPrice(st.LastPrice) {
			proposed = st.LastPrice
		}
	}

	st.LastPrice = proposed
	st.push(proposed)
	return proposed, st
}

// normal draws a standard normal variate with the Box-Muller transform.
func (g *Generator) normal() float64 {
	u1 := 1 - g.rng.Float64() // (0, 1]
	u2 := g.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Historical returns count candles spaced exactly intervalMs apart, the last one opening
// at nowMs and closing at basePrice (or the instrument default when basePrice is unusable).
// The walk runs backward from the anchor so the newest candle meets the live price.
func (g *Generator) Historical(basePrice float64, count int, intervalMs, nowMs int64) []domain.Candle {
	if count <= 0 || intervalMs <= 0 {
		return nil
	}

	anchor := g.Anchor(basePrice)
	closes := make([]float64, count)
	closes[count-1] = anchor

	var st GeneratorState
	st.push(anchor)
	for i := count - 2; i >= 0; i-- {
		closes[i], st = g.step(closes[i+1], st, 0.95, 0.05)
	}
	firstOpen, _ := g.step(closes[0], st, 0.95, 0.05)

	candles := make([]domain.Candle, count)
	for i := 0; i < count; i++ {
		open := firstOpen
		if i > 0 {
			open = closes[i-1]
		}
		cl := closes[i]
		top, bottom := math.Max(open, cl), math.Min(open, cl)
		wick := top * g.vol * math.Abs(g.normal()) * 0.5

		low := bottom - wick
		if low <= 0 {
			low = bottom
		}
		candles[i] = domain.Candle{
			Symbol:      g.inst.Symbol,
			OpenTimeMs:  nowMs - int64(count-1-i)*intervalMs,
			Open:        open,
			High:        top + wick,
			Low:         low,
			Close:       cl,
			IsSynthetic: true,
		}
	}
	return candles
}

// Quote builds a synthetic tick for price with a category spread and change figures
// measured against reference.
func Quote(inst domain.Instrument, price, reference float64, tsMs int64) domain.Tick {
	half := price * SpreadPercent(inst.Category) / 200
	tick := domain.Tick{
		Symbol:      inst.Symbol,
		Price:       price,
		TimestampMs: tsMs,
		Bid:         domain.Float(price - half),
		Ask:         domain.Float(price + half),
		IsSynthetic: true,
	}
	if validPrice(reference) {
		change := price - reference
		tick.Change = domain.Float(change)
		tick.ChangePercent = domain.Float(change / reference * 100)
	}
	return tick
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
