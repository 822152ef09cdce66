package yahoo

import "strings"

var specialSymbols = map[string]string{
	"SPX":     "^GSPC",
	"IXIC":    "^IXIC",
	"DJI":     "^DJI",
	"FTSE":    "^FTSE",
	"DAX":     "^GDAXI",
	"N225":    "^N225",
	"XAU/USD": "GC=F",
	"XAG/USD": "SI=F",
	"WTI/USD": "CL=F",
	"XBR/USD": "BZ=F",
	"NG/USD":  "NG=F",
	"XPT/USD": "PL=F",
}

// ToYahooSymbol maps a catalog symbol to its chart API ticker.
func ToYahooSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if y, ok := specialSymbols[s]; ok {
		return y
	}
	if strings.Contains(s, "/") {
		return strings.ReplaceAll(s, "/", "") + "=X"
	}
	return s
}

type historyParams struct {
	interval string
	rng      string
}

var historyByTimeframe = map[string]historyParams{
	"1m":  {"1m", "5d"},
	"2m":  {"2m", "5d"},
	"5m":  {"5m", "1mo"},
	"10m": {"5m", "1mo"},
	"15m": {"15m", "1mo"},
	"30m": {"30m", "1mo"},
	"1h":  {"60m", "3mo"},
	"2h":  {"60m", "6mo"},
	"4h":  {"60m", "1y"},
	"8h":  {"60m", "2y"},
	"12h": {"60m", "2y"},
	"1d":  {"1d", "5y"},
	"1w":  {"1wk", "10y"},
	"1M":  {"1mo", "max"},
}

// HistoryParams returns the chart interval and range that cover timeframe.
// The interval may be finer than the timeframe; callers re-bucket.
func HistoryParams(timeframe string) (interval, rng string, ok bool) {
	p, ok := historyByTimeframe[timeframe]
	return p.interval, p.rng, ok
}
