package binance

import "strings"

// ToBinanceSymbol maps a catalog symbol to a Binance USDT pair.
func ToBinanceSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC"):
		return "BTCUSDT"
	case strings.Contains(s, "ETH"):
		return "ETHUSDT"
	case strings.HasSuffix(s, "/USD"):
		return strings.TrimSuffix(s, "/USD") + "USDT"
	default:
		return strings.ReplaceAll(s, "/", "")
	}
}

// intervalFallback maps timeframes Binance does not serve to the closest finer interval.
var intervalFallback = map[string]string{
	"2m":  "1m",
	"10m": "5m",
	"2h":  "1h",
	"8h":  "4h",
	"12h": "4h",
	"1w":  "1d",
	"1M":  "1d",
}

// Interval returns the kline interval used to serve timeframe.
func Interval(timeframe string) string {
	if iv, ok := intervalFallback[timeframe]; ok {
		return iv
	}
	return timeframe
}
