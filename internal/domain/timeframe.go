package domain

// timeframeWidths maps a historical timeframe token to its bucket width.
var timeframeWidths = map[string]int64{
	"1m":  60_000,
	"2m":  120_000,
	"5m":  300_000,
	"10m": 600_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"2h":  7_200_000,
	"4h":  14_400_000,
	"8h":  28_800_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
	"1w":  604_800_000,
	"1M":  2_592_000_000, // 30 days
}

// TimeframeWidthMs returns the bucket width for a timeframe token.
func TimeframeWidthMs(tf string) (int64, bool) {
	w, ok := timeframeWidths[tf]
	return w, ok
}
