package infra

import "time"

const (
	// BaseBackoff is the first reconnect delay.
	BaseBackoff = time.Second
	// MaxBackoff caps every reconnect delay.
	MaxBackoff = 30 * time.Second
)

// CalculateBackoff returns min(1s * 2^attempt, 30s). The attempt counter is uncapped.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^5s already exceeds the cap; avoids shift overflow for large attempts
	if attempt >= 5 {
		return MaxBackoff
	}
	d := BaseBackoff << attempt
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
