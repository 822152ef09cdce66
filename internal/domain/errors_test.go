package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError(t *testing.T) {
	baseErr := errors.New("i/o timeout")

	t.Run("retriable poll failure", func(t *testing.T) {
		err := NewNetworkError("poll EUR/USD", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}
		if err.Error() != "poll EUR/USD: i/o timeout" {
			t.Errorf("Error message = %q, want %q", err.Error(), "poll EUR/USD: i/o timeout")
		}
		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("fatal handshake", func(t *testing.T) {
		err := NewFatalNetworkError("handshake", baseErr)
		if err.IsRetriable() {
			t.Error("Expected error to not be retriable")
		}
	})

	t.Run("IsRetriable through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("binance: %w", NewNetworkError("dial", baseErr))
		fatal := fmt.Errorf("binance: %w", NewFatalNetworkError("dial", baseErr))

		if !IsRetriable(wrapped) {
			t.Error("IsRetriable should see through fmt.Errorf wrapping")
		}
		if IsRetriable(fatal) {
			t.Error("IsRetriable should return false for fatal error")
		}
		if IsRetriable(ErrInvalidSymbol) {
			t.Error("IsRetriable should return false for plain sentinel")
		}
	})
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "feeds.yahoo.poll_interval_ms", Err: errors.New("must be positive")}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}
	expected := "config error [feeds.yahoo.poll_interval_ms]: must be positive"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}
