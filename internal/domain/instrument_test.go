package domain

import (
	"errors"
	"testing"
)

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name      string
		symbol    string
		wantCat   Category
		wantPrice float64
		wantErr   error
	}{
		{"known forex", "EUR/USD", CategoryForex, 1.0850, nil},
		{"lower case input", " eur/usd ", CategoryForex, 1.0850, nil},
		{"known stock", "AAPL", CategoryStocks, 264.00, nil},
		{"known crypto", "BTC/USD", CategoryCrypto, 65000.00, nil},
		{"unknown but well formed", "CAD/MXN", CategoryForex, FallbackPrice, nil},
		{"malformed", "DROP TABLE;", "", 0, ErrInvalidSymbol},
		{"empty", "", "", 0, ErrInvalidSymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := c.Resolve(tt.symbol)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve(%q) error = %v, want %v", tt.symbol, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.symbol, err)
			}
			if inst.Category != tt.wantCat {
				t.Errorf("category = %s, want %s", inst.Category, tt.wantCat)
			}
			if inst.DefaultPrice != tt.wantPrice {
				t.Errorf("default price = %f, want %f", inst.DefaultPrice, tt.wantPrice)
			}
		})
	}
}

func TestCatalogPut(t *testing.T) {
	c := NewCatalog()

	if err := c.Put(Instrument{Symbol: "usd/mxn", Category: "forex", DefaultPrice: 17.1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	inst, ok := c.Get("USD/MXN")
	if !ok {
		t.Fatal("expected USD/MXN in catalog")
	}
	if inst.Precision != 5 {
		t.Errorf("expected default forex precision 5, got %d", inst.Precision)
	}

	if err := c.Put(Instrument{Symbol: "bad symbol!"}); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}

	if err := c.Put(Instrument{Symbol: "GOLD", Category: "metals", DefaultPrice: 2000}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if inst, _ := c.Get("GOLD"); inst.Category != CategoryForex {
		t.Errorf("unknown category should fall back to forex, got %s", inst.Category)
	}
}

func TestInstrumentRound(t *testing.T) {
	inst := Instrument{Symbol: "EUR/USD", Precision: 5}
	if got := inst.Round(1.0850049); got != 1.0850 {
		t.Errorf("Round = %v, want 1.085", got)
	}
	if got := inst.Round(1.085006); got != 1.08501 {
		t.Errorf("Round = %v, want 1.08501", got)
	}
}

func TestSelectSource(t *testing.T) {
	tests := []struct {
		name   string
		status MarketStatus
		want   SourceKind
	}{
		{"crypto always push", MarketStatus{Category: CategoryCrypto, IsOpen: true}, SourcePush},
		{"open forex polls", MarketStatus{Category: CategoryForex, IsOpen: true}, SourcePolling},
		{"closed stocks synthetic", MarketStatus{Category: CategoryStocks, IsOTC: true}, SourceSynthetic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectSource(tt.status); got != tt.want {
				t.Errorf("SelectSource = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCandleValid(t *testing.T) {
	good := Candle{Open: 100, High: 101, Low: 99, Close: 99}
	if !good.Valid() {
		t.Error("expected candle to be valid")
	}
	bad := Candle{Open: 100, High: 99.5, Low: 99, Close: 100}
	if bad.Valid() {
		t.Error("expected candle with high below open to be invalid")
	}
}
