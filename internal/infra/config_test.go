package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"otc_stream/internal/domain"
)

const sampleConfig = `
app:
  name: "otc-stream"
  version: "1.0.0"
server:
  port: "3001"
feeds:
  binance:
    ws_url: "wss://stream.binance.com:9443/ws"
  yahoo:
    poll_interval_ms: 2000
    timeout_ms: 10000
market:
  candle_width_ms: 60000
  holiday_mic: "xnys"
instruments:
  - symbol: "EUR/USD"
    category: "forex"
    default_price: 1.0850
    precision: 5
logging:
  level: "debug"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "3001" {
		t.Errorf("port = %s, want 3001", cfg.Server.Port)
	}
	if cfg.Feeds.Synthetic.IntervalMS != 2000 {
		t.Errorf("synthetic interval should default to the poll interval, got %d", cfg.Feeds.Synthetic.IntervalMS)
	}
	if cfg.Server.SendQueueSize != 256 || cfg.Server.PingIntervalSec != 54 || cfg.Server.PongWaitSec != 60 {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].DefaultPrice != 1.0850 {
		t.Errorf("unexpected instruments: %+v", cfg.Instruments)
	}
	if cfg.Redis.HistorySize != 1000 {
		t.Errorf("history size = %d, want 1000", cfg.Redis.HistorySize)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MARKET_DATA_PORT", "4100")
	t.Setenv("REDIS_URL", "redis://:secret@cache.local:6380/2")
	t.Setenv("OTC_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "4100" {
		t.Errorf("port = %s, want 4100", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "cache.local:6380" || cfg.Redis.Password != "secret" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis settings: %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %s, want warn", cfg.Logging.Level)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"http binance url", func(c *Config) { c.Feeds.Binance.WSURL = "https://x" }, "feeds.binance.ws_url"},
		{"negative poll", func(c *Config) { c.Feeds.Yahoo.PollIntervalMS = -1 }, "feeds.yahoo.poll_interval_ms"},
		{"negative width", func(c *Config) { c.Market.CandleWidthMS = -60000 }, "market.candle_width_ms"},
		{"empty instrument", func(c *Config) { c.Instruments = []domain.Instrument{{}} }, "instruments[0].symbol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("defaults should validate: %v", err)
			}

			tt.mut(cfg)
			err := cfg.Validate()
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("field = %s, want %s", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug").String() != "DEBUG" || ParseLevel("bogus").String() != "INFO" {
		t.Error("unexpected level mapping")
	}
}
