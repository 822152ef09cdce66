package infra

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"otc_stream/internal/domain"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds every setting of the market-data service.
// LoadConfig reads the YAML file, then environment variables override the deployment-specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Port              string   `yaml:"port"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
		SendQueueSize     int      `yaml:"send_queue_size"`
		PingIntervalSec   int      `yaml:"ping_interval_sec"`
		PongWaitSec       int      `yaml:"pong_wait_sec"`
		WriteWaitSec      int      `yaml:"write_wait_sec"`
		MaxMessageBytes   int64    `yaml:"max_message_bytes"`
		EnablePprof       bool     `yaml:"enable_pprof"`
		PprofAddr         string   `yaml:"pprof_addr"`
		ShutdownTimeoutMS int      `yaml:"shutdown_timeout_ms"`
	} `yaml:"server"`

	Feeds struct {
		Binance struct {
			WSURL   string `yaml:"ws_url"`
			RestURL string `yaml:"rest_url"`
		} `yaml:"binance"`
		Yahoo struct {
			ChartURL       string  `yaml:"chart_url"`
			PollIntervalMS int     `yaml:"poll_interval_ms"`
			TimeoutMS      int     `yaml:"timeout_ms"`
			RatePerSec     float64 `yaml:"rate_per_sec"`
			Burst          int     `yaml:"burst"`
		} `yaml:"yahoo"`
		Synthetic struct {
			IntervalMS int `yaml:"interval_ms"`
		} `yaml:"synthetic"`
	} `yaml:"feeds"`

	Market struct {
		CandleWidthMS int64  `yaml:"candle_width_ms"`
		HolidayMIC    string `yaml:"holiday_mic"`
		InboxSize     int    `yaml:"inbox_size"`
	} `yaml:"market"`

	Storage struct {
		Path        string `yaml:"path"`
		KeepCandles int    `yaml:"keep_candles"`
	} `yaml:"storage"`

	Redis struct {
		Enabled     bool   `yaml:"enabled"`
		Addr        string `yaml:"addr"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		HistorySize int64  `yaml:"history_size"`
	} `yaml:"redis"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Instruments []domain.Instrument `yaml:"instruments"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Environment wins over the file
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads .env.local and .env when present. Variables already set are not overwritten.
func loadDotEnv() {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("⚠️ Failed to load env file", slog.String("file", f), slog.Any("error", err))
		}
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "otc-stream"
	}
	if c.Server.Port == "" {
		c.Server.Port = "3001"
	}
	if c.Server.SendQueueSize <= 0 {
		c.Server.SendQueueSize = 256
	}
	if c.Server.PingIntervalSec <= 0 {
		c.Server.PingIntervalSec = 54
	}
	if c.Server.PongWaitSec <= 0 {
		c.Server.PongWaitSec = 60
	}
	if c.Server.WriteWaitSec <= 0 {
		c.Server.WriteWaitSec = 10
	}
	if c.Server.MaxMessageBytes <= 0 {
		c.Server.MaxMessageBytes = 1 << 20
	}
	if c.Server.PprofAddr == "" {
		c.Server.PprofAddr = "localhost:6060"
	}
	if c.Server.ShutdownTimeoutMS <= 0 {
		c.Server.ShutdownTimeoutMS = 5000
	}

	if c.Feeds.Binance.WSURL == "" {
		c.Feeds.Binance.WSURL = "wss://stream.binance.com:9443/ws"
	}
	if c.Feeds.Binance.RestURL == "" {
		c.Feeds.Binance.RestURL = "https://api.binance.com"
	}
	if c.Feeds.Yahoo.ChartURL == "" {
		c.Feeds.Yahoo.ChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	if c.Feeds.Yahoo.PollIntervalMS == 0 {
		c.Feeds.Yahoo.PollIntervalMS = 2000
	}
	if c.Feeds.Yahoo.TimeoutMS == 0 {
		c.Feeds.Yahoo.TimeoutMS = 10000
	}
	if c.Feeds.Yahoo.RatePerSec == 0 {
		c.Feeds.Yahoo.RatePerSec = 5
	}
	if c.Feeds.Yahoo.Burst <= 0 {
		c.Feeds.Yahoo.Burst = 5
	}
	if c.Feeds.Synthetic.IntervalMS == 0 {
		c.Feeds.Synthetic.IntervalMS = c.Feeds.Yahoo.PollIntervalMS
	}

	if c.Market.CandleWidthMS == 0 {
		c.Market.CandleWidthMS = 60_000
	}
	if c.Market.InboxSize <= 0 {
		c.Market.InboxSize = 256
	}

	if c.Storage.KeepCandles <= 0 {
		c.Storage.KeepCandles = 1000
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.HistorySize <= 0 {
		c.Redis.HistorySize = 1000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return &domain.ConfigError{Field: "server.port", Err: fmt.Errorf("must not be empty")}
	}

	ws := c.Feeds.Binance.WSURL
	if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
		return &domain.ConfigError{Field: "feeds.binance.ws_url", Err: fmt.Errorf("invalid websocket URL: %s", ws)}
	}

	if c.Feeds.Yahoo.PollIntervalMS <= 0 {
		return &domain.ConfigError{Field: "feeds.yahoo.poll_interval_ms", Err: fmt.Errorf("must be positive")}
	}
	if c.Feeds.Yahoo.TimeoutMS <= 0 {
		return &domain.ConfigError{Field: "feeds.yahoo.timeout_ms", Err: fmt.Errorf("must be positive")}
	}
	if c.Feeds.Yahoo.RatePerSec <= 0 {
		return &domain.ConfigError{Field: "feeds.yahoo.rate_per_sec", Err: fmt.Errorf("must be positive")}
	}
	if c.Feeds.Synthetic.IntervalMS <= 0 {
		return &domain.ConfigError{Field: "feeds.synthetic.interval_ms", Err: fmt.Errorf("must be positive")}
	}

	if c.Market.CandleWidthMS <= 0 {
		return &domain.ConfigError{Field: "market.candle_width_ms", Err: fmt.Errorf("must be a positive number of milliseconds")}
	}

	for i, inst := range c.Instruments {
		if inst.Symbol == "" {
			return &domain.ConfigError{Field: fmt.Sprintf("instruments[%d].symbol", i), Err: domain.ErrInvalidSymbol}
		}
	}

	return nil
}

// overrideWithEnv overrides values with environment variables when they are present.
func overrideWithEnv(cfg *Config) error {
	if port := os.Getenv("OTC_SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	} else if port := os.Getenv("MARKET_DATA_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return &domain.ConfigError{Field: "REDIS_URL", Err: err}
		}
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = opts.Addr
		cfg.Redis.Password = opts.Password
		cfg.Redis.DB = opts.DB
	}
	if addr := os.Getenv("OTC_REDIS_ADDR"); addr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("OTC_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}

	if level := os.Getenv("OTC_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("OTC_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	return nil
}
