package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"otc_stream/internal/domain"
	"otc_stream/internal/engine"
	"otc_stream/internal/infra"
	"otc_stream/internal/infra/binance"
	"otc_stream/internal/infra/cache"
	"otc_stream/internal/infra/storage"
	"otc_stream/internal/infra/yahoo"
	"otc_stream/internal/server"
	"otc_stream/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Cache    *cache.RedisCache // nil when redis is disabled or unreachable
	Catalog  *domain.Catalog
	Hours    *engine.MarketHours
	Broker   *service.Broker
	Backfill *service.BackfillService
	Server   *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and opens the stores.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping OTC stream...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Tick cache is optional; the service runs without it
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.HistorySize)
		if err != nil {
			slog.Warn("⚠️ Redis unavailable, continuing without tick cache", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		} else {
			b.Cache = rc
			slog.Info("✅ Redis tick cache ready", slog.String("addr", cfg.Redis.Addr))
		}
	}

	// 5. Instruments and market hours
	b.Catalog = domain.NewCatalog()
	for _, inst := range cfg.Instruments {
		if err := b.Catalog.Put(inst); err != nil {
			slog.Warn("Skipping configured instrument", slog.String("symbol", inst.Symbol), slog.Any("error", err))
		}
	}
	b.Hours = engine.NewMarketHoursWithCalendar(cfg.Market.HolidayMIC)
	slog.Info("✅ Catalog loaded", slog.Int("instruments", len(b.Catalog.All())))

	return nil
}

// Wire builds the feeds, the broker, the backfill service and the HTTP server. Feeds live
// until ctx is cancelled.
func (b *Bootstrap) Wire(ctx context.Context) {
	cfg := b.Config

	yc := cfg.Feeds.Yahoo
	limiter := rate.NewLimiter(rate.Limit(yc.RatePerSec), yc.Burst)
	chart := yahoo.NewChartClient(yc.ChartURL, time.Duration(yc.TimeoutMS)*time.Millisecond, limiter)

	factory := &service.AdapterFactory{
		BinanceWSURL:      cfg.Feeds.Binance.WSURL,
		Chart:             chart,
		PollInterval:      time.Duration(yc.PollIntervalMS) * time.Millisecond,
		SyntheticInterval: time.Duration(cfg.Feeds.Synthetic.IntervalMS) * time.Millisecond,
	}

	bc := service.BrokerConfig{
		Repo:          b.Storage,
		CandleWidthMs: cfg.Market.CandleWidthMS,
		InboxSize:     cfg.Market.InboxSize,
		KeepCandles:   cfg.Storage.KeepCandles,
	}
	if b.Cache != nil {
		bc.Cache = b.Cache
	}
	b.Broker = service.NewBroker(ctx, b.Catalog, b.Hours, factory, bc)

	klines := binance.NewKlineClient(cfg.Feeds.Binance.RestURL)
	b.Backfill = service.NewBackfillService(b.Catalog, b.Hours, klines, chart, b.Storage, b.Broker.LastKnownPrice)

	b.Server = server.NewServer(cfg, b.Catalog, b.Broker, b.Backfill)
	slog.Info("✅ Broker and server wired")
}

// Close releases everything Initialize and Wire opened.
func (b *Bootstrap) Close() {
	if b.Broker != nil {
		b.Broker.Shutdown()
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			slog.Warn("Failed to close redis", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}
