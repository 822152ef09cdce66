package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"otc_stream/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists the bounded closed-candle window and price anchors.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path. An empty path selects
// the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.CandleRecord{}, &domain.PriceAnchor{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "OTCStream", "data", "otc_stream.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Candle Operations
// ======================================================================================

// SaveCandle creates or replaces the candle at (symbol, openTime).
func (s *Storage) SaveCandle(candle domain.Candle) error {
	return s.db.Save(domain.NewCandleRecord(candle)).Error
}

// RecentCandles returns the newest limit candles for symbol, oldest first.
func (s *Storage) RecentCandles(symbol string, limit int) ([]domain.Candle, error) {
	var records []domain.CandleRecord
	err := s.db.Where("symbol = ?", symbol).
		Order("open_time_ms DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, len(records))
	for i, r := range records {
		candles[len(records)-1-i] = r.ToCandle()
	}
	return candles, nil
}

// PruneCandles keeps only the newest keep candles for symbol.
func (s *Storage) PruneCandles(symbol string, keep int) error {
	if keep <= 0 {
		return s.db.Where("symbol = ?", symbol).Delete(&domain.CandleRecord{}).Error
	}

	var cutoff domain.CandleRecord
	err := s.db.Where("symbol = ?", symbol).
		Order("open_time_ms DESC").
		Offset(keep - 1).
		Limit(1).
		Take(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // Fewer than keep rows
	}
	if err != nil {
		return err
	}
	return s.db.Where("symbol = ? AND open_time_ms < ?", symbol, cutoff.OpenTimeMs).
		Delete(&domain.CandleRecord{}).Error
}

// ======================================================================================
// Anchor Operations
// ======================================================================================

// SaveAnchor records the last known price for symbol.
func (s *Storage) SaveAnchor(symbol string, price float64) error {
	return s.db.Save(&domain.PriceAnchor{Symbol: symbol, Price: price}).Error
}

// GetAnchor retrieves the last known price for symbol.
func (s *Storage) GetAnchor(symbol string) (*domain.PriceAnchor, error) {
	var anchor domain.PriceAnchor
	err := s.db.First(&anchor, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &anchor, nil
}
