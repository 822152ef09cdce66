package domain

import (
	"time"
)

// CandleRecord is the persisted form of a closed candle.
type CandleRecord struct {
	Symbol      string    `gorm:"primaryKey" json:"symbol"`
	OpenTimeMs  int64     `gorm:"primaryKey;autoIncrement:false" json:"open_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	IsSynthetic bool      `json:"is_otc" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToCandle converts the record back to a domain candle.
func (r CandleRecord) ToCandle() Candle {
	return Candle{
		Symbol:      r.Symbol,
		OpenTimeMs:  r.OpenTimeMs,
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		IsSynthetic: r.IsSynthetic,
	}
}

// NewCandleRecord builds a record from a candle.
func NewCandleRecord(c Candle) *CandleRecord {
	return &CandleRecord{
		Symbol:      c.Symbol,
		OpenTimeMs:  c.OpenTimeMs,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		IsSynthetic: c.IsSynthetic,
	}
}

// PriceAnchor is the last price seen for a symbol; synthetic feeds restart from it.
type PriceAnchor struct {
	Symbol    string    `gorm:"primaryKey" json:"symbol"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}
