package postgres

import "time"

// BarRecord represents one normalized OHLCV row in the warehouse.
// (symbol, timeframe, ts) is the natural key; re-runs of a window upsert
// onto it, so the most recent successful write wins.
type BarRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol    string    `gorm:"type:text;not null;index:idx_bar_symbol;index:idx_bar_symbol_timeframe_ts,unique"`
	Timeframe string    `gorm:"type:varchar(10);not null;index:idx_bar_symbol_timeframe_ts,unique"`
	Ts        time.Time `gorm:"not null;index:idx_bar_symbol_timeframe_ts,unique"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	Volume float64 `gorm:"type:numeric;not null"`

	// SourceAttempt links the row back to the raw store object it came from.
	SourceAttempt string `gorm:"type:text"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (BarRecord) TableName() string {
	return "bars"
}
