package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrWatermarkConflict is returned when an advance would move a watermark
// backward. Under the single-writer-per-symbol rule this cannot happen; if
// it does, it indicates a coordination bug, not a data problem.
var ErrWatermarkConflict = errors.New("postgres: watermark would move backward")

// WatermarkRecord tracks, per (symbol, timeframe), the end of the last
// window fully committed to the warehouse.
type WatermarkRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol    string    `gorm:"type:text;not null;index:idx_watermark_symbol_timeframe,unique"`
	Timeframe string    `gorm:"type:varchar(10);not null;index:idx_watermark_symbol_timeframe,unique"`
	Watermark time.Time `gorm:"not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (WatermarkRecord) TableName() string {
	return "watermarks"
}

// Watermark returns the committed watermark for (symbol, timeframe).
// The second return value is false when the symbol has never committed.
func (p *PostgresClient) Watermark(ctx context.Context, symbol, timeframe string) (time.Time, bool, error) {
	var wm WatermarkRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		First(&wm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return wm.Watermark, true, nil
}

// AdvanceWatermark moves the watermark for (symbol, timeframe) forward to
// the given time, creating the row on first commit. Moving backward returns
// ErrWatermarkConflict and leaves the stored value untouched.
func (p *PostgresClient) AdvanceWatermark(ctx context.Context, symbol, timeframe string, to time.Time) error {
	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wm WatermarkRecord
		err := tx.Where("symbol = ? AND timeframe = ?", symbol, timeframe).First(&wm).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&WatermarkRecord{
				Symbol:    symbol,
				Timeframe: timeframe,
				Watermark: to,
			}).Error
		}
		if err != nil {
			return err
		}

		if wm.Watermark.After(to) {
			return fmt.Errorf("%w: %s/%s at %s, requested %s",
				ErrWatermarkConflict, symbol, timeframe,
				wm.Watermark.Format(time.RFC3339), to.Format(time.RFC3339))
		}

		return tx.Model(&wm).Update("watermark", to).Error
	})
}
