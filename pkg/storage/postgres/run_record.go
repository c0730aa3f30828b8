package postgres

import (
	"context"
	"time"
)

// Run states. One RunRecord is appended per execution attempt; it is closed
// before it is written and never updated afterwards.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RunRecord is the audit row for one (symbol, window) execution attempt.
type RunRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol    string `gorm:"type:text;not null;index:idx_run_symbol_timeframe"`
	Timeframe string `gorm:"type:varchar(10);not null;index:idx_run_symbol_timeframe"`

	WindowStart time.Time `gorm:"not null;index:idx_run_window_start"`
	WindowEnd   time.Time `gorm:"not null"`

	Attempt int    `gorm:"not null"`
	State   string `gorm:"type:varchar(10);not null"`
	// Final marks the attempt that put the window into a terminal state:
	// the successful one, or the one that exhausted the retry budget.
	Final bool   `gorm:"not null"`
	Error string `gorm:"type:text"`

	RowsWritten int `gorm:"not null"`
	RowsSkipped int `gorm:"not null"`
	Rejects     int `gorm:"not null"`

	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null"`
}

// TableName overrides the default table name for GORM.
func (RunRecord) TableName() string {
	return "run_records"
}

// AppendRun persists a closed run record.
func (p *PostgresClient) AppendRun(ctx context.Context, rec *RunRecord) error {
	return p.DB.WithContext(ctx).Create(rec).Error
}

// RunsForWindow returns all attempts recorded for a (symbol, timeframe,
// window start), oldest first.
func (p *PostgresClient) RunsForWindow(ctx context.Context, symbol, timeframe string,
	windowStart time.Time) ([]RunRecord, error) {
	var runs []RunRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND window_start = ?", symbol, timeframe, windowStart).
		Order("attempt ASC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
