package postgres

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WriteResult reports the outcome of one batch upsert.
type WriteResult struct {
	Written int // rows sent to the warehouse
	Skipped int // rows dropped in-batch by last-write-wins dedup
}

// UpsertBars commits a window's batch in a single transaction: either every
// row becomes visible or none does. Conflicts on (symbol, timeframe, ts)
// update in place, so re-running a window is idempotent.
func (p *PostgresClient) UpsertBars(ctx context.Context, bars []BarRecord) (WriteResult, error) {
	if len(bars) == 0 {
		return WriteResult{}, nil
	}

	deduped := dedupeLastWriteWins(bars)

	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "symbol"},
				{Name: "timeframe"},
				{Name: "ts"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "volume", "source_attempt",
			}),
		}).Create(&deduped).Error
	})
	if err != nil {
		return WriteResult{}, err
	}

	return WriteResult{
		Written: len(deduped),
		Skipped: len(bars) - len(deduped),
	}, nil
}

// dedupeLastWriteWins collapses duplicate keys within one batch, keeping the
// entry that appears last, and returns rows ordered by (symbol, timeframe, ts).
// Postgres rejects a multi-row INSERT ... ON CONFLICT that touches the same
// key twice, so in-batch conflicts have to be resolved here.
func dedupeLastWriteWins(bars []BarRecord) []BarRecord {
	type key struct {
		symbol    string
		timeframe string
		ts        time.Time
	}

	index := make(map[key]int, len(bars))
	out := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		k := key{b.Symbol, b.Timeframe, b.Ts}
		if i, seen := index[k]; seen {
			out[i] = b
			continue
		}
		index[k] = len(out)
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Timeframe != out[j].Timeframe {
			return out[i].Timeframe < out[j].Timeframe
		}
		return out[i].Ts.Before(out[j].Ts)
	})
	return out
}

// GetBars returns warehouse rows for a symbol and timeframe over [from, to),
// ordered by timestamp ascending.
func (p *PostgresClient) GetBars(ctx context.Context, symbol, timeframe string,
	from, to time.Time) ([]BarRecord, error) {
	var bars []BarRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND ts >= ? AND ts < ?", symbol, timeframe, from, to).
		Order("ts ASC").
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	return bars, nil
}
