// Package normalize turns raw provider payloads into warehouse rows.
// Individual bad entries are collected as rejects and never abort a batch;
// only a payload that cannot be parsed at all fails the cycle.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"stockpipe/pkg/provider"
	"stockpipe/pkg/rawstore"
	"stockpipe/pkg/storage/postgres"
)

// supportedSchema is the payload schema version this normalizer understands.
// A schema of 0 in the payload reads as version 1 for older providers that
// omit the field.
const supportedSchema = 1

// Reject describes one entry dropped during normalization.
type Reject struct {
	Entry  []string
	Reason string
}

// Result carries the accepted rows and the per-entry rejects of one payload.
type Result struct {
	Rows    []postgres.BarRecord
	Rejects []Reject
}

// Normalize validates and reshapes a staged raw record into warehouse rows.
// It returns an error only when the payload is structurally unparseable;
// that error aborts the cycle and is retryable.
func Normalize(rec rawstore.Record) (Result, error) {
	var env provider.Envelope
	if err := json.Unmarshal(rec.Payload, &env); err != nil {
		return Result{}, fmt.Errorf("parse payload envelope: %w", err)
	}

	var candles provider.CandlesResult
	if err := json.Unmarshal(env.Result, &candles); err != nil {
		return Result{}, fmt.Errorf("parse candles result: %w", err)
	}
	if candles.Schema != 0 && candles.Schema != supportedSchema {
		return Result{}, fmt.Errorf("unsupported payload schema %d", candles.Schema)
	}

	var res Result
	for _, row := range candles.List {
		bar, reason := parseRow(rec, row)
		if reason != "" {
			res.Rejects = append(res.Rejects, Reject{Entry: row, Reason: reason})
			continue
		}
		res.Rows = append(res.Rows, bar)
	}
	return res, nil
}

// parseRow converts one positional entry [startMillis, open, high, low,
// close, volume]. A non-empty reason means the entry is rejected.
func parseRow(rec rawstore.Record, row []string) (postgres.BarRecord, string) {
	if len(row) < 6 {
		return postgres.BarRecord{}, fmt.Sprintf("incomplete row: %d fields", len(row))
	}

	millis, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return postgres.BarRecord{}, "unparseable timestamp: " + row[0]
	}
	ts := time.UnixMilli(millis).UTC()
	if ts.Before(rec.WindowStart) || !ts.Before(rec.WindowEnd) {
		return postgres.BarRecord{}, fmt.Sprintf("timestamp %s outside window [%s, %s)",
			ts.Format(time.RFC3339), rec.WindowStart.Format(time.RFC3339), rec.WindowEnd.Format(time.RFC3339))
	}

	fields := make([]float64, 5)
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return postgres.BarRecord{}, "unparseable " + names[i] + ": " + row[i+1]
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return postgres.BarRecord{}, "non-finite " + names[i]
		}
		fields[i] = v
	}
	open, high, low, closePrice, volume := fields[0], fields[1], fields[2], fields[3], fields[4]

	if low > open || low > closePrice || open > high || closePrice > high || low > high {
		return postgres.BarRecord{}, fmt.Sprintf("price range violated: o=%g h=%g l=%g c=%g", open, high, low, closePrice)
	}
	if volume < 0 {
		return postgres.BarRecord{}, fmt.Sprintf("negative volume: %g", volume)
	}

	return postgres.BarRecord{
		Symbol:        rec.Symbol,
		Timeframe:     rec.Timeframe,
		Ts:            ts,
		Open:          open,
		High:          high,
		Low:           low,
		Close:         closePrice,
		Volume:        volume,
		SourceAttempt: rec.AttemptID,
	}, ""
}
