// Package rawstore is the append-only staging area for fetched payloads.
// Every fetch attempt lands as its own immutable object; superseded attempts
// are kept as an audit trail, never deleted or overwritten.
package rawstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no object exists at the given ref.
var ErrNotFound = errors.New("rawstore: record not found")

// Record is one immutable fetched payload, addressed by
// (symbol, timeframe, window, attempt).
type Record struct {
	Symbol      string
	Timeframe   string
	WindowStart time.Time
	WindowEnd   time.Time
	AttemptID   string
	FetchedAt   time.Time
	Payload     []byte
}

// Ref addresses one staged record.
type Ref struct {
	Key string
}

// Store is the contract the pipeline needs from object storage:
// put/get/list with read-after-write consistency per key.
type Store interface {
	// Put stages a record. Distinct attempts map to distinct keys, so a
	// retry never overwrites an earlier attempt.
	Put(ctx context.Context, rec Record) (Ref, error)
	// Get returns the record at ref, or ErrNotFound.
	Get(ctx context.Context, ref Ref) (Record, error)
	// List returns refs for all attempts staged for (symbol, timeframe,
	// window), ordered by fetch time ascending.
	List(ctx context.Context, symbol, timeframe string, windowStart, windowEnd time.Time) ([]Ref, error)
}

// Key layout:
//
//	{symbol}/{timeframe}/{start unix}_{end unix}/{fetchedAt nanos, zero padded}_{attempt id}.json
//
// The zero-padded fetch timestamp makes lexicographic key order equal
// chronological attempt order, which is what S3 ListObjectsV2 returns.
func (r Record) Key() string {
	return fmt.Sprintf("%s%020d_%s.json", r.prefix(), r.FetchedAt.UnixNano(), r.AttemptID)
}

func (r Record) prefix() string {
	return windowPrefix(r.Symbol, r.Timeframe, r.WindowStart, r.WindowEnd)
}

func windowPrefix(symbol, timeframe string, start, end time.Time) string {
	return fmt.Sprintf("%s/%s/%d_%d/", symbol, timeframe, start.Unix(), end.Unix())
}

// parseKey recovers record addressing fields from an object key.
func parseKey(key string) (Record, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return Record{}, fmt.Errorf("rawstore: malformed key %q", key)
	}

	var rec Record
	rec.Symbol = parts[0]
	rec.Timeframe = parts[1]

	window := strings.SplitN(parts[2], "_", 2)
	if len(window) != 2 {
		return Record{}, fmt.Errorf("rawstore: malformed window in key %q", key)
	}
	startSec, err := strconv.ParseInt(window[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("rawstore: malformed window start in key %q: %w", key, err)
	}
	endSec, err := strconv.ParseInt(window[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("rawstore: malformed window end in key %q: %w", key, err)
	}
	rec.WindowStart = time.Unix(startSec, 0).UTC()
	rec.WindowEnd = time.Unix(endSec, 0).UTC()

	name := strings.TrimSuffix(parts[3], ".json")
	attempt := strings.SplitN(name, "_", 2)
	if len(attempt) != 2 {
		return Record{}, fmt.Errorf("rawstore: malformed attempt in key %q", key)
	}
	nanos, err := strconv.ParseInt(attempt[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("rawstore: malformed fetch time in key %q: %w", key, err)
	}
	rec.FetchedAt = time.Unix(0, nanos).UTC()
	rec.AttemptID = attempt[1]

	return rec, nil
}
