// Package pipeline contains the coordinator: it decides which (symbol,
// window) pairs are due, runs fetch-normalize-write cycles with bounded
// retry, and advances per-symbol watermarks. The watermark is the only
// mutable shared state; the coordinator is its single writer, guarded by
// per-symbol single-flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stockpipe/internal/normalize"
	"stockpipe/pkg/provider"
	"stockpipe/pkg/rawstore"
	"stockpipe/pkg/storage/postgres"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Fetcher obtains a raw candle payload for a (symbol, window) from the
// upstream provider.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]byte, error)
}

// Warehouse durably upserts normalized rows, one atomic batch per window.
type Warehouse interface {
	UpsertBars(ctx context.Context, bars []postgres.BarRecord) (postgres.WriteResult, error)
}

// WatermarkStore tracks the last fully committed window end per
// (symbol, timeframe).
type WatermarkStore interface {
	Watermark(ctx context.Context, symbol, timeframe string) (time.Time, bool, error)
	AdvanceWatermark(ctx context.Context, symbol, timeframe string, to time.Time) error
}

// RunLog records closed execution attempts.
type RunLog interface {
	AppendRun(ctx context.Context, rec *postgres.RunRecord) error
}

// GapPolicy decides what happens to a window that exhausts its retries.
type GapPolicy string

const (
	// GapBlock parks the symbol until an operator resolves the failed
	// window, preserving contiguity.
	GapBlock GapPolicy = "block"
	// GapSkip records the failure and advances the watermark past the
	// window, favoring liveness over completeness.
	GapSkip GapPolicy = "skip"
)

// Options configures a Coordinator.
type Options struct {
	Symbols      []SymbolSpec
	Workers      int
	Retry        RetryPolicy
	GapPolicy    GapPolicy
	CycleTimeout time.Duration
}

// Coordinator schedules and runs ingestion cycles.
type Coordinator struct {
	fetcher   Fetcher
	raw       rawstore.Store
	warehouse Warehouse
	marks     WatermarkStore
	runs      RunLog
	logger    *zap.Logger

	symbols      []SymbolSpec
	retry        RetryPolicy
	gap          GapPolicy
	cycleTimeout time.Duration

	cron *cron.Cron
	sem  chan struct{} // bounds concurrent cycles across symbols
	wg   sync.WaitGroup
	ctx  context.Context

	mu       sync.Mutex
	inflight map[string]bool // single-flight per (symbol, timeframe)
	blocked  map[string]bool // windows parked after retry exhaustion under GapBlock

	nowFn func() time.Time
}

func New(fetcher Fetcher, raw rawstore.Store, warehouse Warehouse,
	marks WatermarkStore, runs RunLog, logger *zap.Logger, opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 5
	}
	cycleTimeout := opts.CycleTimeout
	if cycleTimeout <= 0 {
		cycleTimeout = 2 * time.Minute
	}
	gap := opts.GapPolicy
	if gap == "" {
		gap = GapBlock
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 2 * time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = time.Minute
	}

	return &Coordinator{
		fetcher:      fetcher,
		raw:          raw,
		warehouse:    warehouse,
		marks:        marks,
		runs:         runs,
		logger:       logger,
		symbols:      opts.Symbols,
		retry:        retry,
		gap:          gap,
		cycleTimeout: cycleTimeout,
		cron:         cron.New(cron.WithSeconds()),
		sem:          make(chan struct{}, workers),
		ctx:          context.Background(),
		inflight:     make(map[string]bool),
		blocked:      make(map[string]bool),
		nowFn:        time.Now,
	}
}

// Start registers the scheduler tick and begins running cycles. ctx bounds
// every cycle launched from here on; cancelling it initiates shutdown.
func (c *Coordinator) Start(ctx context.Context, tickSpec string) error {
	c.ctx = ctx
	if _, err := c.cron.AddFunc(tickSpec, c.Tick); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	c.cron.Start()
	c.logger.Info("coordinator started",
		zap.String("tick", tickSpec),
		zap.Int("symbols", len(c.symbols)),
		zap.String("gap_policy", string(c.gap)))
	return nil
}

// Stop halts scheduling and waits for in-flight cycles to finish.
func (c *Coordinator) Stop() {
	c.cron.Stop()
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

// Tick launches a cycle for every due window.
func (c *Coordinator) Tick() {
	due, err := c.ScheduleDue(c.ctx, c.nowFn())
	if err != nil {
		c.logger.Error("schedule due windows", zap.Error(err))
		return
	}

	for _, w := range due {
		w := w // capture
		c.setInflight(w.Key())
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.sem <- struct{}{}
			defer func() { <-c.sem }()
			c.executeWindow(c.ctx, w)
		}()
	}
}

// ScheduleDue computes, for each enabled symbol, the next due window
// [watermark, min(watermark+cadence, now)). Symbols with an in-flight or
// parked window are excluded; at most one window per symbol is returned per
// call, so a backlog drains across successive ticks in order.
func (c *Coordinator) ScheduleDue(ctx context.Context, now time.Time) ([]Window, error) {
	var due []Window
	for _, s := range c.symbols {
		if !s.Enabled {
			continue
		}
		key := s.Symbol + "/" + s.Timeframe
		c.mu.Lock()
		busy := c.inflight[key] || c.blocked[key]
		c.mu.Unlock()
		if busy {
			continue
		}

		wm, ok, err := c.marks.Watermark(ctx, s.Symbol, s.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("read watermark %s: %w", key, err)
		}
		if !ok {
			wm = s.Start
		}

		end := wm.Add(s.Cadence)
		if end.After(now) {
			end = now
		}
		if !end.After(wm) {
			continue
		}

		due = append(due, Window{
			Symbol:    s.Symbol,
			Timeframe: s.Timeframe,
			Start:     wm,
			End:       end,
		})
	}
	return due, nil
}

// Blocked returns the single-flight keys currently parked by GapBlock,
// for operator visibility.
func (c *Coordinator) Blocked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.blocked))
	for k := range c.blocked {
		keys = append(keys, k)
	}
	return keys
}

// Unblock releases a parked key after manual resolution.
func (c *Coordinator) Unblock(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, key)
}

func (c *Coordinator) setInflight(key string) {
	c.mu.Lock()
	c.inflight[key] = true
	c.mu.Unlock()
}

func (c *Coordinator) clearInflight(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

func (c *Coordinator) block(key string) {
	c.mu.Lock()
	c.blocked[key] = true
	c.mu.Unlock()
}

type cycleStats struct {
	written int
	skipped int
	rejects int
}

// executeWindow drives one window to a terminal state: success, exhausted
// retries, or shutdown. The watermark advances only on success (or past a
// skipped window under GapSkip) and never partially.
func (c *Coordinator) executeWindow(ctx context.Context, w Window) {
	defer c.clearInflight(w.Key())

	for attempt := 1; ; attempt++ {
		started := time.Now()
		cctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
		stats, err := c.runOnce(cctx, w)
		cancel()

		if err == nil {
			c.appendRun(ctx, w, attempt, postgres.RunSucceeded, true, nil, stats, started)
			if err := c.marks.AdvanceWatermark(ctx, w.Symbol, w.Timeframe, w.End); err != nil {
				// Should be impossible under the single-writer rule.
				c.logger.Error("watermark advance refused, parking symbol; coordination bug",
					zap.String("window", w.String()), zap.Error(err))
				c.block(w.Key())
				return
			}
			c.logger.Info("window committed",
				zap.String("window", w.String()),
				zap.Int("attempt", attempt),
				zap.Int("written", stats.written),
				zap.Int("skipped", stats.skipped),
				zap.Int("rejects", stats.rejects))
			return
		}

		state := postgres.RunFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			state = postgres.RunCancelled
		}
		permanent := provider.IsPermanent(err)
		final := permanent || attempt >= c.retry.MaxAttempts
		c.appendRun(ctx, w, attempt, state, final, err, stats, started)

		if final {
			// Surfaced for intervention, never silently dropped.
			c.logger.Error("window failed permanently",
				zap.String("window", w.String()),
				zap.Int("attempts", attempt),
				zap.Bool("permanent_error", permanent),
				zap.String("gap_policy", string(c.gap)),
				zap.Error(err))
			if c.gap == GapSkip {
				if err := c.marks.AdvanceWatermark(ctx, w.Symbol, w.Timeframe, w.End); err != nil {
					c.logger.Error("failed to skip past window", zap.String("window", w.String()), zap.Error(err))
					c.block(w.Key())
					return
				}
				c.logger.Warn("skipped failed window, gap recorded", zap.String("window", w.String()))
			} else {
				c.block(w.Key())
			}
			return
		}

		delay := c.retry.Delay(attempt)
		c.logger.Warn("cycle failed, retrying",
			zap.String("window", w.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutdown mid-backoff. The window stays uncommitted and is
			// rescheduled on the next start.
			return
		}
	}
}

// runOnce performs a single fetch-normalize-write attempt for a window.
func (c *Coordinator) runOnce(ctx context.Context, w Window) (cycleStats, error) {
	payload, err := c.fetcher.FetchCandles(ctx, w.Symbol, w.Timeframe, w.Start, w.End)
	if err != nil {
		return cycleStats{}, fmt.Errorf("fetch: %w", err)
	}

	rec := rawstore.Record{
		Symbol:      w.Symbol,
		Timeframe:   w.Timeframe,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		AttemptID:   uuid.NewString(),
		FetchedAt:   time.Now().UTC(),
		Payload:     payload,
	}
	if _, err := c.raw.Put(ctx, rec); err != nil {
		return cycleStats{}, fmt.Errorf("stage raw record: %w", err)
	}

	// Normalize from the staged copy, not the in-memory payload: the raw
	// store is the source of truth, and the newest attempt wins.
	refs, err := c.raw.List(ctx, w.Symbol, w.Timeframe, w.Start, w.End)
	if err != nil {
		return cycleStats{}, fmt.Errorf("list raw records: %w", err)
	}
	if len(refs) == 0 {
		return cycleStats{}, fmt.Errorf("no staged attempts for %s", w)
	}
	staged, err := c.raw.Get(ctx, refs[len(refs)-1])
	if err != nil {
		return cycleStats{}, fmt.Errorf("load staged record: %w", err)
	}

	norm, err := normalize.Normalize(staged)
	if err != nil {
		return cycleStats{}, fmt.Errorf("normalize: %w", err)
	}
	for _, rej := range norm.Rejects {
		c.logger.Warn("rejected entry",
			zap.String("window", w.String()),
			zap.String("reason", rej.Reason))
	}

	res, err := c.warehouse.UpsertBars(ctx, norm.Rows)
	if err != nil {
		return cycleStats{}, fmt.Errorf("warehouse write: %w", err)
	}

	return cycleStats{written: res.Written, skipped: res.Skipped, rejects: len(norm.Rejects)}, nil
}

func (c *Coordinator) appendRun(ctx context.Context, w Window, attempt int,
	state string, final bool, runErr error, stats cycleStats, started time.Time) {
	rec := &postgres.RunRecord{
		Symbol:      w.Symbol,
		Timeframe:   w.Timeframe,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		Attempt:     attempt,
		State:       state,
		Final:       final,
		RowsWritten: stats.written,
		RowsSkipped: stats.skipped,
		Rejects:     stats.rejects,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := c.runs.AppendRun(ctx, rec); err != nil {
		c.logger.Error("failed to record run", zap.String("window", w.String()), zap.Error(err))
	}
}
