package postgres_test

import (
	"context"
	"testing"
	"time"

	"stockpipe/config"
	"stockpipe/pkg/storage/postgres"
)

// testClient connects to a local dev database, skipping the test when no
// server is reachable so the integration tests don't fail on CI boxes
// without Postgres.
func testClient(t *testing.T) *postgres.PostgresClient {
	t.Helper()

	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "stockpipe_test",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	client, err := postgres.Initialize(cfg, "dev", true)
	if err != nil {
		t.Skipf("skipping: postgres not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !client.IsHealthy(ctx) {
		client.Close()
		t.Skip("skipping: postgres not healthy")
	}

	t.Cleanup(func() { client.Close() })
	return client
}

// go test -v --run TestUpsertBarsIdempotent
func TestUpsertBarsIdempotent(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Hour)
	batch := []postgres.BarRecord{
		{Symbol: "AAPL", Timeframe: "1h", Ts: ts, Open: 187.1, High: 188.4, Low: 186.9, Close: 188.0, Volume: 1200, SourceAttempt: "a1"},
		{Symbol: "AAPL", Timeframe: "1h", Ts: ts.Add(time.Hour), Open: 188.0, High: 189.2, Low: 187.5, Close: 189.0, Volume: 900, SourceAttempt: "a1"},
	}

	first, err := client.UpsertBars(ctx, batch)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Written != 2 {
		t.Errorf("expected 2 written, got %d", first.Written)
	}

	// Re-running the same window must not change warehouse content.
	if _, err := client.UpsertBars(ctx, batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	bars, err := client.GetBars(ctx, "AAPL", "1h", ts, ts.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(bars) != 2 {
		t.Errorf("expected 2 bars after re-run, got %d", len(bars))
	}
}

// go test -v --run TestUpsertBarsLastWriteWinsInBatch
func TestUpsertBarsLastWriteWinsInBatch(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Hour).Add(100 * time.Hour)
	batch := []postgres.BarRecord{
		{Symbol: "MSFT", Timeframe: "1h", Ts: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, SourceAttempt: "a1"},
		{Symbol: "MSFT", Timeframe: "1h", Ts: ts, Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 20, SourceAttempt: "a2"},
	}

	res, err := client.UpsertBars(ctx, batch)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Written != 1 || res.Skipped != 1 {
		t.Errorf("expected written=1 skipped=1, got %+v", res)
	}

	bars, err := client.GetBars(ctx, "MSFT", "1h", ts, ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 2.5 {
		t.Errorf("expected last entry to win, got %+v", bars)
	}
}

// go test -v --run TestWatermarkNeverMovesBackward
func TestWatermarkNeverMovesBackward(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if err := client.AdvanceWatermark(ctx, "GOOG", "1d", day2); err != nil {
		t.Fatalf("advance: %v", err)
	}

	err := client.AdvanceWatermark(ctx, "GOOG", "1d", day1)
	if err == nil {
		t.Fatal("expected conflict when moving watermark backward")
	}

	wm, ok, err := client.Watermark(ctx, "GOOG", "1d")
	if err != nil || !ok {
		t.Fatalf("watermark: ok=%v err=%v", ok, err)
	}
	if !wm.Equal(day2) {
		t.Errorf("watermark moved: %v", wm)
	}
}

// go test -v --run TestRunRecordLifecycle
func TestRunRecordLifecycle(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	windowStart := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	for attempt := 1; attempt <= 2; attempt++ {
		state := postgres.RunFailed
		final := false
		if attempt == 2 {
			state = postgres.RunSucceeded
			final = true
		}
		rec := &postgres.RunRecord{
			Symbol:      "TSLA",
			Timeframe:   "1d",
			WindowStart: windowStart,
			WindowEnd:   windowStart.Add(24 * time.Hour),
			Attempt:     attempt,
			State:       state,
			Final:       final,
			StartedAt:   time.Now().UTC(),
			FinishedAt:  time.Now().UTC(),
		}
		if err := client.AppendRun(ctx, rec); err != nil {
			t.Fatalf("append run %d: %v", attempt, err)
		}
	}

	runs, err := client.RunsForWindow(ctx, "TSLA", "1d", windowStart)
	if err != nil {
		t.Fatalf("runs for window: %v", err)
	}
	if len(runs) < 2 {
		t.Fatalf("expected at least 2 runs, got %d", len(runs))
	}
	last := runs[len(runs)-1]
	if last.State != postgres.RunSucceeded || !last.Final {
		t.Errorf("unexpected final run: %+v", last)
	}
}
