package normalize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"stockpipe/pkg/rawstore"
)

func payloadWithRows(rows ...string) []byte {
	return []byte(fmt.Sprintf(
		`{"code":0,"message":"OK","result":{"symbol":"AAPL","timeframe":"1d","schema":1,"list":[%s]}}`,
		strings.Join(rows, ","),
	))
}

func stagedRecord(payload []byte) rawstore.Record {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return rawstore.Record{
		Symbol:      "AAPL",
		Timeframe:   "1d",
		WindowStart: start,
		WindowEnd:   start.Add(24 * time.Hour),
		AttemptID:   "attempt-1",
		FetchedAt:   start.Add(25 * time.Hour),
		Payload:     payload,
	}
}

func inWindowMillis(offset time.Duration) int64 {
	return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Add(offset).UnixMilli()
}

// go test -v --run TestNormalizeOneBadRowAmongValid
func TestNormalizeOneBadRowAmongValid(t *testing.T) {
	rows := []string{
		fmt.Sprintf(`["%d","187.15","188.44","183.89","185.64","82488700"]`, inWindowMillis(0)),
		fmt.Sprintf(`["%d","not-a-number","188.44","183.89","185.64","82488700"]`, inWindowMillis(time.Hour)),
		fmt.Sprintf(`["%d","186.00","187.50","185.10","187.00","5120100"]`, inWindowMillis(2*time.Hour)),
	}

	res, err := Normalize(stagedRecord(payloadWithRows(rows...)))
	if err != nil {
		t.Fatalf("one bad entry must not abort the batch: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("expected 2 accepted rows, got %d", len(res.Rows))
	}
	if len(res.Rejects) != 1 {
		t.Fatalf("expected exactly 1 reject, got %d", len(res.Rejects))
	}
	if !strings.Contains(res.Rejects[0].Reason, "unparseable open") {
		t.Errorf("unexpected reject reason: %s", res.Rejects[0].Reason)
	}
}

// go test -v --run TestNormalizeStructuralFailure
func TestNormalizeStructuralFailure(t *testing.T) {
	rec := stagedRecord([]byte("<html>definitely not json</html>"))
	if _, err := Normalize(rec); err == nil {
		t.Fatal("expected error for unparseable payload")
	}
}

// go test -v --run TestNormalizeUnsupportedSchema
func TestNormalizeUnsupportedSchema(t *testing.T) {
	payload := []byte(`{"code":0,"result":{"symbol":"AAPL","timeframe":"1d","schema":7,"list":[]}}`)
	if _, err := Normalize(stagedRecord(payload)); err == nil {
		t.Fatal("expected error for unknown schema version")
	}
}

// go test -v --run TestNormalizeRejectsOutOfWindowTimestamp
func TestNormalizeRejectsOutOfWindowTimestamp(t *testing.T) {
	beforeWindow := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	atWindowEnd := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC).UnixMilli()
	rows := []string{
		fmt.Sprintf(`["%d","1","2","0.5","1.5","100"]`, beforeWindow),
		fmt.Sprintf(`["%d","1","2","0.5","1.5","100"]`, atWindowEnd), // end is exclusive
		fmt.Sprintf(`["%d","1","2","0.5","1.5","100"]`, inWindowMillis(time.Hour)),
	}

	res, err := Normalize(stagedRecord(payloadWithRows(rows...)))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Errorf("expected 1 accepted row, got %d", len(res.Rows))
	}
	if len(res.Rejects) != 2 {
		t.Errorf("expected 2 rejects, got %d", len(res.Rejects))
	}
}

// go test -v --run TestNormalizeRejectsRangeViolations
func TestNormalizeRejectsRangeViolations(t *testing.T) {
	rows := []string{
		// low above open
		fmt.Sprintf(`["%d","1.0","2.0","1.5","1.8","100"]`, inWindowMillis(0)),
		// close above high
		fmt.Sprintf(`["%d","1.0","2.0","0.5","2.5","100"]`, inWindowMillis(time.Hour)),
		// negative volume
		fmt.Sprintf(`["%d","1.0","2.0","0.5","1.5","-3"]`, inWindowMillis(2*time.Hour)),
		// short row
		fmt.Sprintf(`["%d","1.0","2.0"]`, inWindowMillis(3*time.Hour)),
	}

	res, err := Normalize(stagedRecord(payloadWithRows(rows...)))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("expected 0 accepted rows, got %d", len(res.Rows))
	}
	if len(res.Rejects) != 4 {
		t.Errorf("expected 4 rejects, got %d", len(res.Rejects))
	}
}

// go test -v --run TestNormalizeCarriesAddressing
func TestNormalizeCarriesAddressing(t *testing.T) {
	rows := []string{
		fmt.Sprintf(`["%d","187.15","188.44","183.89","185.64","82488700"]`, inWindowMillis(0)),
	}

	res, err := Normalize(stagedRecord(payloadWithRows(rows...)))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	row := res.Rows[0]
	if row.Symbol != "AAPL" || row.Timeframe != "1d" || row.SourceAttempt != "attempt-1" {
		t.Errorf("addressing fields not carried: %+v", row)
	}
}
