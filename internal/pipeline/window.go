package pipeline

import (
	"fmt"
	"time"
)

// Window is a half-open [Start, End) fetch interval for one symbol and
// timeframe. One fetch-normalize-write cycle operates over exactly one
// window.
type Window struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
}

// Key identifies the single-flight slot a window occupies. Distinct
// timeframes of one symbol are independent streams and never contend.
func (w Window) Key() string {
	return w.Symbol + "/" + w.Timeframe
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s/%s [%s, %s)", w.Symbol, w.Timeframe,
		w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// SymbolSpec is one configured ingestion stream: fetch cadence, whether it
// is enabled, and where the watermark starts for a never-seen symbol.
type SymbolSpec struct {
	Symbol    string
	Timeframe string
	Cadence   time.Duration
	Enabled   bool
	Start     time.Time
}
