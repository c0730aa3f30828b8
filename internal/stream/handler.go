// Package stream lands live quote messages from the provider WebSocket in
// the raw store. Live ticks are audit capture only; they are never promoted
// to the warehouse.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"stockpipe/pkg/rawstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LiveTimeframe is the raw store timeframe label for streamed ticks.
const LiveTimeframe = "live"

// QuoteMessage represents a WebSocket message from the provider containing
// live quote data.
type QuoteMessage struct {
	Topic string          `json:"topic"` // e.g. "quote.AAPL"
	Data  json.RawMessage `json:"data"`  // provider quote payload, stored as-is
	Ts    int64           `json:"ts"`    // message timestamp (milliseconds since epoch)
}

// MakeQuoteHandler returns a function that stages incoming quote messages
// in the raw store. Each message becomes its own immutable record, bucketed
// into one-minute windows so attempts group naturally per minute.
func MakeQuoteHandler(logger *zap.Logger, store rawstore.Store) func(msg []byte) {
	return func(msg []byte) {
		var parsed QuoteMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to parse stream message", zap.Error(err))
			return
		}
		if !isQuoteTopic(parsed.Topic) {
			return // Ignore non-quote messages (e.g., subscription responses)
		}
		symbol := extractSymbolFromTopic(parsed.Topic)
		if symbol == "" {
			logger.Warn("quote message with malformed topic", zap.String("topic", parsed.Topic))
			return
		}

		ts := time.UnixMilli(parsed.Ts).UTC()
		if parsed.Ts == 0 {
			ts = time.Now().UTC()
		}
		windowStart := ts.Truncate(time.Minute)

		rec := rawstore.Record{
			Symbol:      symbol,
			Timeframe:   LiveTimeframe,
			WindowStart: windowStart,
			WindowEnd:   windowStart.Add(time.Minute),
			AttemptID:   uuid.NewString(),
			FetchedAt:   ts,
			Payload:     msg,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := store.Put(ctx, rec); err != nil {
			logger.Warn("failed to stage live quote",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// isQuoteTopic returns true if the topic string indicates a quote stream.
func isQuoteTopic(topic string) bool {
	return strings.HasPrefix(topic, "quote.")
}

// extractSymbolFromTopic parses the symbol from a topic like "quote.AAPL".
func extractSymbolFromTopic(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}
