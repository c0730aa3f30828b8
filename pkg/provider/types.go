package provider

import "encoding/json"

// Envelope is the generic response wrapper returned by the market data API.
type Envelope struct {
	Code    int             `json:"code"`    // 0 means success; non-zero indicates an API error code
	Message string          `json:"message"` // Human-readable message describing the result or error
	Result  json.RawMessage `json:"result"`  // Delay decoding // Main response payload (varies per endpoint)
	Time    int64           `json:"time"`    // Server timestamp (in milliseconds since epoch)
}

// CandlesResult is the candle payload inside the envelope. Rows are
// positional string arrays: [startMillis, open, high, low, close, volume].
type CandlesResult struct {
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Schema    int        `json:"schema"` // payload schema version; 0 reads as v1
	List      [][]string `json:"list"`
}

// API error codes that indicate the request itself is wrong and a retry
// cannot help.
const (
	codeUnknownSymbol = 10001
	codeBadRequest    = 10002
	codeBadAPIKey     = 10003
)

func permanentCode(code int) bool {
	switch code {
	case codeUnknownSymbol, codeBadRequest, codeBadAPIKey:
		return true
	}
	return false
}
