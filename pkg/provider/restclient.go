package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RESTClient fetches candle payloads from the upstream market data API.
// Payloads are returned as opaque bytes; parsing and validation happen
// downstream in the normalizer so the raw store keeps exactly what the
// provider sent.
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchCandles requests OHLCV rows for symbol over the half-open interval
// [start, end). On success it returns the raw response body. Failures are
// classified transient or permanent via *Error.
func (c *RESTClient) FetchCandles(ctx context.Context, symbol, timeframe string,
	start, end time.Time) ([]byte, error) {
	endpoint := fmt.Sprintf(
		"%s/v1/market/candles?symbol=%s&timeframe=%s&start=%d&end=%d",
		c.baseURL,
		url.QueryEscape(symbol),
		url.QueryEscape(timeframe),
		start.UnixMilli(),
		end.UnixMilli(),
	)

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: "fetch_candles", Symbol: symbol, Class: Permanent, Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request never completed: timeouts, resets, DNS. All retryable.
		return nil, &Error{Op: "fetch_candles", Symbol: symbol, Class: Transient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "fetch_candles", Symbol: symbol, Class: Transient, StatusCode: resp.StatusCode, Err: err}
	}

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Op:         "fetch_candles",
			Symbol:     symbol,
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upstream error: %s", truncate(body, 256)),
		}
	}

	// Peek at the envelope only to surface API-level errors; the body
	// itself is handed back untouched.
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Op: "decode", Symbol: symbol, Class: Transient, StatusCode: resp.StatusCode, Err: err}
	}
	if env.Code != 0 {
		class := Transient
		if permanentCode(env.Code) {
			class = Permanent
		}
		return nil, &Error{
			Op:         "fetch_candles",
			Symbol:     symbol,
			Class:      class,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("api error %d: %s", env.Code, env.Message),
		}
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
