package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// go test -v --run TestFetchCandlesSuccess
func TestFetchCandlesSuccess(t *testing.T) {
	body := `{"code":0,"message":"OK","result":{"symbol":"AAPL","timeframe":"1d","list":[["1704153600000","187.15","188.44","183.89","185.64","82488700"]]},"time":1704240000000}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("unexpected symbol param: %s", got)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("unexpected api key header: %s", got)
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "test-key", 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	payload, err := client.FetchCandles(ctx, "AAPL", "1d", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != body {
		t.Errorf("payload was not passed through untouched")
	}
}

// go test -v --run TestFetchCandlesRateLimitIsTransient
func TestFetchCandlesRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "", 5*time.Second)

	_, err := client.FetchCandles(context.Background(), "AAPL", "1d", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Errorf("429 should be transient, got permanent: %v", err)
	}
}

// go test -v --run TestFetchCandlesNotFoundIsPermanent
func TestFetchCandlesNotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "", 5*time.Second)

	_, err := client.FetchCandles(context.Background(), "NOPE", "1d", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsPermanent(err) {
		t.Errorf("404 should be permanent: %v", err)
	}
}

// go test -v --run TestFetchCandlesAPIErrorCodes
func TestFetchCandlesAPIErrorCodes(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		permanent bool
	}{
		{"unknown symbol", `{"code":10001,"message":"unknown symbol"}`, true},
		{"internal error", `{"code":20001,"message":"try again"}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := NewRESTClient(srv.URL, "", 5*time.Second)
			_, err := client.FetchCandles(context.Background(), "AAPL", "1d", time.Now().Add(-time.Hour), time.Now())
			if err == nil {
				t.Fatal("expected error")
			}
			if IsPermanent(err) != tc.permanent {
				t.Errorf("permanent=%v, want %v: %v", IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

// go test -v --run TestFetchCandlesTimeoutIsTransient
func TestFetchCandlesTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "", 20*time.Millisecond)

	_, err := client.FetchCandles(context.Background(), "AAPL", "1d", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if IsPermanent(err) {
		t.Errorf("timeout should be transient: %v", err)
	}
}
