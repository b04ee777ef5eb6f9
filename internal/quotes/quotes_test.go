package quotes

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/finpulse/pulse/internal/event"
)

const sampleQuote = `{
	"Global Quote": {
		"01. symbol": "RELIANCE",
		"02. open": "2838.20",
		"03. high": "2860.00",
		"04. low": "2830.00",
		"05. price": "2850.50",
		"06. volume": "125000",
		"09. change": "12.30",
		"10. change percent": "0.4335%"
	}
}`

func quoteServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "GLOBAL_QUOTE" {
			t.Errorf("Expected function GLOBAL_QUOTE, got %q", got)
		}
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("Expected apikey test-key, got %q", got)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetQuote(t *testing.T) {
	srv := quoteServer(t, sampleQuote, http.StatusOK)
	client := NewClient(srv.URL, "test-key")

	tick, err := client.GetQuote(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}

	if tick.Symbol != "RELIANCE" {
		t.Errorf("Expected symbol RELIANCE, got %q", tick.Symbol)
	}
	if tick.Price != 2850.50 {
		t.Errorf("Expected price 2850.50, got %f", tick.Price)
	}
	if tick.Volume != 125000 {
		t.Errorf("Expected volume 125000, got %d", tick.Volume)
	}
	if tick.ChangePercent != 0.4335 {
		t.Errorf("Expected change percent 0.4335 with %% stripped, got %f", tick.ChangePercent)
	}
	if tick.Market != "NSE" {
		t.Errorf("Expected market NSE, got %q", tick.Market)
	}
	if tick.Source != "alphavantage" {
		t.Errorf("Expected source alphavantage, got %q", tick.Source)
	}
	if tick.Timestamp == "" {
		t.Error("Expected timestamp to be stamped")
	}
}

func TestGetQuoteBSESuffix(t *testing.T) {
	body := strings.Replace(sampleQuote, "RELIANCE", "RELIANCE.BSE", 1)
	srv := quoteServer(t, body, http.StatusOK)
	client := NewClient(srv.URL, "test-key")

	tick, err := client.GetQuote(context.Background(), "RELIANCE.BSE")
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if tick.Market != "BSE" {
		t.Errorf("Expected market BSE for .BSE symbol, got %q", tick.Market)
	}
}

func TestGetQuoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty quote object", `{"Global Quote": {}}`, http.StatusOK},
		{"rate limit note", `{"Note": "API call frequency exceeded"}`, http.StatusOK},
		{"server error", `{}`, http.StatusInternalServerError},
		{"bad price", `{"Global Quote": {"01. symbol": "X", "05. price": "n/a"}}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := quoteServer(t, tt.body, tt.status)
			client := NewClient(srv.URL, "test-key")
			if _, err := client.GetQuote(context.Background(), "X"); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

// fakePublisher records published envelopes.
type fakePublisher struct {
	mu   sync.Mutex
	envs []*event.Envelope
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, env *event.Envelope) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.envs = append(p.envs, env)
	return env.ID(), nil
}

func TestFeederUpdateOnce(t *testing.T) {
	srv := quoteServer(t, sampleQuote, http.StatusOK)
	pub := &fakePublisher{}
	feeder := NewFeeder(NewClient(srv.URL, "test-key"), pub,
		slog.New(slog.DiscardHandler), []string{"RELIANCE", "RELIANCE"}, 6000)

	n, err := feeder.UpdateOnce(context.Background())
	if err != nil {
		t.Fatalf("UpdateOnce failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 publishes, got %d", n)
	}
	if len(pub.envs) != 2 {
		t.Fatalf("Expected 2 envelopes, got %d", len(pub.envs))
	}
	if pub.envs[0].Stream != event.StreamMarket {
		t.Errorf("Expected market stream, got %q", pub.envs[0].Stream)
	}
}

func TestFeederAllSymbolsFail(t *testing.T) {
	srv := quoteServer(t, `{"Global Quote": {}}`, http.StatusOK)
	pub := &fakePublisher{}
	feeder := NewFeeder(NewClient(srv.URL, "test-key"), pub,
		slog.New(slog.DiscardHandler), []string{"A", "B"}, 6000)

	n, err := feeder.UpdateOnce(context.Background())
	if err == nil {
		t.Error("Expected error when every symbol fails")
	}
	if n != 0 {
		t.Errorf("Expected 0 publishes, got %d", n)
	}
}

func TestFeederSkipsFailedSymbol(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleQuote))
	}))
	t.Cleanup(srv.Close)

	pub := &fakePublisher{}
	feeder := NewFeeder(NewClient(srv.URL, "test-key"), pub,
		slog.New(slog.DiscardHandler), []string{"BAD", "RELIANCE"}, 6000)

	n, err := feeder.UpdateOnce(context.Background())
	if err != nil {
		t.Fatalf("Expected partial success, got error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 publish after skipping the failed symbol, got %d", n)
	}
}
