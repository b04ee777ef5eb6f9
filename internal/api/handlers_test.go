package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finpulse/pulse/internal/cache"
	"github.com/finpulse/pulse/internal/consumer"
	"github.com/finpulse/pulse/internal/event"
)

func init() {
	gin.SetMode(gin.TestMode)
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

func (p *fakePublisher) published() []*event.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.envs
}

func testRouter(store cache.Store, pub Publisher, loops []*consumer.Loop) *gin.Engine {
	h := NewHandler(store, pub, loops, nil, slog.New(slog.DiscardHandler))
	return NewRouter(h)
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngestMarket(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(cache.NewMemoryStore(), pub, nil)

	w := doRequest(router, http.MethodPost, "/v1/ingest/market",
		`{"symbol": "reliance", "price": 2850.5, "timestamp": "2026-08-31T10:15:00Z"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp["success"] != true {
		t.Error("Expected success true")
	}
	if resp["symbol"] != "RELIANCE" {
		t.Errorf("Expected normalized symbol RELIANCE, got %v", resp["symbol"])
	}
	if resp["message_id"] == "" {
		t.Error("Expected a message_id")
	}

	envs := pub.published()
	if len(envs) != 1 {
		t.Fatalf("Expected 1 published envelope, got %d", len(envs))
	}
	if envs[0].Tick.Source != "api" {
		t.Errorf("Expected source defaulted to api, got %q", envs[0].Tick.Source)
	}
	if envs[0].Tick.ReceivedAt == "" {
		t.Error("Expected received_at to be stamped")
	}
}

func TestIngestMarketRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing symbol", `{"price": 100, "timestamp": "2026-08-31T10:15:00Z"}`},
		{"missing timestamp", `{"symbol": "TCS", "price": 100}`},
		{"bad timestamp", `{"symbol": "TCS", "price": 100, "timestamp": "whenever"}`},
		{"not json", `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			router := testRouter(cache.NewMemoryStore(), pub, nil)
			w := doRequest(router, http.MethodPost, "/v1/ingest/market", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if len(pub.published()) != 0 {
				t.Error("Expected nothing published for invalid input")
			}
		})
	}
}

func TestIngestMarketPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	router := testRouter(cache.NewMemoryStore(), pub, nil)

	w := doRequest(router, http.MethodPost, "/v1/ingest/market",
		`{"symbol": "TCS", "price": 4100, "timestamp": "2026-08-31T10:15:00Z"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 when the broker is down, got %d", w.Code)
	}
}

func TestIngestScreenTimeCategorizes(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(cache.NewMemoryStore(), pub, nil)

	w := doRequest(router, http.MethodPost, "/v1/ingest/screentime",
		`{"user_id": "u1", "app_name": "Instagram", "time_spent_minutes": 25, "date": "2026-08-31"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp["category"] != "Social Media" {
		t.Errorf("Expected auto-categorized Social Media, got %v", resp["category"])
	}

	envs := pub.published()
	if len(envs) != 1 {
		t.Fatalf("Expected 1 published envelope, got %d", len(envs))
	}
	if envs[0].Usage.Category != "Social Media" {
		t.Errorf("Expected category on envelope, got %q", envs[0].Usage.Category)
	}
}

func TestIngestScreenTimeKeepsProvidedCategory(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(cache.NewMemoryStore(), pub, nil)

	w := doRequest(router, http.MethodPost, "/v1/ingest/screentime",
		`{"user_id": "u1", "app_name": "Instagram", "category": "Custom", "time_spent_minutes": 5, "date": "2026-08-31"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if envs := pub.published(); envs[0].Usage.Category != "Custom" {
		t.Errorf("Expected bridge-provided category kept, got %q", envs[0].Usage.Category)
	}
}

func seedMarketDoc(t *testing.T, store cache.Store, symbol string, price float64, points int) {
	t.Helper()
	u := cache.NewUpdater(store, slog.New(slog.DiscardHandler))
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < points; i++ {
		_, err := u.MergeTick(context.Background(), &event.MarketTickEvent{
			Symbol: symbol, Price: price + float64(i), Market: "NSE",
			Timestamp: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		}, base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Seeding failed: %v", err)
		}
	}
}

func TestMarketLive(t *testing.T) {
	store := cache.NewMemoryStore()
	seedMarketDoc(t, store, "TCS", 4100, 3)
	router := testRouter(store, &fakePublisher{}, nil)

	w := doRequest(router, http.MethodGet, "/v1/market/live?symbols=tcs,%20MISSING", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Quotes map[string]cache.MarketDocument `json:"quotes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}

	doc, ok := resp.Data.Quotes["TCS"]
	if !ok {
		t.Fatalf("Expected TCS in quotes, got %v", resp.Data.Quotes)
	}
	if doc.Price != 4102 {
		t.Errorf("Expected latest price 4102, got %f", doc.Price)
	}
	if len(doc.History) != 0 {
		t.Errorf("Expected live view without history, got %d points", len(doc.History))
	}
	if _, ok := resp.Data.Quotes["MISSING"]; ok {
		t.Error("Expected unknown symbol omitted from quotes")
	}
}

func TestMarketLiveRequiresSymbols(t *testing.T) {
	router := testRouter(cache.NewMemoryStore(), &fakePublisher{}, nil)
	w := doRequest(router, http.MethodGet, "/v1/market/live", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without symbols, got %d", w.Code)
	}
}

func TestMarketHistory(t *testing.T) {
	store := cache.NewMemoryStore()
	seedMarketDoc(t, store, "TCS", 4100, 10)
	router := testRouter(store, &fakePublisher{}, nil)

	w := doRequest(router, http.MethodGet, "/v1/market/history/tcs?limit=4", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			Symbol  string             `json:"symbol"`
			History []cache.PricePoint `json:"history"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp.Data.Symbol != "TCS" {
		t.Errorf("Expected symbol TCS, got %q", resp.Data.Symbol)
	}
	if len(resp.Data.History) != 4 {
		t.Fatalf("Expected 4 most recent points, got %d", len(resp.Data.History))
	}
	// Oldest first, limited to the tail.
	if resp.Data.History[0].Price != 4106 || resp.Data.History[3].Price != 4109 {
		t.Errorf("Expected points 4106..4109, got %v", resp.Data.History)
	}
}

func TestMarketHistoryUnknownSymbol(t *testing.T) {
	router := testRouter(cache.NewMemoryStore(), &fakePublisher{}, nil)
	w := doRequest(router, http.MethodGet, "/v1/market/history/NOPE", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown symbol, got %d", w.Code)
	}
}

func TestScreenTimeDaily(t *testing.T) {
	store := cache.NewMemoryStore()
	u := cache.NewUpdater(store, slog.New(slog.DiscardHandler))
	_, err := u.MergeUsage(context.Background(), &event.ScreenTimeEvent{
		UserID: "u1", AppName: "Slack", Category: "Communication",
		TimeSpentMinutes: 45, Date: "2026-08-31",
	})
	if err != nil {
		t.Fatalf("Seeding failed: %v", err)
	}
	router := testRouter(store, &fakePublisher{}, nil)

	w := doRequest(router, http.MethodGet, "/v1/screentime/daily?user_id=u1&date=2026-08-31", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data cache.ScreenTimeDocument `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp.Data.TotalMinutes != 45 {
		t.Errorf("Expected 45 total minutes, got %d", resp.Data.TotalMinutes)
	}
	if resp.Data.Apps["Slack"].TimeSpentMinutes != 45 {
		t.Errorf("Expected Slack at 45 minutes, got %+v", resp.Data.Apps)
	}
}

func TestScreenTimeDailyEmptyDay(t *testing.T) {
	router := testRouter(cache.NewMemoryStore(), &fakePublisher{}, nil)

	w := doRequest(router, http.MethodGet, "/v1/screentime/daily?user_id=u1&date=2026-01-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for a day with no events, got %d", w.Code)
	}

	var resp struct {
		Data cache.ScreenTimeDocument `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp.Data.TotalMinutes != 0 || len(resp.Data.Apps) != 0 {
		t.Errorf("Expected empty document, got %+v", resp.Data)
	}
}

func TestScreenTimeDailyRequiresUser(t *testing.T) {
	router := testRouter(cache.NewMemoryStore(), &fakePublisher{}, nil)
	w := doRequest(router, http.MethodGet, "/v1/screentime/daily", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without user_id, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(cache.NewMemoryStore(), &fakePublisher{}, nil)

	w := doRequest(router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with no consumer loops, got %d", w.Code)
	}
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Error("Expected X-Request-ID header on responses")
	}
}

func TestRequestIDPreserved(t *testing.T) {
	router := testRouter(cache.NewMemoryStore(), &fakePublisher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("Expected caller request ID echoed, got %q", got)
	}
}

func TestSplitSymbols(t *testing.T) {
	tests := []struct {
		raw      string
		expected []string
	}{
		{"tcs", []string{"TCS"}},
		{"tcs, infy ,RELIANCE", []string{"TCS", "INFY", "RELIANCE"}},
		{" , ,", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := splitSymbols(tt.raw)
		if len(got) != len(tt.expected) {
			t.Errorf("splitSymbols(%q) = %v, expected %v", tt.raw, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("splitSymbols(%q)[%d] = %q, expected %q", tt.raw, i, got[i], tt.expected[i])
			}
		}
	}
}
