// Package quotes polls an Alpha Vantage style quote API and publishes
// the results as market tick events for the ingestion pipeline.
package quotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/finpulse/pulse/internal/event"
)

const requestTimeout = 30 * time.Second

// Client fetches quotes from a GLOBAL_QUOTE-compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a quote API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// globalQuoteResponse mirrors the provider's numbered-field JSON.
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

// GetQuote fetches the latest quote for symbol and converts it into a
// market tick event stamped with the current time.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*event.MarketTickEvent, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote request for %s: status %d", symbol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed globalQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode quote for %s: %w", symbol, err)
	}

	q := parsed.GlobalQuote
	if q.Symbol == "" || q.Price == "" {
		return nil, fmt.Errorf("no quote data for %s", symbol)
	}

	price, err := strconv.ParseFloat(q.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("bad price %q for %s: %w", q.Price, symbol, err)
	}

	market := "NSE"
	if strings.Contains(symbol, ".BSE") {
		market = "BSE"
	}

	return &event.MarketTickEvent{
		Symbol:        strings.ToUpper(q.Symbol),
		Price:         price,
		Volume:        parseInt(q.Volume),
		Change:        parseFloat(q.Change),
		ChangePercent: parsePercent(q.ChangePercent),
		High:          parseFloatOr(q.High, price),
		Low:           parseFloatOr(q.Low, price),
		Open:          parseFloatOr(q.Open, price),
		Market:        market,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Source:        "alphavantage",
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseFloatOr(s string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// parsePercent handles the provider's trailing percent sign ("1.23%").
func parsePercent(s string) float64 {
	return parseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"))
}
