// Package cache holds the live "latest state + short history" documents
// consumed by the read APIs, and the merge logic that keeps them current
// as events arrive from the broker.
package cache

import "time"

// HistoryLimit bounds the per-symbol tick history. Older points are
// dropped from the head once the limit is exceeded.
const HistoryLimit = 100

// PricePoint is one retained tick in a symbol's history.
type PricePoint struct {
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketDocument is the per-symbol live cache entry: the latest quote
// plus a bounded, timestamp-ordered tick history.
type MarketDocument struct {
	Symbol        string       `json:"symbol"`
	Price         float64      `json:"price"`
	Volume        int64        `json:"volume"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"change_percent"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	Open          float64      `json:"open"`
	Market        string       `json:"market"`
	Timestamp     time.Time    `json:"timestamp"`
	History       []PricePoint `json:"history"`
	LastUpdated   time.Time    `json:"last_updated"`
}

// AppUsage is the accumulated minutes for one app within a day.
type AppUsage struct {
	TimeSpentMinutes int    `json:"time_spent_minutes"`
	Category         string `json:"category"`
}

// ScreenTimeDocument is the per-user, per-day live cache entry. Apps
// accumulate minutes; TotalMinutes is always the sum across apps.
type ScreenTimeDocument struct {
	UserID       string              `json:"user_id"`
	Date         string              `json:"date"`
	TotalMinutes int                 `json:"total_time_minutes"`
	Apps         map[string]AppUsage `json:"apps"`
	LastUpdated  time.Time           `json:"last_updated"`
}

// Key namespaces inside the store.
const (
	marketKeyPrefix     = "market:"
	screenTimeKeyPrefix = "screentime:"
)

// MarketKey returns the store key for a symbol's live document.
func MarketKey(symbol string) string {
	return marketKeyPrefix + symbol
}

// ScreenTimeKey returns the store key for a user's daily document.
func ScreenTimeKey(userID, date string) string {
	return screenTimeKeyPrefix + userID + "_" + date
}
