// Package event defines the two finance event shapes carried by the
// pipeline (market ticks and screen-time usage) and the boundary
// validation applied before anything is written to a sink.
package event

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Stream identifies one of the two logical event channels.
type Stream string

const (
	StreamMarket     Stream = "market"
	StreamScreenTime Stream = "screentime"
)

// Valid reports whether s names a known stream.
func (s Stream) Valid() bool {
	return s == StreamMarket || s == StreamScreenTime
}

// MarketTickEvent is a single quote update for one symbol.
type MarketTickEvent struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Volume        int64   `json:"volume"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	Market        string  `json:"market"`
	Timestamp     string  `json:"timestamp"`
	Source        string  `json:"source,omitempty"`
	ReceivedAt    string  `json:"received_at,omitempty"`
}

// ScreenTimeEvent is one app-usage increment for a user on a given day.
type ScreenTimeEvent struct {
	UserID           string `json:"user_id"`
	AppName          string `json:"app_name"`
	Category         string `json:"category"`
	TimeSpentMinutes int    `json:"time_spent_minutes"`
	Date             string `json:"date"`
	DeviceType       string `json:"device_type"`
	Source           string `json:"source,omitempty"`
	ReceivedAt       string `json:"received_at,omitempty"`
}

// Envelope is a validated event tagged with its stream. Exactly one of
// Tick or Usage is set, matching Stream.
type Envelope struct {
	Stream Stream
	Tick   *MarketTickEvent
	Usage  *ScreenTimeEvent

	// At is the parsed event time: the tick timestamp for market
	// events, midnight UTC of the usage date for screen-time events.
	At time.Time
}

// CacheKey returns the live-cache partition identity: the symbol for
// market ticks, userID_date for screen-time usage.
func (e *Envelope) CacheKey() string {
	switch e.Stream {
	case StreamMarket:
		return e.Tick.Symbol
	case StreamScreenTime:
		return e.Usage.UserID + "_" + e.Usage.Date
	}
	return ""
}

// ID returns a content hash of (stream, natural key, timestamp). It is
// stable across redeliveries of the same event and serves as the
// archive dedupe key and the publisher message ID.
func (e *Envelope) ID() string {
	var unique string
	switch e.Stream {
	case StreamMarket:
		unique = fmt.Sprintf("%s-%s-%s-%f-%d",
			e.Stream, e.Tick.Symbol, e.Tick.Timestamp, e.Tick.Price, e.Tick.Volume)
	case StreamScreenTime:
		unique = fmt.Sprintf("%s-%s-%s-%s-%d",
			e.Stream, e.Usage.UserID, e.Usage.Date, e.Usage.AppName, e.Usage.TimeSpentMinutes)
	}
	hash := sha1.Sum([]byte(unique))
	return hex.EncodeToString(hash[:])
}

// Digest returns a short hash of a raw payload for audit logging.
// Rejected payloads are logged by digest, never verbatim.
func Digest(raw []byte) string {
	hash := sha1.Sum(raw)
	return hex.EncodeToString(hash[:])
}

// NewMarketEnvelope validates and normalizes an already-typed tick,
// for producers that build events directly instead of decoding broker
// payloads. The symbol is uppercased and the market defaulted.
func NewMarketEnvelope(t *MarketTickEvent) (*Envelope, error) {
	if t.Symbol == "" {
		return nil, missing("symbol")
	}
	if t.Timestamp == "" {
		return nil, missing("timestamp")
	}
	at, err := parseTimestamp(t.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, t.Timestamp)
	}

	tick := *t
	tick.Symbol = strings.ToUpper(tick.Symbol)
	if tick.Market == "" {
		tick.Market = defaultMarket
	}
	return &Envelope{Stream: StreamMarket, Tick: &tick, At: at}, nil
}

// NewScreenTimeEnvelope validates and normalizes an already-typed
// usage event.
func NewScreenTimeEnvelope(u *ScreenTimeEvent) (*Envelope, error) {
	if u.UserID == "" {
		return nil, missing("user_id")
	}
	if u.AppName == "" {
		return nil, missing("app_name")
	}
	if u.Date == "" {
		return nil, missing("date")
	}
	day, err := time.Parse("2006-01-02", u.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrMalformed, u.Date)
	}

	usage := *u
	if usage.Category == "" {
		usage.Category = defaultCategory
	}
	if usage.DeviceType == "" {
		usage.DeviceType = defaultDeviceType
	}
	return &Envelope{Stream: StreamScreenTime, Usage: &usage, At: day.UTC()}, nil
}
