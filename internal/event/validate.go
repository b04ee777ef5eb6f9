package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Rejection classification. Malformed payloads are acknowledged and
// dropped so a poison message cannot loop forever; transient decode
// failures may be redelivered.
var (
	ErrMalformed       = errors.New("malformed payload")
	ErrTransientDecode = errors.New("transient decode error")
)

// IsMalformed reports whether err means the payload can never succeed.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

const (
	defaultMarket     = "NSE"
	defaultCategory   = "Other"
	defaultDeviceType = "mobile"
)

// timeFormats are the accepted tick timestamp layouts, most common first.
var timeFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Decode parses a raw broker payload into a validated Envelope for the
// given stream. It coerces numeric strings, fills defaults, and rejects
// payloads missing required fields. Pure: no I/O, no side effects.
func Decode(raw []byte, stream Stream) (*Envelope, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrTransientDecode)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch stream {
	case StreamMarket:
		return decodeTick(fields)
	case StreamScreenTime:
		return decodeUsage(fields)
	}
	return nil, fmt.Errorf("%w: unknown stream %q", ErrMalformed, stream)
}

func decodeTick(fields map[string]any) (*Envelope, error) {
	symbol, ok := asString(fields["symbol"])
	if !ok || symbol == "" {
		return nil, missing("symbol")
	}

	price, ok := asFloat(fields["price"])
	if !ok {
		return nil, missing("price")
	}

	ts, ok := asString(fields["timestamp"])
	if !ok || ts == "" {
		return nil, missing("timestamp")
	}
	at, err := parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, ts)
	}

	tick := &MarketTickEvent{
		Symbol:        strings.ToUpper(symbol),
		Price:         price,
		Volume:        asInt64Or(fields["volume"], 0),
		Change:        asFloatOr(fields["change"], 0),
		ChangePercent: asFloatOr(fields["change_percent"], 0),
		High:          asFloatOr(fields["high"], price),
		Low:           asFloatOr(fields["low"], price),
		Open:          asFloatOr(fields["open"], price),
		Market:        asStringOr(fields["market"], defaultMarket),
		Timestamp:     ts,
	}
	tick.Source, _ = asString(fields["source"])
	tick.ReceivedAt, _ = asString(fields["received_at"])

	return &Envelope{Stream: StreamMarket, Tick: tick, At: at}, nil
}

func decodeUsage(fields map[string]any) (*Envelope, error) {
	userID, ok := asString(fields["user_id"])
	if !ok || userID == "" {
		return nil, missing("user_id")
	}

	appName, ok := asString(fields["app_name"])
	if !ok || appName == "" {
		return nil, missing("app_name")
	}

	minutes, ok := asFloat(fields["time_spent_minutes"])
	if !ok {
		// The original mobile bridge used a shorter field name.
		if minutes, ok = asFloat(fields["time_spent"]); !ok {
			return nil, missing("time_spent_minutes")
		}
	}

	date, ok := asString(fields["date"])
	if !ok || date == "" {
		return nil, missing("date")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrMalformed, date)
	}

	usage := &ScreenTimeEvent{
		UserID:           userID,
		AppName:          appName,
		Category:         asStringOr(fields["category"], defaultCategory),
		TimeSpentMinutes: int(minutes),
		Date:             date,
		DeviceType:       asStringOr(fields["device_type"], defaultDeviceType),
	}
	usage.Source, _ = asString(fields["source"])
	usage.ReceivedAt, _ = asString(fields["received_at"])

	return &Envelope{Stream: StreamScreenTime, Usage: usage, At: day.UTC()}, nil
}

func parseTimestamp(ts string) (time.Time, error) {
	for _, format := range timeFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time with any known format")
}

func missing(field string) error {
	return fmt.Errorf("%w: missing required field %q", ErrMalformed, field)
}

// asString accepts string values only.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asStringOr(v any, def string) string {
	if s, ok := asString(v); ok && s != "" {
		return s
	}
	return def
}

// asFloat coerces JSON numbers and numeric strings.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func asFloatOr(v any, def float64) float64 {
	if f, ok := asFloat(v); ok {
		return f
	}
	return def
}

func asInt64Or(v any, def int64) int64 {
	if f, ok := asFloat(v); ok {
		return int64(f)
	}
	return def
}
