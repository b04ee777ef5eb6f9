package archive

import (
	"errors"
	"testing"
	"time"

	"github.com/finpulse/pulse/internal/event"
)

func TestMarketRowFrom(t *testing.T) {
	at := time.Date(2026, 8, 31, 10, 15, 0, 0, time.UTC)
	env := &event.Envelope{
		Stream: event.StreamMarket,
		Tick: &event.MarketTickEvent{
			Symbol: "TCS", Price: 4100.5, Volume: 500,
			Change: 10, ChangePercent: 0.25,
			High: 4110, Low: 4090, Open: 4095,
			Market: "NSE", Source: "feeder",
			Timestamp: at.Format(time.RFC3339),
		},
		At: at,
	}
	processedAt := at.Add(time.Second)

	row := MarketRowFrom(env, processedAt)
	if row.EventID != env.ID() {
		t.Errorf("Expected EventID %q, got %q", env.ID(), row.EventID)
	}
	if row.Symbol != "TCS" || row.Price != 4100.5 || row.Volume != 500 {
		t.Errorf("Unexpected row values: %+v", row)
	}
	if !row.EventTime.Equal(at) {
		t.Errorf("Expected EventTime %v, got %v", at, row.EventTime)
	}
	if !row.ProcessedAt.Equal(processedAt) {
		t.Errorf("Expected ProcessedAt %v, got %v", processedAt, row.ProcessedAt)
	}

	// A redelivered envelope maps to an identical row identity.
	again := MarketRowFrom(env, processedAt.Add(time.Minute))
	if again.EventID != row.EventID {
		t.Error("Expected stable EventID across redeliveries")
	}
}

func TestScreenTimeRowFrom(t *testing.T) {
	env := &event.Envelope{
		Stream: event.StreamScreenTime,
		Usage: &event.ScreenTimeEvent{
			UserID: "u1", AppName: "Slack", Category: "Communication",
			TimeSpentMinutes: 25, Date: "2026-08-31",
			DeviceType: "mobile", Source: "api",
		},
		At: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
	processedAt := time.Now().UTC()

	row := ScreenTimeRowFrom(env, processedAt)
	if row.EventID != env.ID() {
		t.Errorf("Expected EventID %q, got %q", env.ID(), row.EventID)
	}
	if row.UserID != "u1" || row.AppName != "Slack" || row.TimeSpentMinutes != 25 {
		t.Errorf("Unexpected row values: %+v", row)
	}
	if row.Date != "2026-08-31" {
		t.Errorf("Expected date 2026-08-31, got %q", row.Date)
	}
}

func TestRowErrorUnwrap(t *testing.T) {
	inner := errors.New("type mismatch")
	err := &RowError{Index: 3, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Expected RowError to unwrap to the inner error")
	}
	if got := err.Error(); got != "row 3 rejected: type mismatch" {
		t.Errorf("Unexpected error string: %q", got)
	}
}
