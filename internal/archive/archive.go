// Package archive appends validated events to the ClickHouse archive
// tables. It is write-only from the pipeline's point of view: analytics
// and backfill read the tables, the pipeline never does.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/finpulse/pulse/internal/event"
)

// MarketRow is one immutable archived market tick. EventID is the
// content hash deduplicating redelivered appends.
type MarketRow struct {
	EventID       string
	Symbol        string
	Price         float64
	Volume        int64
	Change        float64
	ChangePercent float64
	High          float64
	Low           float64
	Open          float64
	Market        string
	Source        string
	EventTime     time.Time
	ProcessedAt   time.Time
}

// ScreenTimeRow is one immutable archived usage record.
type ScreenTimeRow struct {
	EventID          string
	UserID           string
	AppName          string
	Category         string
	TimeSpentMinutes int32
	Date             string
	DeviceType       string
	Source           string
	ProcessedAt      time.Time
}

// Sink persists archive rows. Implementations must be safe for
// concurrent use.
type Sink interface {
	// AppendTicks inserts a batch of market tick rows.
	AppendTicks(ctx context.Context, rows []*MarketRow) error

	// AppendUsage inserts a batch of screen-time rows.
	AppendUsage(ctx context.Context, rows []*ScreenTimeRow) error

	// Close releases database connection resources.
	Close() error
}

// RowError reports which row of a batch the store rejected. The
// consumer treats any row failure as a dispatch failure for the whole
// in-flight message.
type RowError struct {
	Index int
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d rejected: %v", e.Index, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// MarketRowFrom builds the archive row for a validated market envelope.
func MarketRowFrom(env *event.Envelope, processedAt time.Time) *MarketRow {
	t := env.Tick
	return &MarketRow{
		EventID:       env.ID(),
		Symbol:        t.Symbol,
		Price:         t.Price,
		Volume:        t.Volume,
		Change:        t.Change,
		ChangePercent: t.ChangePercent,
		High:          t.High,
		Low:           t.Low,
		Open:          t.Open,
		Market:        t.Market,
		Source:        t.Source,
		EventTime:     env.At,
		ProcessedAt:   processedAt,
	}
}

// ScreenTimeRowFrom builds the archive row for a validated usage envelope.
func ScreenTimeRowFrom(env *event.Envelope, processedAt time.Time) *ScreenTimeRow {
	u := env.Usage
	return &ScreenTimeRow{
		EventID:          env.ID(),
		UserID:           u.UserID,
		AppName:          u.AppName,
		Category:         u.Category,
		TimeSpentMinutes: int32(u.TimeSpentMinutes),
		Date:             u.Date,
		DeviceType:       u.DeviceType,
		Source:           u.Source,
		ProcessedAt:      processedAt,
	}
}
