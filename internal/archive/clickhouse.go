package archive

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// clickhouseSink implements Sink using the native ClickHouse driver.
// Batch inserts are significantly faster than individual inserts for
// ClickHouse, and the ReplacingMergeTree tables collapse rows sharing
// an event_id, so replaying a redelivered message is harmless.
type clickhouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink opens a ClickHouse connection from a DSN and
// verifies connectivity with a ping before returning.
func NewClickHouseSink(dsn string) (Sink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &clickhouseSink{conn: conn}, nil
}

func (s *clickhouseSink) AppendTicks(ctx context.Context, rows []*MarketRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_ticks (
			event_id, symbol, price, volume,
			change, change_percent, high, low, open,
			market, source, event_time, processed_at
		)
	`)
	if err != nil {
		return err
	}

	for i, r := range rows {
		err := batch.Append(
			r.EventID,
			r.Symbol,
			r.Price,
			r.Volume,
			r.Change,
			r.ChangePercent,
			r.High,
			r.Low,
			r.Open,
			r.Market,
			r.Source,
			r.EventTime,
			r.ProcessedAt,
		)
		if err != nil {
			return &RowError{Index: i, Err: err}
		}
	}

	return batch.Send()
}

func (s *clickhouseSink) AppendUsage(ctx context.Context, rows []*ScreenTimeRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO screentime_usage (
			event_id, user_id, app_name, category,
			time_spent_minutes, date, device_type, source, processed_at
		)
	`)
	if err != nil {
		return err
	}

	for i, r := range rows {
		err := batch.Append(
			r.EventID,
			r.UserID,
			r.AppName,
			r.Category,
			r.TimeSpentMinutes,
			r.Date,
			r.DeviceType,
			r.Source,
			r.ProcessedAt,
		)
		if err != nil {
			return &RowError{Index: i, Err: err}
		}
	}

	return batch.Send()
}

func (s *clickhouseSink) Close() error {
	return s.conn.Close()
}
