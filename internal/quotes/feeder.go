package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/finpulse/pulse/internal/event"
)

// Publisher hands successfully fetched ticks to the broker.
type Publisher interface {
	Publish(ctx context.Context, env *event.Envelope) (string, error)
}

// Feeder polls the quote API for a fixed symbol list and publishes each
// quote as a market tick. Provider calls run under a rate limiter
// because free quote API tiers allow only a handful per minute.
type Feeder struct {
	client    *Client
	publisher Publisher
	logger    *slog.Logger
	symbols   []string
	limiter   *rate.Limiter
}

// NewFeeder creates a feeder polling the given symbols at most
// requestsPerMinute provider calls per minute.
func NewFeeder(client *Client, publisher Publisher, logger *slog.Logger, symbols []string, requestsPerMinute int) *Feeder {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 5
	}
	return &Feeder{
		client:    client,
		publisher: publisher,
		logger:    logger,
		symbols:   symbols,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// UpdateOnce fetches and publishes every configured symbol, returning
// the number of ticks published. Symbol-level failures are logged and
// skipped so one bad quote does not block the rest.
func (f *Feeder) UpdateOnce(ctx context.Context) (int, error) {
	published := 0
	for _, symbol := range f.symbols {
		if err := f.limiter.Wait(ctx); err != nil {
			return published, err
		}

		tick, err := f.client.GetQuote(ctx, symbol)
		if err != nil {
			f.logger.Warn("quote fetch failed", "symbol", symbol, "error", err)
			continue
		}

		env, err := event.NewMarketEnvelope(tick)
		if err != nil {
			f.logger.Warn("dropping invalid quote", "symbol", symbol, "error", err)
			continue
		}

		msgID, err := f.publisher.Publish(ctx, env)
		if err != nil {
			f.logger.Error("publish failed", "symbol", symbol, "error", err)
			continue
		}

		f.logger.Info("published quote", "symbol", env.Tick.Symbol, "price", env.Tick.Price, "message_id", msgID)
		published++
	}

	if published == 0 && len(f.symbols) > 0 {
		return 0, fmt.Errorf("no quotes published for %d symbols", len(f.symbols))
	}
	return published, nil
}

// Run polls continuously at the given interval until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting quote feeder", "symbols", len(f.symbols), "interval", interval)

	for {
		start := time.Now()
		n, err := f.UpdateOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			f.logger.Warn("update cycle completed with errors", "published", n, "error", err)
		} else {
			f.logger.Info("update cycle completed", "published", n, "took", time.Since(start))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
