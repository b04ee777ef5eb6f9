// Command feeder polls the upstream quote API and publishes market
// tick events to the broker. Runs once by default, or continuously
// with --continuous.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finpulse/pulse/configs"
	"github.com/finpulse/pulse/internal/event"
	"github.com/finpulse/pulse/internal/logging"
	"github.com/finpulse/pulse/internal/publisher"
	"github.com/finpulse/pulse/internal/quotes"
)

func main() {
	cfg := configs.AppLoad()
	logger := logging.NewLogger("logs", cfg.LogLevel)

	symbolFlag := flag.String("symbol", "", "Fetch a single symbol instead of the configured list")
	continuousFlag := flag.Bool("continuous", false, "Keep polling on an interval instead of running once")
	intervalFlag := flag.Int("interval", 0, "Polling interval in minutes (overrides config)")
	flag.Parse()

	if cfg.Feeder.APIKey == "" {
		log.Fatal("QUOTE_API_KEY is not set")
	}

	symbols := cfg.Feeder.Symbols
	if *symbolFlag != "" {
		symbols = []string{*symbolFlag}
	}
	interval := cfg.Feeder.IntervalMinutes
	if *intervalFlag > 0 {
		interval = *intervalFlag
	}

	pub := publisher.New(cfg.KafkaMarket.Broker, map[event.Stream]string{
		event.StreamMarket: cfg.KafkaMarket.Topic,
	}, logger)
	defer pub.Close()

	client := quotes.NewClient(cfg.Feeder.BaseURL, cfg.Feeder.APIKey)
	feeder := quotes.NewFeeder(client, pub, logger, symbols, cfg.Feeder.RequestsPerMinute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, stopping feeder", "signal", sig.String())
		cancel()
	}()

	if *continuousFlag {
		if err := feeder.Run(ctx, time.Duration(interval)*time.Minute); err != nil && err != context.Canceled {
			log.Fatalf("Feeder stopped with error: %v", err)
		}
		return
	}

	published, err := feeder.UpdateOnce(ctx)
	if err != nil {
		log.Fatalf("Feeder update failed: %v", err)
	}
	logger.Info("feeder update completed", "published", published, "symbols", len(symbols))
}
