// Command server runs the pulse ingestion service: both stream
// consumer loops, the live cache, and the HTTP API in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/finpulse/pulse/configs"
	"github.com/finpulse/pulse/internal/api"
	"github.com/finpulse/pulse/internal/archive"
	"github.com/finpulse/pulse/internal/cache"
	"github.com/finpulse/pulse/internal/consumer"
	"github.com/finpulse/pulse/internal/event"
	"github.com/finpulse/pulse/internal/logging"
	"github.com/finpulse/pulse/internal/publisher"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := configs.AppLoad()
	logger := logging.NewLogger("logs", cfg.LogLevel)

	migrateFlag := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	if *migrateFlag {
		runMigrations(cfg.DBDSN)
		return
	}

	sink, err := archive.NewClickHouseSink(cfg.DBDSN)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer sink.Close()

	store, err := cache.OpenBadger(cfg.CacheDir)
	if err != nil {
		log.Fatalf("Failed to open live cache: %v", err)
	}
	defer store.Close()

	updater := cache.NewUpdater(store, logger)
	hub := api.NewHub(logger)
	updater.SetNotifier(hub)

	loopCfg := consumer.Config{
		Workers:      cfg.Consumer.Workers,
		QueueDepth:   cfg.Consumer.QueueDepth,
		StoreTimeout: time.Duration(cfg.Consumer.StoreTimeoutSeconds) * time.Second,
		DrainTimeout: time.Duration(cfg.Consumer.DrainTimeoutSeconds) * time.Second,
	}

	marketLoop := consumer.NewLoop(
		event.StreamMarket,
		consumer.KafkaSubscriber(cfg.KafkaMarket.Broker, cfg.KafkaMarket.Topic, cfg.KafkaMarket.GroupID),
		sink, updater, logger, loopCfg,
	)
	screenTimeLoop := consumer.NewLoop(
		event.StreamScreenTime,
		consumer.KafkaSubscriber(cfg.KafkaScreenTime.Broker, cfg.KafkaScreenTime.Topic, cfg.KafkaScreenTime.GroupID),
		sink, updater, logger, loopCfg,
	)
	loops := []*consumer.Loop{marketLoop, screenTimeLoop}

	pub := publisher.New(cfg.KafkaMarket.Broker, map[event.Stream]string{
		event.StreamMarket:     cfg.KafkaMarket.Topic,
		event.StreamScreenTime: cfg.KafkaScreenTime.Topic,
	}, logger)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *consumer.Loop) {
			defer wg.Done()
			if err := l.Run(ctx); err != nil {
				logger.Error("consumer loop exited", "stream", l.Stream(), "error", err)
			}
		}(l)
	}

	handler := api.NewHandler(store, pub, loops, hub, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.NewRouter(handler),
	}

	go func() {
		logger.Info("HTTP API listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	hub.Close()

	cancel()
	wg.Wait()

	logger.Info("application stopped")
}

// runMigrations applies the goose migrations for the archive tables.
func runMigrations(dsn string) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		log.Fatalf("Invalid ClickHouse DSN: %v", err)
	}
	db := clickhouse.OpenDB(opts)
	defer db.Close()

	if err := goose.SetDialect("clickhouse"); err != nil {
		log.Fatalf("Goose: failed to set dialect: %v", err)
	}
	log.Println("Running database migrations...")
	if err := goose.Up(db, "internal/migrations"); err != nil {
		log.Fatalf("Goose migration failed: %v", err)
	}
	log.Println("Migrations completed successfully")
}
