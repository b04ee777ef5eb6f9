// Package publisher hands encoded events to the broker for the
// consumer loops to pick up. It shares no state with the consumers;
// the broker is the only channel between them.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/finpulse/pulse/internal/event"
)

const writeTimeout = 5 * time.Second

// Publisher writes events to the per-stream topics. Messages are keyed
// by cache key so the broker delivers same-key events in order.
type Publisher struct {
	writers map[event.Stream]*kafka.Writer
	logger  *slog.Logger
}

// New creates a Publisher with one writer per stream topic.
func New(broker string, topics map[event.Stream]string, logger *slog.Logger) *Publisher {
	writers := make(map[event.Stream]*kafka.Writer, len(topics))
	for stream, topic := range topics {
		writers[stream] = &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return &Publisher{writers: writers, logger: logger}
}

// Publish encodes env as JSON and writes it to the stream's topic,
// waiting for broker acceptance. It returns the envelope's content
// hash as the message ID.
func (p *Publisher) Publish(ctx context.Context, env *event.Envelope) (string, error) {
	writer, ok := p.writers[env.Stream]
	if !ok {
		return "", fmt.Errorf("publish: no topic configured for stream %q", env.Stream)
	}

	var payload any
	switch env.Stream {
	case event.StreamMarket:
		payload = env.Tick
	case event.StreamScreenTime:
		payload = env.Usage
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("publish: serialize failed: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(env.CacheKey()),
		Value: data,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("publish: broker write failed: %w", err)
	}

	id := env.ID()
	p.logger.Debug("published event", "stream", env.Stream, "key", env.CacheKey(), "message_id", id)
	return id, nil
}

// Close flushes and closes all writers.
func (p *Publisher) Close() error {
	var firstErr error
	for stream, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Error("error closing writer", "stream", stream, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
