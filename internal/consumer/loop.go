// Package consumer pulls events from the broker, validates them, and
// fans each message out to the archive sink and the live-cache updater.
// A message's offset is committed only after both sinks succeed, so the
// broker redelivers anything half-processed (at-least-once).
package consumer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/finpulse/pulse/internal/archive"
	"github.com/finpulse/pulse/internal/cache"
	"github.com/finpulse/pulse/internal/event"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// A subscription that stays up this long resets the backoff.
	steadyRunReset = time.Minute

	finalCommitTimeout = 5 * time.Second
)

// State is the loop's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateSubscribing
	StatePulling
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StatePulling:
		return "pulling"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Reader is the broker subscription consumed by a Loop. *kafka.Reader
// satisfies it; tests substitute fakes.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config bounds the loop's parallelism and I/O.
type Config struct {
	// Workers is the size of the dispatch pool. Same-key messages
	// always land on the same worker, so per-key merges are FIFO.
	Workers int

	// QueueDepth is the per-worker channel capacity. Together with
	// Workers it is the flow-control window: at most
	// Workers*(QueueDepth+1) messages are in flight.
	QueueDepth int

	// StoreTimeout bounds each dual-sink dispatch.
	StoreTimeout time.Duration

	// DrainTimeout bounds the graceful drain on shutdown; in-flight
	// messages past it stay uncommitted and will be redelivered.
	DrainTimeout time.Duration

	// CommitInterval is how often completed offsets are committed.
	CommitInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 16
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = time.Second
	}
	return c
}

// Loop consumes one logical stream. Run blocks until the context is
// cancelled; broker failures trigger a resubscribe with capped
// exponential backoff instead of crashing the process.
type Loop struct {
	stream    event.Stream
	subscribe func() Reader
	sink      archive.Sink
	updater   *cache.Updater
	logger    *slog.Logger
	cfg       Config

	state   atomic.Int32
	lastErr atomic.Value // string
}

// NewLoop wires a consumer loop for one stream. subscribe is invoked
// for every (re)subscription attempt and must return a fresh Reader.
func NewLoop(stream event.Stream, subscribe func() Reader, sink archive.Sink, updater *cache.Updater, logger *slog.Logger, cfg Config) *Loop {
	l := &Loop{
		stream:    stream,
		subscribe: subscribe,
		sink:      sink,
		updater:   updater,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
	l.lastErr.Store("")
	return l
}

// KafkaSubscriber returns a subscribe function creating consumer-group
// readers for a topic.
func KafkaSubscriber(broker, topic, groupID string) func() Reader {
	return func() Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  []string{broker},
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
}

// Stream returns the loop's logical stream.
func (l *Loop) Stream() event.Stream {
	return l.stream
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LastError returns the most recent loop-level error, or "".
func (l *Loop) LastError() string {
	return l.lastErr.Load().(string)
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run executes the consume loop until ctx is cancelled. It never
// returns a broker error: fatal subscription failures are retried with
// bounded exponential backoff and surfaced through LastError.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("starting consumer loop",
		"stream", l.stream,
		"workers", l.cfg.Workers,
		"queue_depth", l.cfg.QueueDepth)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			l.setState(StateStopped)
			return nil
		}

		l.setState(StateSubscribing)
		reader := l.subscribe()

		started := time.Now()
		err := l.pull(ctx, reader)
		if closeErr := reader.Close(); closeErr != nil {
			l.logger.Error("error closing reader", "stream", l.stream, "error", closeErr)
		}

		if ctx.Err() != nil {
			l.setState(StateStopped)
			l.logger.Info("consumer loop stopped", "stream", l.stream)
			return nil
		}

		if time.Since(started) >= steadyRunReset {
			backoff = initialBackoff
		}

		if err != nil {
			l.lastErr.Store(err.Error())
			l.logger.Error("consumer loop error, resubscribing",
				"stream", l.stream, "backoff", backoff, "error", err)
		}

		select {
		case <-ctx.Done():
			l.setState(StateStopped)
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

type dispatchTask struct {
	msg kafka.Message
	env *event.Envelope
}

// pull runs one subscription: fetch, decode, route to workers, commit
// completed offsets. It returns nil on shutdown and an error when the
// subscription must be restarted (broker failure or a transient sink
// failure that nacked a message).
func (l *Loop) pull(ctx context.Context, reader Reader) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newOffsetTracker()

	var (
		failOnce sync.Once
		failErr  error
	)
	fail := func(err error) {
		failOnce.Do(func() {
			failErr = err
			cancel()
		})
	}

	chans := make([]chan dispatchTask, l.cfg.Workers)
	var workerWg sync.WaitGroup
	for i := range chans {
		chans[i] = make(chan dispatchTask, l.cfg.QueueDepth)
		workerWg.Add(1)
		go l.worker(streamCtx, chans[i], tracker, &workerWg, fail)
	}

	var commitWg sync.WaitGroup
	commitWg.Add(1)
	go func() {
		defer commitWg.Done()
		ticker := time.NewTicker(l.cfg.CommitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				l.commit(streamCtx, reader, tracker)
			}
		}
	}()

	l.setState(StatePulling)

	var pullErr error
	for streamCtx.Err() == nil {
		msg, err := reader.FetchMessage(streamCtx)
		if err != nil {
			if streamCtx.Err() != nil {
				break
			}
			pullErr = fmt.Errorf("broker fetch: %w", err)
			cancel()
			break
		}

		tracker.Track(msg)

		env, err := l.decode(msg)
		if err != nil {
			// Poison messages are acknowledged and dropped, never
			// redelivered. The digest keeps an audit trail without
			// logging raw payloads.
			l.logger.Warn("dropping malformed payload",
				"stream", l.stream,
				"digest", event.Digest(msg.Value),
				"offset", msg.Offset,
				"error", err)
			tracker.MarkDone(msg)
			continue
		}

		idx := workerIndex(env.CacheKey(), len(chans))
		select {
		case chans[idx] <- dispatchTask{msg: msg, env: env}:
		case <-streamCtx.Done():
		}
	}

	// Graceful drain: let in-flight dispatches finish, bounded.
	l.setState(StateDraining)
	for _, ch := range chans {
		close(ch)
	}
	drained := make(chan struct{})
	go func() {
		workerWg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(l.cfg.DrainTimeout):
		l.logger.Warn("drain timeout, abandoning in-flight messages", "stream", l.stream)
	}
	commitWg.Wait()

	// Final commit with its own deadline; anything uncommitted will be
	// redelivered by the broker.
	commitCtx, commitCancel := context.WithTimeout(context.Background(), finalCommitTimeout)
	defer commitCancel()
	l.commit(commitCtx, reader, tracker)

	if pullErr != nil {
		return pullErr
	}
	return failErr
}

// decode validates a raw message. Transient decode failures get one
// immediate retry, then the message is treated as poison.
func (l *Loop) decode(msg kafka.Message) (*event.Envelope, error) {
	env, err := event.Decode(msg.Value, l.stream)
	if err != nil && errors.Is(err, event.ErrTransientDecode) {
		env, err = event.Decode(msg.Value, l.stream)
	}
	return env, err
}

// worker processes tasks for its share of the key space in arrival
// order. A dispatch failure nacks the message: its offset is never
// marked done and the whole subscription restarts.
func (l *Loop) worker(ctx context.Context, ch <-chan dispatchTask, tracker *offsetTracker, wg *sync.WaitGroup, fail func(error)) {
	defer wg.Done()
	for task := range ch {
		if ctx.Err() != nil {
			continue // drain without processing; offsets stay uncommitted
		}
		if err := l.dispatch(ctx, task.env); err != nil {
			fail(fmt.Errorf("dispatch event %s: %w", task.env.ID(), err))
			continue
		}
		tracker.MarkDone(task.msg)
	}
}

// dispatch writes one event to both sinks concurrently. Both must
// succeed for the message to be acknowledged; a single sink failure
// (including a partial one) fails the whole dispatch.
func (l *Loop) dispatch(ctx context.Context, env *event.Envelope) error {
	dispatchCtx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	processedAt := time.Now().UTC()

	errc := make(chan error, 2)
	go func() { errc <- l.appendArchive(dispatchCtx, env, processedAt) }()
	go func() { errc <- l.updater.Merge(dispatchCtx, env) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Loop) appendArchive(ctx context.Context, env *event.Envelope, processedAt time.Time) error {
	switch env.Stream {
	case event.StreamMarket:
		return l.sink.AppendTicks(ctx, []*archive.MarketRow{archive.MarketRowFrom(env, processedAt)})
	case event.StreamScreenTime:
		return l.sink.AppendUsage(ctx, []*archive.ScreenTimeRow{archive.ScreenTimeRowFrom(env, processedAt)})
	}
	return fmt.Errorf("archive: unknown stream %q", env.Stream)
}

func (l *Loop) commit(ctx context.Context, reader Reader, tracker *offsetTracker) {
	msgs := tracker.Commitable()
	if len(msgs) == 0 {
		return
	}
	if err := reader.CommitMessages(ctx, msgs...); err != nil {
		// Offsets lost here are re-committed once the partition
		// advances again; worst case is extra redelivery.
		l.logger.Warn("failed to commit offsets", "stream", l.stream, "error", err)
	}
}

// workerIndex routes a cache key to a fixed worker so merges for one
// key never run concurrently and keep arrival order.
func workerIndex(key string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}
