package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/finpulse/pulse/internal/event"
)

// Notifier receives successfully merged market documents. The websocket
// hub implements it; a nil Notifier disables notifications.
type Notifier interface {
	MarketUpdated(doc *MarketDocument)
}

// Updater owns all mutation of live-cache documents. Merges for the
// same cache key are serialized through a per-key lock so concurrent
// read-modify-write cycles cannot drop increments; the store's own
// transaction guards against writers outside this process.
type Updater struct {
	store    Store
	logger   *slog.Logger
	notifier Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is replaceable in tests.
	now func() time.Time
}

// NewUpdater creates an Updater writing through store.
func NewUpdater(store Store, logger *slog.Logger) *Updater {
	return &Updater{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// SetNotifier registers a hook called after each successful market
// merge. Must be set before the consumer loops start.
func (u *Updater) SetNotifier(n Notifier) {
	u.notifier = n
}

// Merge applies a validated event to its live-cache document.
func (u *Updater) Merge(ctx context.Context, env *event.Envelope) error {
	switch env.Stream {
	case event.StreamMarket:
		doc, err := u.MergeTick(ctx, env.Tick, env.At)
		if err != nil {
			return err
		}
		if u.notifier != nil {
			u.notifier.MarketUpdated(doc)
		}
		return nil
	case event.StreamScreenTime:
		_, err := u.MergeUsage(ctx, env.Usage)
		return err
	}
	return fmt.Errorf("merge: unknown stream %q", env.Stream)
}

// MergeTick merges a market tick into the symbol's document:
// last-write-wins on the current quote (stale ticks do not clobber a
// newer one), sorted insert into the history, trim to HistoryLimit.
func (u *Updater) MergeTick(ctx context.Context, tick *event.MarketTickEvent, at time.Time) (*MarketDocument, error) {
	key := MarketKey(tick.Symbol)
	lock := u.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var merged *MarketDocument
	err := u.store.Update(ctx, key, func(old []byte) ([]byte, error) {
		doc := &MarketDocument{Symbol: tick.Symbol}
		if old != nil {
			if err := json.Unmarshal(old, doc); err != nil {
				return nil, fmt.Errorf("decode document %q: %w", key, err)
			}
		}

		if !at.Before(doc.Timestamp) {
			doc.Price = tick.Price
			doc.Volume = tick.Volume
			doc.Change = tick.Change
			doc.ChangePercent = tick.ChangePercent
			doc.High = tick.High
			doc.Low = tick.Low
			doc.Open = tick.Open
			doc.Market = tick.Market
			doc.Timestamp = at
		}

		insertPoint(doc, PricePoint{Price: tick.Price, Volume: tick.Volume, Timestamp: at})
		doc.LastUpdated = u.now().UTC()

		merged = doc
		return json.Marshal(doc)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// insertPoint keeps the history timestamp-ordered and bounded. Equal
// timestamps preserve arrival order. Oldest entries drop from the head.
func insertPoint(doc *MarketDocument, p PricePoint) {
	i := sort.Search(len(doc.History), func(i int) bool {
		return doc.History[i].Timestamp.After(p.Timestamp)
	})
	doc.History = append(doc.History, PricePoint{})
	copy(doc.History[i+1:], doc.History[i:])
	doc.History[i] = p

	if n := len(doc.History); n > HistoryLimit {
		doc.History = append(doc.History[:0:0], doc.History[n-HistoryLimit:]...)
	}
}

// MergeUsage accumulates app minutes into the user's daily document and
// recomputes the day's total as the sum across all apps.
func (u *Updater) MergeUsage(ctx context.Context, usage *event.ScreenTimeEvent) (*ScreenTimeDocument, error) {
	key := ScreenTimeKey(usage.UserID, usage.Date)
	lock := u.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	var merged *ScreenTimeDocument
	err := u.store.Update(ctx, key, func(old []byte) ([]byte, error) {
		doc := &ScreenTimeDocument{
			UserID: usage.UserID,
			Date:   usage.Date,
			Apps:   make(map[string]AppUsage),
		}
		if old != nil {
			if err := json.Unmarshal(old, doc); err != nil {
				return nil, fmt.Errorf("decode document %q: %w", key, err)
			}
			if doc.Apps == nil {
				doc.Apps = make(map[string]AppUsage)
			}
		}

		app := doc.Apps[usage.AppName]
		app.TimeSpentMinutes += usage.TimeSpentMinutes
		if app.Category == "" {
			app.Category = usage.Category
		}
		doc.Apps[usage.AppName] = app

		total := 0
		for _, a := range doc.Apps {
			total += a.TimeSpentMinutes
		}
		doc.TotalMinutes = total
		doc.LastUpdated = u.now().UTC()

		merged = doc
		return json.Marshal(doc)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// lockFor returns the mutex serializing merges for key. The lock set
// grows with key cardinality, matching the documents themselves, which
// the pipeline never deletes either.
func (u *Updater) lockFor(key string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		u.locks[key] = lock
	}
	return lock
}
