package consumer

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker decides which offsets are safe to commit when workers
// finish messages out of order. A partition's commit position only
// advances over completed offsets, so an unfinished message is never
// committed past and is redelivered after a restart. Offsets the broker
// never delivered (transaction control records, compacted-away entries)
// are skipped rather than stalling the position forever.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionID]*partitionOffsets
}

type partitionID struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	// next is the lowest offset not yet completed or skipped.
	next int64
	// open holds fetched offsets still in flight.
	open map[int64]bool
	// done holds completed offsets at or above next.
	done map[int64]bool
	// maxSeen is the highest offset fetched so far.
	maxSeen int64
	// dirty is set when the commit position moved since the last drain.
	dirty bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[partitionID]*partitionOffsets)}
}

// Track registers a fetched message as in-flight.
func (t *offsetTracker) Track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := partitionID{topic: msg.Topic, partition: msg.Partition}
	p, ok := t.parts[id]
	if !ok {
		p = &partitionOffsets{
			next:    msg.Offset,
			open:    make(map[int64]bool),
			done:    make(map[int64]bool),
			maxSeen: msg.Offset,
		}
		t.parts[id] = p
	}
	p.open[msg.Offset] = true
	if msg.Offset > p.maxSeen {
		p.maxSeen = msg.Offset
	}
}

// MarkDone records a message as fully processed (both sinks succeeded,
// or the payload was malformed and dropped).
func (t *offsetTracker) MarkDone(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := partitionID{topic: msg.Topic, partition: msg.Partition}
	p, ok := t.parts[id]
	if !ok {
		return
	}
	if msg.Offset < p.next {
		return // already advanced past
	}

	delete(p.open, msg.Offset)
	p.done[msg.Offset] = true

	for p.next <= p.maxSeen {
		switch {
		case p.done[p.next]:
			delete(p.done, p.next)
		case !p.open[p.next]:
			// never fetched; a hole in the log, not an unfinished message
		default:
			return
		}
		p.next++
		p.dirty = true
	}
}

// Commitable drains the messages whose partitions advanced since the
// last call. Each returned message carries the last completed offset of
// its partition; committing it tells the broker everything up to and
// including that offset is processed.
func (t *offsetTracker) Commitable() []kafka.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var msgs []kafka.Message
	for id, p := range t.parts {
		if !p.dirty {
			continue
		}
		p.dirty = false
		msgs = append(msgs, kafka.Message{
			Topic:     id.topic,
			Partition: id.partition,
			Offset:    p.next - 1,
		})
	}
	return msgs
}
