// Package events implements the append-only per-run event bus
// §4.K): every published event is retained in run order so a consumer can
// subscribe from an arbitrary offset (catchup), while live delivery to an
// active subscriber is strictly non-blocking — a slow consumer drops
// events off its own channel rather than stalling the publisher, which on
// this engine is always phase progress itself.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelflow/engine/pkg/models"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity used when
// Bus is constructed with a non-positive bufferSize.
const DefaultSubscriberBuffer = 256

// Bus is the process-wide event bus. One Bus instance is shared across all
// runs; each run gets its own retained log and subscriber set.
type Bus struct {
	mu               sync.Mutex
	runs             map[string]*runLog
	subscriberBuffer int
}

// NewBus builds a Bus whose subscriber channels hold bufferSize events
// before a slow consumer starts dropping. bufferSize <= 0 selects
// DefaultSubscriberBuffer.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{runs: make(map[string]*runLog), subscriberBuffer: bufferSize}
}

type runLog struct {
	mu      sync.Mutex
	log     []models.Event
	nextSeq uint64
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	ch      chan models.Event
	dropped atomic.Uint64
}

func (b *Bus) runFor(runID string) *runLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		rl = &runLog{subs: make(map[int]*subscriber)}
		b.runs[runID] = rl
	}
	return rl
}

// Publish assigns evt the next sequence number for its run, appends it to
// the retained log, and fans it out to every live subscriber without
// blocking. It satisfies the narrow EventEmitter interfaces pkg/budget,
// pkg/dispatcher, and pkg/engine each declare independently.
func (b *Bus) Publish(_ context.Context, evt models.Event) {
	rl := b.runFor(evt.RunID)

	rl.mu.Lock()
	rl.nextSeq++
	evt.Sequence = rl.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	rl.log = append(rl.log, evt)

	for _, sub := range rl.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
	rl.mu.Unlock()
}

// Subscription is a live handle to a run's event stream, pre-loaded with
// any retained events after fromOffset.
type Subscription struct {
	events chan models.Event
	sub    *subscriber
	rl     *runLog
	id     int
}

// Events returns the channel to range over.
func (s *Subscription) Events() <-chan models.Event { return s.events }

// Dropped reports how many live events this subscriber has missed because
// its buffer was full when they were published.
func (s *Subscription) Dropped() uint64 { return s.sub.dropped.Load() }

// Close detaches the subscriber. Safe to call once; the caller stops
// receiving further events after this returns.
func (s *Subscription) Close() {
	s.rl.mu.Lock()
	delete(s.rl.subs, s.id)
	s.rl.mu.Unlock()
	close(s.events)
}

// Subscribe attaches a new subscriber to runID, replaying every retained
// event with Sequence > fromOffset before delivering live events. The
// replay and the subscriber's registration happen under the same lock, so
// no event published concurrently with Subscribe is both missed by the
// replay and missed by live delivery.
func (b *Bus) Subscribe(runID string, fromOffset uint64) *Subscription {
	rl := b.runFor(runID)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	backlog := make([]models.Event, 0, len(rl.log))
	for _, evt := range rl.log {
		if evt.Sequence > fromOffset {
			backlog = append(backlog, evt)
		}
	}

	bufSize := b.subscriberBuffer
	if bufSize < len(backlog) {
		bufSize = len(backlog)
	}
	sub := &subscriber{ch: make(chan models.Event, bufSize)}
	for _, evt := range backlog {
		sub.ch <- evt // capacity guarantees this never blocks
	}

	id := rl.nextSub
	rl.nextSub++
	rl.subs[id] = sub

	return &Subscription{events: sub.ch, sub: sub, rl: rl, id: id}
}

// History returns every retained event for runID with Sequence >
// fromOffset, for callers (e.g. `status(run_id)`) that want a snapshot
// without holding a live subscription open.
func (b *Bus) History(runID string, fromOffset uint64) []models.Event {
	rl := b.runFor(runID)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]models.Event, 0, len(rl.log))
	for _, evt := range rl.log {
		if evt.Sequence > fromOffset {
			out = append(out, evt)
		}
	}
	return out
}

// EventsDropped sums the drop counters across every currently live
// subscriber for runID (the events_dropped counter).
func (b *Bus) EventsDropped(runID string) uint64 {
	rl := b.runFor(runID)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var total uint64
	for _, sub := range rl.subs {
		total += sub.dropped.Load()
	}
	return total
}
