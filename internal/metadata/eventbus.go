package metadata

import (
	"sync"
	"time"
)

/*
EventBus is a per-crawl publish/subscribe channel owned by the scheduler.
Unlike the module-level singleton this pattern is often implemented as, the
bus here is a leaf with no back-references: the scheduler and the
Recorder each hold a strong reference to it, and the bus holds only
subscriptions. This breaks the scheduler/writer/bus reference cycle without
resorting to weak pointers.

onWithReplay semantics: a subscriber that attaches after an event type has
already fired still receives every occurrence of that type buffered so far
in this crawl (bounded per type), so UIs that attach late do not miss
crawl.started or earlier checkpoint.saved events.
*/
type EventBus struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[EventType][]chan Event
	replay      map[EventType][]Event
	replayCap   int
}

func NewEventBus(replayCap int) *EventBus {
	if replayCap <= 0 {
		replayCap = 64
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		replay:      make(map[EventType][]Event),
		replayCap:   replayCap,
	}
}

// Publish emits an event of the given type, stamping it with a monotonic
// sequence number and the current time, then delivers it to every current
// subscriber of that type (non-blocking; slow subscribers drop events
// rather than stall the crawl).
func (b *EventBus) Publish(eventType EventType, crawlID string, fields map[string]string) Event {
	b.mu.Lock()
	b.seq++
	event := Event{
		Type:      eventType,
		CrawlID:   crawlID,
		Seq:       b.seq,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	ring := b.replay[eventType]
	ring = append(ring, event)
	if len(ring) > b.replayCap {
		ring = ring[len(ring)-b.replayCap:]
	}
	b.replay[eventType] = ring

	subs := append([]chan Event(nil), b.subscribers[eventType]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// On subscribes to future events of eventType only.
func (b *EventBus) On(eventType EventType) <-chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	b.mu.Unlock()
	return ch
}

// OnWithReplay subscribes to eventType and immediately receives every
// buffered occurrence of it from earlier in this crawl, before any future
// occurrence.
func (b *EventBus) OnWithReplay(eventType EventType) <-chan Event {
	b.mu.Lock()
	past := b.replay[eventType]
	// Buffer the replay before registering, so no Publish can reach the
	// channel ahead of it.
	ch := make(chan Event, len(past)+32)
	for _, event := range past {
		ch <- event
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	b.mu.Unlock()
	return ch
}
