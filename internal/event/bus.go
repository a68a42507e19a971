package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBufferSize = 256

// BusOptions configures a Bus.
type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	HistorySize          int
	Logger               *slog.Logger
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu           sync.Mutex
	subscribers  map[uint64]subscription
	nextSubID    uint64
	closed       bool
	closeOnce    sync.Once
	options      BusOptions
	published    atomic.Int64
	dropped      atomic.Int64
	history      []Event
	historyNext  int
	historyCount int
}

type subscription struct {
	id     uint64
	ch     chan Event
	filter func(Event) bool
}

// NewBus creates a bus that closes itself when ctx is done.
func NewBus(ctx context.Context, opts BusOptions) *Bus {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	bus := &Bus{
		subscribers: make(map[uint64]subscription),
		options:     opts,
	}
	if opts.HistorySize > 0 {
		bus.history = make([]Event, opts.HistorySize)
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

// Subscribe returns a channel receiving every event and a cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeSession returns a channel receiving only events of one session.
// An empty sessionID subscribes to everything.
func (b *Bus) SubscribeSession(sessionID string) (<-chan Event, func()) {
	if sessionID == "" {
		return b.Subscribe()
	}
	return b.SubscribeFiltered(func(e Event) bool { return e.SessionID == sessionID })
}

// SubscribeFiltered returns a channel receiving events accepted by filter.
func (b *Bus) SubscribeFiltered(filter func(Event) bool) (<-chan Event, func()) {
	ch := make(chan Event, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = subscription{id: id, ch: ch, filter: filter}
	b.mu.Unlock()

	return ch, func() { b.removeSubscriber(id) }
}

// Publish delivers e to every matching subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.appendHistoryLocked(e)
	b.published.Add(1)

	// Sending under the lock keeps per-publisher ordering identical for
	// every subscriber; sends are non-blocking so the lock is never held long.
	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
				b.options.Logger.Warn("event bus dropped events",
					"bus", b.busName(), "dropped", n, "type", e.Kind)
			}
		}
	}
}

// History returns up to count of the most recent events in order.
// count <= 0 returns the whole history.
func (b *Bus) History(count int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == 0 || b.historyCount == 0 {
		return nil
	}
	total := b.historyCount
	if count <= 0 || count > total {
		count = total
	}
	start := 0
	if total == len(b.history) {
		start = (b.historyNext - count + len(b.history)) % len(b.history)
	} else {
		start = total - count
	}

	events := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, b.history[(start+i)%len(b.history)])
	}
	return events
}

// Stats reports published and dropped counts.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription)
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

func (b *Bus) removeSubscriber(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

func (b *Bus) appendHistoryLocked(e Event) {
	if len(b.history) == 0 {
		return
	}
	b.history[b.historyNext] = e
	if b.historyCount < len(b.history) {
		b.historyCount++
	}
	b.historyNext = (b.historyNext + 1) % len(b.history)
}

func (b *Bus) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}
