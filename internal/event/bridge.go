// Package event implements the bridge between the engine goroutine and
// asynchronous subscribers (status server, log sinks). Publishing never
// blocks the engine: critical events are queued without loss and delivered
// in publish order, informational events are coalesced under backpressure.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"limitless/internal/domain"
)

// defaultInfoCap bounds the informational queue. Under saturation the
// oldest pending informational event is dropped to make room.
const defaultInfoCap = 256

// infoKey identifies coalescable informational events: a newer price tick
// for a symbol replaces the queued tick for that same symbol only.
type infoKey struct {
	kind   domain.EventKind
	symbol string
}

type subscriber struct {
	id int
	ch chan domain.Event
}

// Bridge fans engine events out to subscribers from its own dispatch
// goroutine. The engine side (Publish) only ever appends to in-memory
// queues under a mutex; all channel sends happen on the dispatch side.
type Bridge struct {
	mu       sync.Mutex
	critical []domain.Event
	info     []domain.Event
	infoIdx  map[infoKey]int
	infoCap  int

	wake chan struct{}
	done chan struct{}

	subsMu sync.Mutex
	subs   map[int]*subscriber
	nextID int

	running   atomic.Bool
	closeOnce sync.Once
	log       *slog.Logger
}

// NewBridge creates a Bridge. Run must be started before events are
// retained; until then Publish is a success no-op so the engine can run
// headless.
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		infoIdx: make(map[infoKey]int),
		infoCap: defaultInfoCap,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		subs:    make(map[int]*subscriber),
		log:     log.With("component", "bridge"),
	}
}

// Publish hands an event to the bridge. Never blocks. Safe to call from
// the engine goroutine regardless of subscriber state; with no running
// dispatcher the event is discarded.
func (b *Bridge) Publish(ev domain.Event) {
	if !b.running.Load() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	if ev.Critical() {
		b.critical = append(b.critical, ev)
	} else {
		b.enqueueInfo(ev)
	}
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// enqueueInfo coalesces by (kind, symbol) and bounds the queue by dropping
// the oldest entry. Caller holds b.mu.
func (b *Bridge) enqueueInfo(ev domain.Event) {
	key := infoKey{kind: ev.Kind, symbol: ev.Symbol}
	if i, ok := b.infoIdx[key]; ok {
		b.info[i] = ev
		return
	}
	if len(b.info) >= b.infoCap {
		dropped := infoKey{kind: b.info[0].Kind, symbol: b.info[0].Symbol}
		delete(b.infoIdx, dropped)
		b.info = b.info[1:]
		for k, i := range b.infoIdx {
			b.infoIdx[k] = i - 1
		}
	}
	b.info = append(b.info, ev)
	b.infoIdx[key] = len(b.info) - 1
}

// Run is the dispatch loop. It must be run in its own goroutine, started
// before the engine. It returns after Close, once queued critical events
// have been flushed.
func (b *Bridge) Run() {
	b.running.Store(true)
	for {
		select {
		case <-b.done:
			b.flush()
			b.closeSubscribers()
			return
		case <-b.wake:
			b.flush()
		}
	}
}

// Close stops the dispatch loop. Idempotent.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.running.Store(false)
		close(b.done)
	})
}

// flush drains both queues and delivers to every subscriber.
func (b *Bridge) flush() {
	for {
		b.mu.Lock()
		critical := b.critical
		info := b.info
		b.critical = nil
		b.info = nil
		b.infoIdx = make(map[infoKey]int)
		b.mu.Unlock()

		if len(critical) == 0 && len(info) == 0 {
			return
		}
		for _, ev := range critical {
			b.deliver(ev, true)
		}
		for _, ev := range info {
			b.deliver(ev, false)
		}
	}
}

// deliver sends one event to every subscriber. A subscriber whose buffer
// is full drops informational events; for critical events it is detached
// instead, so remaining subscribers keep the ordering guarantee and the
// dispatcher never blocks on a dead client.
func (b *Bridge) deliver(ev domain.Event, critical bool) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if critical {
				b.log.Warn("detaching stalled subscriber", "id", id, "kind", ev.Kind)
				close(sub.ch)
				delete(b.subs, id)
			}
		}
	}
}

// Subscribe attaches a new subscriber with the given channel buffer. The
// returned channel is closed on Unsubscribe or bridge shutdown.
func (b *Bridge) Subscribe(buf int) (int, <-chan domain.Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{id: id, ch: make(chan domain.Event, buf)}
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// while a publish storm is in flight, or with an unknown id.
func (b *Bridge) Unsubscribe(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bridge) SubscriberCount() int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return len(b.subs)
}

func (b *Bridge) closeSubscribers() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
