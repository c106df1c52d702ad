// Package events provides the in-process publish/subscribe hub used by every
// component to broadcast state changes. Each event type keeps a bounded
// history ring so late subscribers (dashboard, replay) can backfill.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trading-agentv1/internal/model"
)

// historyCap is the per-type bound on retained events; the oldest entry is
// evicted first.
const historyCap = 1000

// Handler receives a delivered event. A non-nil error (or a panic) is
// recorded and isolated; it never fails delivery to other handlers or the
// caller of Emit.
type Handler func(model.Event) error

// Subscription identifies one registered handler for removal.
type Subscription struct {
	eventType model.EventType
	handler   Handler
}

// Bus fans events out to subscribers and records bounded per-type history.
type Bus struct {
	mu   sync.RWMutex
	subs map[model.EventType]map[*Subscription]struct{}
	hist map[model.EventType]*ring

	log *slog.Logger

	// OnHandlerError is called for each handler that returned an error or
	// panicked during dispatch. Optional; used to wire metrics.
	OnHandlerError func(t model.EventType, err error)
}

// New creates a Bus with empty subscriber sets for every known event type.
func New(log *slog.Logger) *Bus {
	b := &Bus{
		subs: make(map[model.EventType]map[*Subscription]struct{}),
		hist: make(map[model.EventType]*ring),
		log:  log,
	}
	for _, t := range model.AllEventTypes() {
		b.subs[t] = make(map[*Subscription]struct{})
		b.hist[t] = newRing(historyCap)
	}
	return b
}

// Subscribe registers handler for events of type t and returns a token for
// Unsubscribe. Subscribing to an unknown variant is a caller error.
func (b *Bus) Subscribe(t model.EventType, handler Handler) (*Subscription, error) {
	if !model.KnownEventType(t) {
		return nil, fmt.Errorf("subscribe: unknown event type %q", t)
	}
	sub := &Subscription{eventType: t, handler: handler}
	b.mu.Lock()
	b.subs[t][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes a previously registered subscription. Unknown or
// already-removed subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if set, ok := b.subs[sub.eventType]; ok {
		delete(set, sub)
	}
	b.mu.Unlock()
}

// Emit stamps payload with the event type and a UTC timestamp, appends it to
// the type's history, then dispatches to all current subscribers
// concurrently. Emit returns after every handler has completed or failed;
// handler failures are recorded but never propagated to the caller.
func (b *Bus) Emit(t model.EventType, payload map[string]any) error {
	if !model.KnownEventType(t) {
		return fmt.Errorf("emit: unknown event type %q", t)
	}

	stamped := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		stamped[k] = v
	}
	now := time.Now().UTC()
	stamped["event_type"] = string(t)
	stamped["timestamp"] = now.Format(time.RFC3339Nano)

	ev := model.Event{Type: t, Timestamp: now, Payload: stamped}

	b.mu.Lock()
	b.hist[t].push(ev)
	handlers := make([]Handler, 0, len(b.subs[t]))
	for sub := range b.subs[t] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h Handler) {
			defer wg.Done()
			b.dispatch(t, h, ev)
		}(h)
	}
	wg.Wait()
	return nil
}

// dispatch runs one handler, converting panics into recorded errors so a
// misbehaving subscriber cannot take down the emitter.
func (b *Bus) dispatch(t model.EventType, h Handler, ev model.Event) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		err = h(ev)
	}()
	if err == nil {
		return
	}
	if b.log != nil {
		b.log.Error("event handler failed", "event_type", string(t), "err", err)
	}
	if b.OnHandlerError != nil {
		b.OnHandlerError(t, err)
	}
}

// History returns the most recent limit events of type t in insertion order.
// A limit <= 0 returns the full retained history. Unknown types yield nil.
func (b *Bus) History(t model.EventType, limit int) []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.hist[t]
	if !ok {
		return nil
	}
	return r.tail(limit)
}

// ring is a fixed-capacity event buffer that evicts the oldest entry.
type ring struct {
	buf   []model.Event
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.Event, capacity)}
}

func (r *ring) push(ev model.Event) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	// Full: overwrite the oldest entry.
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// tail returns the newest n entries in insertion order (all if n <= 0).
func (r *ring) tail(n int) []model.Event {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]model.Event, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+r.size-n+i)%len(r.buf)]
	}
	return out
}
