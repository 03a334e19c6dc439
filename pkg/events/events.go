// Package events implements the subscription/event bus (C1): named-topic
// pub/sub with synchronous, stoppable delivery and a per-bus asynchronous
// worker queue. Semantics follow SubscriptionService: a subscriber is
// either subscribed to "all events" or to a set of named events, never
// both on the same bus; synchronous delivery goes to named subscribers
// first, then all-event subscribers, and stops early if a handler sets
// StopProcessing.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/5g-mag/mbs-traffic-function/pkg/log"
)

// Event is the envelope carried through a Bus. Name is the tag a
// subscriber switches on (replacing the original's RTTI downcast of a
// polymorphic Event hierarchy); Payload carries the event's typed data,
// e.g. an objectstore.ObjectAddedPayload{ObjectID: "..."}.
type Event struct {
	Name           string
	Payload        any
	preventDefault bool
	stopProcessing bool
}

// NewEvent returns a fresh event with both flags clear.
func NewEvent(name string, payload any) Event {
	return Event{Name: name, Payload: payload}
}

// StopProcessing marks the event so no further subscriber (named or
// all-events) is invoked for this delivery.
func (e *Event) StopProcessing() { e.stopProcessing = true }

// PreventDefault marks the event so the synchronous sender's default
// action is skipped, without stopping delivery to other subscribers.
func (e *Event) PreventDefault() { e.preventDefault = true }

func (e *Event) StopProcessingFlag() bool { return e.stopProcessing }
func (e *Event) PreventDefaultFlag() bool { return e.preventDefault }

// Subscriber receives events from a Bus. A Subscriber that also
// implements SubscriberRemovedHandler has SubscriberRemoved called once
// per bus it was attached to, when that bus is closed, so it can clear
// its own back-reference.
type Subscriber interface {
	ProcessEvent(event *Event, bus *Bus)
}

// SubscriberRemovedHandler is implemented optionally by a Subscriber that
// needs to know when a bus it was subscribed to goes away.
type SubscriberRemovedHandler interface {
	SubscriberRemoved(bus *Bus)
}

// Bus is one instance of the subscription service. A component (the
// ObjectStore, the packager, the push ingester) owns one Bus.
type Bus struct {
	name string
	log  zerolog.Logger

	mu        sync.Mutex
	allSubs   []Subscriber
	namedSubs map[string][]Subscriber

	asyncCh   chan *Event
	asyncStop chan struct{}
	asyncWG   sync.WaitGroup
	started   bool
}

// NewBus creates a bus identified by name (used for logging and the
// bus's own String() representation) and starts its asynchronous
// delivery worker.
func NewBus(name string) *Bus {
	b := &Bus{
		name:      name,
		log:       log.WithComponent("events").With().Str("bus", name).Logger(),
		namedSubs: make(map[string][]Subscriber),
		asyncCh:   make(chan *Event, 256),
		asyncStop: make(chan struct{}),
	}
	b.startAsyncLoop()
	return b
}

func (b *Bus) startAsyncLoop() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.asyncWG.Add(1)
	go func() {
		defer b.asyncWG.Done()
		for {
			select {
			case ev := <-b.asyncCh:
				b.SendSynchronous(ev)
			case <-b.asyncStop:
				// Drain remaining queued events before exiting so events
				// published just before Close are still delivered.
				for {
					select {
					case ev := <-b.asyncCh:
						b.SendSynchronous(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Subscribe subscribes sub to all events on this bus. Any existing
// named-event subscriptions for sub on this bus are replaced, since a
// subscriber may not be both in the all-events set and a named set.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeFromNamedLocked(sub)
	if !containsSub(b.allSubs, sub) {
		b.allSubs = append(b.allSubs, sub)
	}
}

// SubscribeNamed subscribes sub to the listed event names. No-op if sub
// is already in the all-events set.
func (b *Bus) SubscribeNamed(names []string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if containsSub(b.allSubs, sub) {
		return
	}
	for _, name := range names {
		list := b.namedSubs[name]
		if !containsSub(list, sub) {
			b.namedSubs[name] = append(list, sub)
		}
	}
}

// Unsubscribe removes sub from the all-events set.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = removeSub(b.allSubs, sub)
}

// UnsubscribeNamed removes sub from the listed named-event sets.
func (b *Bus) UnsubscribeNamed(names []string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.namedSubs[name] = removeSub(b.namedSubs[name], sub)
	}
}

func (b *Bus) removeFromNamedLocked(sub Subscriber) {
	for name, list := range b.namedSubs {
		b.namedSubs[name] = removeSub(list, sub)
	}
}

func containsSub(list []Subscriber, sub Subscriber) bool {
	for _, s := range list {
		if s == sub {
			return true
		}
	}
	return false
}

func removeSub(list []Subscriber, sub Subscriber) []Subscriber {
	out := list[:0]
	for _, s := range list {
		if s != sub {
			out = append(out, s)
		}
	}
	return out
}

// SendSynchronous delivers event to named subscribers for event.Name
// first, then to all-event subscribers, stopping early if a handler sets
// StopProcessing. It returns false if any handler called PreventDefault.
// A handler that panics is isolated to that delivery: it is recovered,
// logged, and delivery continues to the remaining subscribers.
func (b *Bus) SendSynchronous(event *Event) bool {
	b.mu.Lock()
	named := append([]Subscriber(nil), b.namedSubs[event.Name]...)
	all := append([]Subscriber(nil), b.allSubs...)
	b.mu.Unlock()

	for _, sub := range named {
		b.deliver(sub, event)
		if event.stopProcessing {
			return !event.preventDefault
		}
	}
	for _, sub := range all {
		b.deliver(sub, event)
		if event.stopProcessing {
			return !event.preventDefault
		}
	}
	return !event.preventDefault
}

func (b *Bus) deliver(sub Subscriber, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", event.Name).Msg("subscriber panicked handling event")
		}
	}()
	sub.ProcessEvent(event, b)
}

// SendAsynchronous enqueues event for delivery on the bus's dedicated
// worker goroutine. Queue order is preserved; a subscriber may safely
// call SendSynchronous on this or another bus from within its handler.
func (b *Bus) SendAsynchronous(event *Event) {
	select {
	case b.asyncCh <- event:
	case <-b.asyncStop:
	}
}

// Close cancels the async worker and joins it (the worker first delivers
// any events still queued), then notifies every currently subscribed
// Subscriber (in both the all-events and every named set, each notified
// at most once) via SubscriberRemoved.
func (b *Bus) Close() {
	close(b.asyncStop)
	b.asyncWG.Wait()

	b.mu.Lock()
	seen := make(map[Subscriber]bool)
	notify := make([]Subscriber, 0, len(b.allSubs))
	for _, s := range b.allSubs {
		if !seen[s] {
			seen[s] = true
			notify = append(notify, s)
		}
	}
	for _, list := range b.namedSubs {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				notify = append(notify, s)
			}
		}
	}
	b.allSubs = nil
	b.namedSubs = make(map[string][]Subscriber)
	b.mu.Unlock()

	for _, s := range notify {
		if h, ok := s.(SubscriberRemovedHandler); ok {
			h.SubscriberRemoved(b)
		}
	}
}

// String renders the bus's current subscriptions, useful for debugging
// and tests (a Go rendering of SubscriptionService::reprString).
func (b *Bus) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	namedCount := 0
	for _, list := range b.namedSubs {
		namedCount += len(list)
	}
	return fmt.Sprintf("Bus(%s, all=%d, named=%d)", b.name, len(b.allSubs), namedCount)
}
