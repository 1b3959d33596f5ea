// Package events implements the per-simulation topic bus. Handlers are
// invoked synchronously, in registration order, on the publishing goroutine.
//
// A Bus is owned by exactly one simulation and is not safe for concurrent
// use. Isolation between concurrently running simulations comes from each
// one holding its own Bus, not from locking.
package events

import (
	"context"
	"errors"
	"fmt"
)

// Handler receives the payload published on a topic. Payload types are a
// convention between publisher and subscribers.
type Handler func(ctx context.Context, payload any) error

// ErrClosed is returned when publishing to or subscribing on a bus whose
// simulation has terminated.
var ErrClosed = errors.New("events: bus closed")

// HandlerError wraps an error returned by a subscriber during Publish.
type HandlerError struct {
	Topic string
	Owner string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("events: %s handling %q: %v", e.Owner, e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Token identifies a single subscription. The zero Token matches nothing.
type Token struct {
	topic string
	id    uint64
}

// Topic returns the topic the subscription was registered on.
func (t Token) Topic() string { return t.topic }

type subscription struct {
	id      uint64
	owner   string
	handler Handler
	removed bool
}

// topicSubs holds the ordered subscribers of one topic. Removal only
// tombstones an entry; the slice is compacted once no publish is iterating it.
type topicSubs struct {
	subs       []*subscription
	publishing int
	removed    int
}

func (t *topicSubs) compact() {
	if t.removed == 0 {
		return
	}
	live := t.subs[:0]
	for _, s := range t.subs {
		if !s.removed {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(t.subs); i++ {
		t.subs[i] = nil
	}
	t.subs = live
	t.removed = 0
}

// Bus maps topic names to ordered subscriber lists.
type Bus struct {
	topics  map[string]*topicSubs
	index   map[uint64]*subscription
	byOwner map[string][]Token
	nextID  uint64
	closed  bool
}

// NewBus creates an empty, open bus.
func NewBus() *Bus {
	return &Bus{
		topics:  make(map[string]*topicSubs),
		index:   make(map[uint64]*subscription),
		byOwner: make(map[string][]Token),
	}
}

// Subscribe registers h for topic on behalf of owner. Handlers registered
// while the topic is being published are not invoked by that publish.
func (b *Bus) Subscribe(topic, owner string, h Handler) (Token, error) {
	if b.closed {
		return Token{}, fmt.Errorf("%w: subscribe %q", ErrClosed, topic)
	}
	if h == nil {
		return Token{}, fmt.Errorf("events: nil handler for %q", topic)
	}
	t := b.topics[topic]
	if t == nil {
		t = &topicSubs{}
		b.topics[topic] = t
	}
	b.nextID++
	s := &subscription{id: b.nextID, owner: owner, handler: h}
	t.subs = append(t.subs, s)
	b.index[s.id] = s

	tok := Token{topic: topic, id: s.id}
	b.byOwner[owner] = append(b.byOwner[owner], tok)
	return tok, nil
}

// Unsubscribe removes the subscription identified by tok. It is safe to call
// from inside a handler: the removed handler is not invoked again, including
// later in the publish that is currently running. Reports whether a live
// subscription was removed.
func (b *Bus) Unsubscribe(tok Token) bool {
	s, ok := b.index[tok.id]
	if !ok {
		return false
	}
	delete(b.index, tok.id)
	s.removed = true

	t := b.topics[tok.topic]
	t.removed++
	if t.publishing == 0 && t.removed*2 >= len(t.subs) {
		t.compact()
	}
	return true
}

// UnsubscribeOwner removes every subscription registered by owner and
// returns how many were live.
func (b *Bus) UnsubscribeOwner(owner string) int {
	n := 0
	for _, tok := range b.byOwner[owner] {
		if b.Unsubscribe(tok) {
			n++
		}
	}
	delete(b.byOwner, owner)
	return n
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	t := b.topics[topic]
	if t == nil {
		return 0
	}
	return len(t.subs) - t.removed
}

// Publish invokes every handler registered for topic in registration order.
// The first handler error stops delivery and is returned as a *HandlerError.
// Panics are not recovered here.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	if b.closed {
		return fmt.Errorf("%w: publish %q", ErrClosed, topic)
	}
	t := b.topics[topic]
	if t == nil {
		return nil
	}

	t.publishing++
	defer func() {
		t.publishing--
		if t.publishing == 0 {
			t.compact()
		}
	}()

	n := len(t.subs)
	for i := 0; i < n; i++ {
		s := t.subs[i]
		if s.removed {
			continue
		}
		if err := s.handler(ctx, payload); err != nil {
			// Keep the innermost topic when handlers publish nested topics.
			var he *HandlerError
			if errors.As(err, &he) {
				return err
			}
			return &HandlerError{Topic: topic, Owner: s.owner, Err: err}
		}
	}
	return nil
}

// Close tears down every subscription. Any later Publish or Subscribe
// returns ErrClosed.
func (b *Bus) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for _, t := range b.topics {
		for _, s := range t.subs {
			s.removed = true
		}
	}
	b.topics = make(map[string]*topicSubs)
	b.index = make(map[uint64]*subscription)
	b.byOwner = make(map[string][]Token)
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool { return b.closed }

// Endpoint returns a view of the bus bound to owner, handed to a model
// component when it joins an active graph.
func (b *Bus) Endpoint(owner string) *Endpoint {
	return &Endpoint{bus: b, owner: owner}
}

// Endpoint subscribes and publishes on behalf of a single owner.
type Endpoint struct {
	bus   *Bus
	owner string
}

// Owner returns the owner name used for subscriptions.
func (e *Endpoint) Owner() string { return e.owner }

// On subscribes h to topic.
func (e *Endpoint) On(topic string, h Handler) (Token, error) {
	return e.bus.Subscribe(topic, e.owner, h)
}

// Off removes a subscription made through On.
func (e *Endpoint) Off(tok Token) bool {
	return e.bus.Unsubscribe(tok)
}

// Publish publishes on the underlying bus.
func (e *Endpoint) Publish(ctx context.Context, topic string, payload any) error {
	return e.bus.Publish(ctx, topic, payload)
}
