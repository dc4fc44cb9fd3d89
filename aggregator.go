package driftbus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Aggregator fans the traffic of multiple independently owned buses into a
// single internal bus. Each managed bus gets a universal-wildcard,
// match-any forwarding subscription that republishes its messages onto the
// internal bus with topic, payload, metadata and correlation id preserved.
//
// Flow is strictly one-directional: messages published directly to the
// aggregator are never forwarded to the managed buses.
type Aggregator struct {
	internal *PubSub
	logger   *zap.Logger

	mu      sync.Mutex
	managed map[*PubSub]string // bus -> forwarding subscription id

	shutdown atomic.Bool
}

// NewAggregator constructs an aggregator around a fresh internal bus built
// from opts, and attaches the given buses. A nil or empty managed slice is
// fine.
func NewAggregator(managed []*PubSub, opts ...Option) (*Aggregator, error) {
	internal, err := New(opts...)
	if err != nil {
		return nil, err
	}
	a := &Aggregator{
		internal: internal,
		logger:   internal.cfg.Logger,
		managed:  make(map[*PubSub]string),
	}
	for _, b := range managed {
		if err := a.AddPubSub(b); err != nil {
			a.Shutdown(false)
			return nil, err
		}
	}
	return a, nil
}

// AddPubSub attaches a bus to the aggregator by registering a forwarding
// subscription on it.
func (a *Aggregator) AddPubSub(b *PubSub) error {
	const op = "add_pubsub"

	if a.shutdown.Load() {
		return newError(KindRuntime, op, ErrShutdown)
	}
	if b == nil {
		return newErrorf(KindValue, op, ErrNilPubSub, "pubsub cannot be nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown.Load() {
		return newError(KindRuntime, op, ErrShutdown)
	}
	if _, ok := a.managed[b]; ok {
		return newError(KindValue, op, ErrAlreadyManaged)
	}

	subID, err := b.Subscribe(Wildcard, a.forward, FilterCorrelation(Wildcard))
	if err != nil {
		return err
	}
	a.managed[b] = subID
	return nil
}

// RemovePubSub detaches a bus by removing its forwarding subscription.
func (a *Aggregator) RemovePubSub(b *PubSub) error {
	const op = "remove_pubsub"

	if b == nil {
		return newErrorf(KindValue, op, ErrNilPubSub, "pubsub cannot be nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	subID, ok := a.managed[b]
	if !ok {
		return newError(KindLookup, op, ErrNotManaged)
	}
	delete(a.managed, b)

	// A managed bus that was shut down behind our back has already dropped
	// the forwarding subscription.
	if err := b.Unsubscribe(Wildcard, subID); err != nil {
		a.logger.Warn("could not detach forwarding subscription",
			zap.String("subscriber_id", subID),
			zap.Error(err))
	}
	return nil
}

// Managed returns a snapshot of the currently managed buses.
func (a *Aggregator) Managed() []*PubSub {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*PubSub, 0, len(a.managed))
	for b := range a.managed {
		out = append(out, b)
	}
	return out
}

// IsManaged reports whether b is currently managed by the aggregator.
func (a *Aggregator) IsManaged(b *PubSub) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.managed[b]
	return ok
}

// Subscribe registers a subscriber on the internal bus.
func (a *Aggregator) Subscribe(topic string, cb Callback, opts ...SubscribeOption) (string, error) {
	return a.internal.Subscribe(topic, cb, opts...)
}

// Publish publishes to the internal bus only. Managed buses never see
// messages published here.
func (a *Aggregator) Publish(topic string, data map[string]any, opts ...PublishOption) error {
	return a.internal.Publish(topic, data, opts...)
}

// Unsubscribe removes a subscription from the internal bus.
func (a *Aggregator) Unsubscribe(topic, id string) error {
	return a.internal.Unsubscribe(topic, id)
}

// Clear removes subscriptions from the internal bus.
func (a *Aggregator) Clear(topics ...string) {
	a.internal.Clear(topics...)
}

// Drain drains the internal bus. With cascade set, every managed bus is
// drained first so in-flight forwarded messages reach the internal bus
// before it is drained. Returns true only if every drain completed within
// its timeout.
func (a *Aggregator) Drain(timeout time.Duration, cascade bool) bool {
	ok := true
	if cascade {
		for _, b := range a.Managed() {
			ok = b.Drain(timeout) && ok
		}
	}
	return a.internal.Drain(timeout) && ok
}

// Shutdown detaches every forwarding subscription and shuts down the
// internal bus. With cascade set, every managed bus is shut down as well.
// Idempotent.
func (a *Aggregator) Shutdown(cascade bool) {
	if a.shutdown.Swap(true) {
		return
	}

	a.mu.Lock()
	managed := make(map[*PubSub]string, len(a.managed))
	for b, id := range a.managed {
		managed[b] = id
	}
	a.managed = make(map[*PubSub]string)
	a.mu.Unlock()

	for b, subID := range managed {
		if b.IsShutdown() {
			continue
		}
		if err := b.Unsubscribe(Wildcard, subID); err != nil {
			a.logger.Warn("could not detach forwarding subscription",
				zap.String("subscriber_id", subID),
				zap.Error(err))
		}
	}

	a.internal.Shutdown()

	if cascade {
		for b := range managed {
			b.Shutdown()
		}
	}
}

// IsShutdown reports whether the aggregator has been shut down.
func (a *Aggregator) IsShutdown() bool { return a.shutdown.Load() }

// CorrelationID returns the internal bus correlation id.
func (a *Aggregator) CorrelationID() string { return a.internal.CorrelationID() }

// CorrelationIDs returns the internal bus correlation-id snapshot.
func (a *Aggregator) CorrelationIDs() []string { return a.internal.CorrelationIDs() }

// Subscribers returns the internal bus registry snapshot.
func (a *Aggregator) Subscribers() map[string][]string { return a.internal.Subscribers() }

// WildcardSubscribers returns the internal bus universal-wildcard snapshot.
func (a *Aggregator) WildcardSubscribers() []string { return a.internal.WildcardSubscribers() }

// forward is the callback registered on every managed bus. It republishes
// the message onto the internal bus, preserving all fields. Failures after
// shutdown are expected and swallowed.
func (a *Aggregator) forward(msg Message) error {
	if a.shutdown.Load() {
		return nil
	}
	return a.internal.Publish(msg.Topic, msg.Data,
		WithCorrelationID(msg.CorrelationID),
		WithMetadata(msg.Metadata))
}
