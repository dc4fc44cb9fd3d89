package driftbus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberEntry is one live subscription. Owned exclusively by the
// registry; dispatch works on snapshots.
type subscriberEntry struct {
	id       string
	topic    string // the original Subscribe argument, used as bucket key
	callback Callback

	// matchAny is true when the filter resolved to "match any correlation
	// id"; otherwise correlation holds the exact id to match.
	matchAny    bool
	correlation string

	// pattern is non-nil for wildcard-pattern subscriptions.
	pattern *TopicPattern
}

// PubSub is an in-process, topic-addressed publish-subscribe bus.
//
// Publish never blocks on subscriber execution: messages are placed on an
// unbounded FIFO queue consumed by a single dispatch goroutine started at
// construction. The dispatcher snapshots the matching subscribers under the
// registry lock, releases the lock, then invokes callbacks in subscription
// order, so callbacks are free to call Subscribe, Publish and Unsubscribe
// on the same bus.
//
// Matching buckets are consulted in a fixed order per message: exact topic,
// then wildcard patterns, then universal-wildcard subscribers.
//
// Shutdown discards messages still sitting in the queue; the message being
// dispatched at that moment is allowed to finish. Shutdown must not be
// called from inside a subscriber callback.
type PubSub struct {
	cfg Config

	// mu guards the registry and the correlation-id set. It is never held
	// while a callback runs.
	mu             sync.Mutex
	topics         map[string][]*subscriberEntry
	patterns       []*subscriberEntry
	wildcards      []*subscriberEntry
	correlationIDs map[string]struct{}

	// qmu guards the queue, the pending counter and the idle channel.
	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []Message
	pending int           // queued plus in-flight messages
	idle    chan struct{} // closed whenever pending drops to zero
	stopped bool

	shutdown   atomic.Bool
	workerDone chan struct{}
}

// New constructs a PubSub and starts its dispatch goroutine. The instance
// correlation id is validated (or generated when absent) and seeded into
// the correlation-id set.
func New(opts ...Option) (*PubSub, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch cfg.CorrelationID {
	case "":
		cfg.CorrelationID = NewCorrelationID()
	case Wildcard:
		return nil, newErrorf(KindValue, "new", ErrInvalidCorrelationID,
			"instance correlation id cannot be %q", Wildcard)
	default:
		if err := ValidateCorrelationID(cfg.CorrelationID); err != nil {
			return nil, err
		}
	}

	if cfg.ErrorHandler == nil {
		logger := cfg.Logger
		cfg.ErrorHandler = func(err error, topic string) {
			logger.Error("subscriber callback failed",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}

	idle := make(chan struct{})
	close(idle)

	ps := &PubSub{
		cfg:            cfg,
		topics:         make(map[string][]*subscriberEntry),
		correlationIDs: map[string]struct{}{cfg.CorrelationID: {}},
		idle:           idle,
		workerDone:     make(chan struct{}),
	}
	ps.qcond = sync.NewCond(&ps.qmu)

	go ps.worker()
	return ps, nil
}

// Scoped constructs a bus, hands it to fn, and guarantees Shutdown on every
// exit path, including panics.
func Scoped(fn func(ps *PubSub) error, opts ...Option) error {
	ps, err := New(opts...)
	if err != nil {
		return err
	}
	defer ps.Shutdown()
	return fn(ps)
}

// Subscribe registers cb for topic and returns the subscription id.
//
// The topic may be an exact topic, the Wildcard marker (every topic), or a
// wildcard pattern such as "user.*" (see TopicPattern). The correlation
// filter defaults to the instance correlation id; use
// FilterCorrelation(Wildcard) to receive every correlation id.
func (ps *PubSub) Subscribe(topic string, cb Callback, opts ...SubscribeOption) (string, error) {
	const op = "subscribe"

	if ps.shutdown.Load() {
		return "", newError(KindRuntime, op, ErrShutdown)
	}
	if cb == nil {
		return "", newError(KindType, op, ErrNilCallback)
	}

	var sc subscribeConfig
	for _, opt := range opts {
		opt(&sc)
	}

	entry := &subscriberEntry{
		id:       uuid.NewString(),
		topic:    topic,
		callback: cb,
	}

	switch {
	case !sc.hasCorrelation || sc.correlation == "":
		entry.correlation = ps.cfg.CorrelationID
	case sc.correlation == Wildcard:
		entry.matchAny = true
	default:
		if err := ValidateCorrelationID(sc.correlation); err != nil {
			return "", err
		}
		entry.correlation = sc.correlation
	}

	switch {
	case topic == Wildcard:
		// Universal subscriber.
	case strings.ContainsAny(topic, "*?"):
		p, err := NewTopicPattern(topic)
		if err != nil {
			return "", err
		}
		entry.pattern = p
	default:
		if err := validateTopic(topic); err != nil {
			return "", err
		}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.shutdown.Load() {
		return "", newError(KindRuntime, op, ErrShutdown)
	}
	switch {
	case topic == Wildcard:
		ps.wildcards = append(ps.wildcards, entry)
	case entry.pattern != nil:
		ps.patterns = append(ps.patterns, entry)
	default:
		ps.topics[topic] = append(ps.topics[topic], entry)
	}
	ps.cfg.Metrics.subscriberAdded(topic)
	return entry.id, nil
}

// Publish validates the input, wraps it into a Message and enqueues it for
// asynchronous dispatch. It returns before any subscriber runs and never
// waits on subscriber execution.
func (ps *PubSub) Publish(topic string, data map[string]any, opts ...PublishOption) error {
	const op = "publish"

	if ps.shutdown.Load() {
		return newError(KindRuntime, op, ErrShutdown)
	}

	var pc publishConfig
	for _, opt := range opts {
		opt(&pc)
	}

	switch pc.correlationID {
	case "":
		pc.correlationID = ps.cfg.CorrelationID
	case Wildcard:
		return newErrorf(KindValue, op, ErrInvalidCorrelationID,
			"correlation id cannot be %q on publish", Wildcard).withTopic(topic)
	default:
		if err := ValidateCorrelationID(pc.correlationID); err != nil {
			return err
		}
	}

	msg, err := NewMessage(topic, data, pc.correlationID, pc.metadata, ps.cfg.Clock.Now().UTC())
	if err != nil {
		return err
	}

	ps.mu.Lock()
	ps.correlationIDs[pc.correlationID] = struct{}{}
	ps.mu.Unlock()

	ps.qmu.Lock()
	if ps.stopped {
		ps.qmu.Unlock()
		return newError(KindRuntime, op, ErrShutdown)
	}
	if ps.pending == 0 {
		ps.idle = make(chan struct{})
	}
	ps.pending++
	ps.queue = append(ps.queue, msg)
	depth := len(ps.queue)
	ps.qcond.Signal()
	ps.qmu.Unlock()

	ps.cfg.Metrics.msgPublished(topic, depth)
	return nil
}

// Drain blocks until every queued and in-flight message has been dispatched
// or the timeout elapses. A non-positive timeout means DefaultDrainTimeout.
// It returns true immediately when the bus is already idle or shut down.
func (ps *PubSub) Drain(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}

	ps.qmu.Lock()
	if ps.pending == 0 {
		ps.qmu.Unlock()
		return true
	}
	idle := ps.idle
	ps.qmu.Unlock()

	timer := ps.cfg.Clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

// Unsubscribe removes the subscription id from the bucket it was registered
// in. The topic argument must be the same string that was passed to
// Subscribe (an exact topic, a pattern, or the Wildcard marker).
func (ps *PubSub) Unsubscribe(topic, id string) error {
	const op = "unsubscribe"

	if topic == "" {
		return newErrorf(KindValue, op, ErrInvalidTopic, "topic cannot be empty")
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	switch {
	case topic == Wildcard:
		if removed, ok := removeEntry(ps.wildcards, id); ok {
			ps.wildcards = removed
			ps.cfg.Metrics.subscriberRemoved(topic)
			return nil
		}
	case strings.ContainsAny(topic, "*?"):
		if removed, ok := removeByTopic(ps.patterns, topic, id); ok {
			ps.patterns = removed
			ps.cfg.Metrics.subscriberRemoved(topic)
			return nil
		}
	default:
		bucket, ok := ps.topics[topic]
		if !ok {
			break
		}
		if removed, ok := removeEntry(bucket, id); ok {
			if len(removed) == 0 {
				delete(ps.topics, topic)
			} else {
				ps.topics[topic] = removed
			}
			ps.cfg.Metrics.subscriberRemoved(topic)
			return nil
		}
	}

	return newErrorf(KindLookup, op, ErrNotFound,
		"subscriber %q not found for topic %q", id, topic).withTopic(topic)
}

// Clear removes all subscriptions for the named topics (exact topics,
// patterns, or the Wildcard marker), or every subscription on the bus when
// called with no arguments. Unknown topics are ignored.
func (ps *PubSub) Clear(topics ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if len(topics) == 0 {
		dropped := ps.registrySizeLocked()
		ps.topics = make(map[string][]*subscriberEntry)
		ps.patterns = nil
		ps.wildcards = nil
		ps.cfg.Metrics.subscribersDropped(dropped)
		return
	}

	dropped := 0
	for _, topic := range topics {
		switch {
		case topic == Wildcard:
			dropped += len(ps.wildcards)
			ps.wildcards = nil
		case strings.ContainsAny(topic, "*?"):
			before := len(ps.patterns)
			ps.patterns = dropTopic(ps.patterns, topic)
			dropped += before - len(ps.patterns)
		default:
			dropped += len(ps.topics[topic])
			delete(ps.topics, topic)
		}
	}
	ps.cfg.Metrics.subscribersDropped(dropped)
}

// registrySizeLocked counts live subscriptions across all buckets. The
// caller must hold mu.
func (ps *PubSub) registrySizeLocked() int {
	n := len(ps.patterns) + len(ps.wildcards)
	for _, bucket := range ps.topics {
		n += len(bucket)
	}
	return n
}

// Shutdown stops the bus: it clears all subscriptions, discards messages
// still queued, waits for the in-flight dispatch (if any) to finish, and
// joins the dispatch goroutine. It is idempotent, and every subsequent
// Subscribe or Publish fails with ErrShutdown.
func (ps *PubSub) Shutdown() {
	if ps.shutdown.Swap(true) {
		return
	}

	ps.mu.Lock()
	dropped := ps.registrySizeLocked()
	ps.topics = make(map[string][]*subscriberEntry)
	ps.patterns = nil
	ps.wildcards = nil
	ps.mu.Unlock()
	ps.cfg.Metrics.subscribersDropped(dropped)

	ps.qmu.Lock()
	ps.stopped = true
	if discarded := len(ps.queue); discarded > 0 {
		ps.queue = nil
		ps.pending -= discarded
		if ps.pending == 0 {
			close(ps.idle)
		}
		ps.cfg.Logger.Warn("discarding queued messages on shutdown",
			zap.Int("count", discarded))
	}
	ps.qcond.Broadcast()
	ps.qmu.Unlock()

	<-ps.workerDone
}

// CorrelationID returns the instance correlation id.
func (ps *PubSub) CorrelationID() string { return ps.cfg.CorrelationID }

// CorrelationIDs returns a sorted snapshot of every correlation id ever
// published through this bus, including the instance id.
func (ps *PubSub) CorrelationIDs() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ids := make([]string, 0, len(ps.correlationIDs))
	for id := range ps.correlationIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsShutdown reports whether Shutdown has been called.
func (ps *PubSub) IsShutdown() bool { return ps.shutdown.Load() }

// Subscribers returns a snapshot of subscriber ids keyed by their Subscribe
// argument: exact topics and pattern strings. Universal-wildcard
// subscribers are reported by WildcardSubscribers.
func (ps *PubSub) Subscribers() map[string][]string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string][]string, len(ps.topics)+len(ps.patterns))
	for topic, bucket := range ps.topics {
		ids := make([]string, len(bucket))
		for i, e := range bucket {
			ids[i] = e.id
		}
		out[topic] = ids
	}
	for _, e := range ps.patterns {
		out[e.topic] = append(out[e.topic], e.id)
	}
	return out
}

// WildcardSubscribers returns a snapshot of the universal-wildcard
// subscriber ids in registration order.
func (ps *PubSub) WildcardSubscribers() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ids := make([]string, len(ps.wildcards))
	for i, e := range ps.wildcards {
		ids[i] = e.id
	}
	return ids
}

// worker is the single dispatch goroutine.
func (ps *PubSub) worker() {
	defer close(ps.workerDone)

	for {
		ps.qmu.Lock()
		for len(ps.queue) == 0 && !ps.stopped {
			ps.qcond.Wait()
		}
		if len(ps.queue) == 0 {
			ps.qmu.Unlock()
			return
		}
		msg := ps.queue[0]
		ps.queue = ps.queue[1:]
		ps.qmu.Unlock()

		ps.dispatch(msg)

		ps.qmu.Lock()
		ps.pending--
		if ps.pending == 0 {
			close(ps.idle)
		}
		ps.qmu.Unlock()
	}
}

// dispatch snapshots the matching subscribers under the registry lock, then
// invokes them with the lock released, in bucket order: exact topic first,
// then patterns, then universal wildcards, each in registration order.
func (ps *PubSub) dispatch(msg Message) {
	ps.mu.Lock()
	matched := make([]*subscriberEntry, 0, len(ps.topics[msg.Topic])+len(ps.wildcards))
	for _, e := range ps.topics[msg.Topic] {
		if e.matchCorrelation(msg) {
			matched = append(matched, e)
		}
	}
	for _, e := range ps.patterns {
		if e.pattern.Matches(msg.Topic) && e.matchCorrelation(msg) {
			matched = append(matched, e)
		}
	}
	for _, e := range ps.wildcards {
		if e.matchCorrelation(msg) {
			matched = append(matched, e)
		}
	}
	ps.mu.Unlock()

	for _, e := range matched {
		ps.invoke(e, msg)
	}
}

// invoke runs one callback, containing both returned errors and panics.
// One failing subscriber never affects the rest of the matched set.
func (ps *PubSub) invoke(e *subscriberEntry, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			ps.reportError(fmt.Errorf("callback panic: %v", r), msg.Topic)
		}
	}()
	if err := e.callback(msg); err != nil {
		ps.reportError(err, msg.Topic)
		return
	}
	ps.cfg.Metrics.msgDelivered(msg.Topic)
}

// reportError hands a callback failure to the configured error handler. A
// panicking handler is contained so it cannot kill the dispatch goroutine.
func (ps *PubSub) reportError(err error, topic string) {
	ps.cfg.Metrics.callbackError(topic)
	defer func() {
		if r := recover(); r != nil {
			ps.cfg.Logger.Error("error handler panicked",
				zap.Any("panic", r),
				zap.String("topic", topic))
		}
	}()
	ps.cfg.ErrorHandler(err, topic)
}

func (e *subscriberEntry) matchCorrelation(msg Message) bool {
	return e.matchAny || e.correlation == msg.CorrelationID
}

// removeEntry removes id from bucket preserving order. The second return
// reports whether the id was present.
func removeEntry(bucket []*subscriberEntry, id string) ([]*subscriberEntry, bool) {
	for i, e := range bucket {
		if e.id == id {
			return append(bucket[:i], bucket[i+1:]...), true
		}
	}
	return bucket, false
}

// removeByTopic removes id from bucket but only among entries registered
// under the given topic string.
func removeByTopic(bucket []*subscriberEntry, topic, id string) ([]*subscriberEntry, bool) {
	for i, e := range bucket {
		if e.topic == topic && e.id == id {
			return append(bucket[:i], bucket[i+1:]...), true
		}
	}
	return bucket, false
}

// dropTopic removes every entry registered under the given topic string.
func dropTopic(bucket []*subscriberEntry, topic string) []*subscriberEntry {
	out := bucket[:0]
	for _, e := range bucket {
		if e.topic != topic {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
