package driftbus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records delivered messages from the worker goroutine.
type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) callback(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Topic
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newBus(t *testing.T, opts ...Option) *PubSub {
	t.Helper()
	ps, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(ps.Shutdown)
	return ps
}

func TestPubSub_PublishDeliver(t *testing.T) {
	ps := newBus(t)
	var c collector

	id, err := ps.Subscribe("user.created", c.callback)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, ps.Publish("user.created", map[string]any{"id": 7}))
	require.True(t, ps.Drain(time.Second))

	require.Equal(t, 1, c.len())
	got := c.msgs[0]
	assert.Equal(t, "user.created", got.Topic)
	assert.Equal(t, 7, got.Data["id"])
	assert.Equal(t, ps.CorrelationID(), got.CorrelationID)
	assert.NotNil(t, got.Metadata)
}

func TestPubSub_MultipleSubscribers(t *testing.T) {
	ps := newBus(t)
	var c1, c2 collector

	_, err := ps.Subscribe("order.paid", c1.callback)
	require.NoError(t, err)
	_, err = ps.Subscribe("order.paid", c2.callback)
	require.NoError(t, err)

	require.NoError(t, ps.Publish("order.paid", nil))
	require.True(t, ps.Drain(time.Second))

	assert.Equal(t, 1, c1.len())
	assert.Equal(t, 1, c2.len())
}

func TestPubSub_TopicIsolation(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe("user.created", c.callback)
	require.NoError(t, err)

	require.NoError(t, ps.Publish("user.deleted", nil))
	require.True(t, ps.Drain(time.Second))

	assert.Zero(t, c.len())
}

func TestPubSub_OrderingPerSubscriber(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe("seq", c.callback)
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, ps.Publish("seq", map[string]any{"i": i}))
	}
	require.True(t, ps.Drain(2*time.Second))

	require.Equal(t, n, c.len())
	for i, m := range c.msgs {
		assert.Equal(t, i, m.Data["i"])
	}
}

func TestPubSub_WildcardSubscriber(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe(Wildcard, c.callback, FilterCorrelation(Wildcard))
	require.NoError(t, err)

	require.NoError(t, ps.Publish("user.created", nil))
	require.NoError(t, ps.Publish("order.paid", nil, WithCorrelationID("req-99")))
	require.True(t, ps.Drain(time.Second))

	assert.ElementsMatch(t, []string{"user.created", "order.paid"}, c.topics())
}

func TestPubSub_PatternSubscriber(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe("user.*", c.callback, FilterCorrelation(Wildcard))
	require.NoError(t, err)

	require.NoError(t, ps.Publish("user.created", nil))
	require.NoError(t, ps.Publish("user.deleted", nil))
	require.NoError(t, ps.Publish("order.paid", nil))
	require.NoError(t, ps.Publish("user.created.v2", nil))
	require.True(t, ps.Drain(time.Second))

	assert.ElementsMatch(t, []string{"user.created", "user.deleted"}, c.topics())
}

func TestPubSub_DispatchOrderAcrossBuckets(t *testing.T) {
	ps := newBus(t)

	var mu sync.Mutex
	var order []string
	record := func(tag string) Callback {
		return func(Message) error {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
			return nil
		}
	}

	// Registered wildcard first, exact last: dispatch still runs exact,
	// then pattern, then wildcard.
	_, err := ps.Subscribe(Wildcard, record("wildcard"), FilterCorrelation(Wildcard))
	require.NoError(t, err)
	_, err = ps.Subscribe("user.*", record("pattern"), FilterCorrelation(Wildcard))
	require.NoError(t, err)
	_, err = ps.Subscribe("user.created", record("exact"), FilterCorrelation(Wildcard))
	require.NoError(t, err)

	require.NoError(t, ps.Publish("user.created", nil))
	require.True(t, ps.Drain(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"exact", "pattern", "wildcard"}, order)
}

func TestPubSub_CorrelationFiltering(t *testing.T) {
	ps := newBus(t, WithCorrelation("bus-1"))
	var def, tagged, all collector

	_, err := ps.Subscribe("evt", def.callback) // defaults to the instance id
	require.NoError(t, err)
	_, err = ps.Subscribe("evt", tagged.callback, FilterCorrelation("req-7"))
	require.NoError(t, err)
	_, err = ps.Subscribe("evt", all.callback, FilterCorrelation(Wildcard))
	require.NoError(t, err)

	require.NoError(t, ps.Publish("evt", nil)) // stamped with bus-1
	require.NoError(t, ps.Publish("evt", nil, WithCorrelationID("req-7")))
	require.NoError(t, ps.Publish("evt", nil, WithCorrelationID("req-8")))
	require.True(t, ps.Drain(time.Second))

	assert.Equal(t, 1, def.len())
	assert.Equal(t, 1, tagged.len())
	assert.Equal(t, 3, all.len())
}

func TestPubSub_PublishWildcardCorrelationRejected(t *testing.T) {
	ps := newBus(t)

	err := ps.Publish("evt", nil, WithCorrelationID(Wildcard))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCorrelationID)
}

func TestPubSub_InvalidInputs(t *testing.T) {
	ps := newBus(t)

	_, err := ps.Subscribe("evt", nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	_, err = ps.Subscribe("", func(Message) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidTopic)

	_, err = ps.Subscribe("user.cre*ted", func(Message) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidPattern)

	assert.ErrorIs(t, ps.Publish("", nil), ErrInvalidTopic)
}

func TestPubSub_Unsubscribe(t *testing.T) {
	ps := newBus(t)
	var c collector

	id, err := ps.Subscribe("evt", c.callback)
	require.NoError(t, err)
	require.NoError(t, ps.Unsubscribe("evt", id))

	require.NoError(t, ps.Publish("evt", nil))
	require.True(t, ps.Drain(time.Second))
	assert.Zero(t, c.len())

	assert.ErrorIs(t, ps.Unsubscribe("evt", id), ErrNotFound)
	assert.ErrorIs(t, ps.Unsubscribe("evt", "no-such-id"), ErrNotFound)
}

func TestPubSub_UnsubscribePatternAndWildcard(t *testing.T) {
	ps := newBus(t)
	cb := func(Message) error { return nil }

	pid, err := ps.Subscribe("user.*", cb)
	require.NoError(t, err)
	wid, err := ps.Subscribe(Wildcard, cb)
	require.NoError(t, err)

	require.NoError(t, ps.Unsubscribe("user.*", pid))
	require.NoError(t, ps.Unsubscribe(Wildcard, wid))
	assert.Empty(t, ps.WildcardSubscribers())
}

func TestPubSub_Clear(t *testing.T) {
	ps := newBus(t)
	cb := func(Message) error { return nil }

	_, err := ps.Subscribe("a.one", cb)
	require.NoError(t, err)
	_, err = ps.Subscribe("a.two", cb)
	require.NoError(t, err)
	_, err = ps.Subscribe(Wildcard, cb)
	require.NoError(t, err)

	ps.Clear("a.one")
	subs := ps.Subscribers()
	assert.NotContains(t, subs, "a.one")
	assert.Contains(t, subs, "a.two")
	assert.Len(t, ps.WildcardSubscribers(), 1)

	ps.Clear()
	assert.Empty(t, ps.Subscribers())
	assert.Empty(t, ps.WildcardSubscribers())
}

func TestPubSub_ErrorHandlerOnCallbackError(t *testing.T) {
	var mu sync.Mutex
	var reported []string
	ps := newBus(t, OnError(func(err error, topic string) {
		mu.Lock()
		reported = append(reported, fmt.Sprintf("%s: %v", topic, err))
		mu.Unlock()
	}))

	_, err := ps.Subscribe("evt", func(Message) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	require.NoError(t, ps.Publish("evt", nil))
	require.True(t, ps.Drain(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0], "evt: boom")
}

func TestPubSub_ErrorHandlerOnCallbackPanic(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	ps := newBus(t, OnError(func(err error, topic string) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))

	var c collector
	_, err := ps.Subscribe("evt", func(Message) error {
		panic("kaboom")
	})
	require.NoError(t, err)
	_, err = ps.Subscribe("evt", c.callback)
	require.NoError(t, err)

	require.NoError(t, ps.Publish("evt", nil))
	require.True(t, ps.Drain(time.Second))

	mu.Lock()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "kaboom")
	mu.Unlock()

	// The panic must not take down the worker or skip other subscribers.
	assert.Equal(t, 1, c.len())
	require.NoError(t, ps.Publish("evt", nil))
	require.True(t, ps.Drain(time.Second))
}

func TestPubSub_ReentrantPublish(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe("first", func(Message) error {
		return ps.Publish("second", nil)
	})
	require.NoError(t, err)
	_, err = ps.Subscribe("second", c.callback)
	require.NoError(t, err)

	require.NoError(t, ps.Publish("first", nil))
	require.True(t, ps.Drain(time.Second))

	assert.Equal(t, []string{"second"}, c.topics())
}

func TestPubSub_ReentrantSubscribe(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe("first", func(Message) error {
		_, err := ps.Subscribe("second", c.callback)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, ps.Publish("first", nil))
	require.True(t, ps.Drain(time.Second))
	require.NoError(t, ps.Publish("second", nil))
	require.True(t, ps.Drain(time.Second))

	assert.Equal(t, 1, c.len())
}

func TestPubSub_DrainTimeout(t *testing.T) {
	ps := newBus(t)
	release := make(chan struct{})

	_, err := ps.Subscribe("slow", func(Message) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, ps.Publish("slow", nil))
	assert.False(t, ps.Drain(50*time.Millisecond))

	close(release)
	assert.True(t, ps.Drain(time.Second))
}

func TestPubSub_DrainIdleBus(t *testing.T) {
	ps := newBus(t)
	assert.True(t, ps.Drain(time.Second))
	assert.True(t, ps.Drain(0)) // non-positive timeout uses the default
}

func TestPubSub_Shutdown(t *testing.T) {
	ps, err := New()
	require.NoError(t, err)

	_, err = ps.Subscribe("evt", func(Message) error { return nil })
	require.NoError(t, err)

	ps.Shutdown()
	assert.True(t, ps.IsShutdown())
	assert.Empty(t, ps.Subscribers())

	err = ps.Publish("evt", nil)
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = ps.Subscribe("evt", func(Message) error { return nil })
	assert.ErrorIs(t, err, ErrShutdown)

	ps.Shutdown() // idempotent
	assert.True(t, ps.IsShutdown())
}

func TestPubSub_WithClockStampsTimestamps(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC))
	ps := newBus(t, WithClock(mock))
	var c collector

	_, err := ps.Subscribe("evt", c.callback)
	require.NoError(t, err)

	require.NoError(t, ps.Publish("evt", nil))
	require.True(t, ps.Drain(time.Second))

	require.Equal(t, 1, c.len())
	assert.True(t, c.msgs[0].Timestamp.Equal(mock.Now()))
}

func TestPubSub_CorrelationIDs(t *testing.T) {
	ps := newBus(t, WithCorrelation("bus-1"))
	assert.Equal(t, "bus-1", ps.CorrelationID())

	require.NoError(t, ps.Publish("evt", nil, WithCorrelationID("req-2")))
	require.NoError(t, ps.Publish("evt", nil))
	require.True(t, ps.Drain(time.Second))

	assert.Equal(t, []string{"bus-1", "req-2"}, ps.CorrelationIDs())
}

func TestPubSub_InvalidInstanceCorrelation(t *testing.T) {
	_, err := New(WithCorrelation(Wildcard))
	assert.ErrorIs(t, err, ErrInvalidCorrelationID)
}

func TestScoped(t *testing.T) {
	var captured *PubSub
	err := Scoped(func(ps *PubSub) error {
		captured = ps
		_, err := ps.Subscribe("evt", func(Message) error { return nil })
		return err
	})
	require.NoError(t, err)
	assert.True(t, captured.IsShutdown())

	wantErr := errors.New("scoped failure")
	err = Scoped(func(ps *PubSub) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestPubSub_Metadata(t *testing.T) {
	ps := newBus(t)
	var c collector

	_, err := ps.Subscribe("evt", c.callback)
	require.NoError(t, err)

	require.NoError(t, ps.Publish("evt", nil, WithMetadata(map[string]any{"source": "api"})))
	require.True(t, ps.Drain(time.Second))

	require.Equal(t, 1, c.len())
	assert.Equal(t, "api", c.msgs[0].Metadata["source"])
}
