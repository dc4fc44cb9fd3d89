// Package driftbus is an in-process publish-subscribe message bus for
// single-process, multi-goroutine applications.
//
// Publishers emit topic-addressed messages; independently registered
// subscribers receive them asynchronously through a per-bus dispatch
// goroutine, so a slow subscriber never degrades the publisher's critical
// path. Delivery is strictly fan-out: every matching subscriber receives
// every matching message.
//
// Basic usage:
//
//	bus, err := driftbus.New()
//	if err != nil {
//		// ...
//	}
//	defer bus.Shutdown()
//
//	bus.Subscribe("user.created", func(msg driftbus.Message) error {
//		fmt.Println(msg.Data["id"])
//		return nil
//	}, driftbus.FilterCorrelation(driftbus.Wildcard))
//
//	bus.Publish("user.created", map[string]any{"id": 123})
//	bus.Drain(0) // wait for delivery, default timeout
//
// Topics are dot-segmented strings. Subscriptions may name an exact topic,
// a wildcard pattern ("user.*", "order.?.paid", see TopicPattern), or the
// universal Wildcard marker that matches every topic.
//
// Messages optionally carry a correlation id (see ValidateCorrelationID
// for the pattern). Each bus has its own instance correlation id, used as
// the default on both the publish and the subscribe side; a subscription
// filtered with FilterCorrelation(Wildcard) receives every correlation id.
//
// Aggregator fans several buses into one, and Solo hands out one lazily
// constructed bus per named scope.
//
// Synchronous calls fail with structured errors classified by Kind (value,
// type, lookup, runtime, pattern) and matchable against the package
// sentinels with errors.Is. Subscriber callback failures are never raised
// to the publisher: they are routed to the bus error handler, which by
// default logs them.
package driftbus
