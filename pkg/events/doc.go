/*
Package events provides the subscription/event bus used to glue the
object store, ingesters, and packager together without direct references
between them.

# Architecture

Each long-running component (ObjectStore, ObjectListPackager,
PushObjectIngester) owns one Bus. A Subscriber attaches either to "all
events" on a bus or to a set of named events, never both at once —
calling Subscribe after SubscribeNamed drops the named subscriptions in
favour of "all events", while SubscribeNamed on a subscriber that is
already subscribed to all events is a no-op.

Synchronous sends (SendSynchronous) are used where the caller needs to
know the outcome before proceeding (e.g. PushObjectIngester asking
whether a handler wants to reject the inbound request). Delivery order
is named subscribers first, then all-event subscribers, both in
subscription order; a handler may call event.StopProcessing to end
delivery early, or event.PreventDefault to signal "don't do your normal
thing" without stopping delivery to the remaining subscribers.

Asynchronous sends (SendAsynchronous) queue onto a FIFO channel drained
by a dedicated worker goroutine per bus — used for notifications where
the producer should not block on subscriber work (ObjectAdded,
ObjectSendCompleted).

Bus.Close stops the worker and calls SubscriberRemoved once on every
distinct subscriber still attached, so a subscriber can drop its
back-reference to a bus that is going away.
*/
package events
