// Package events implements the lifecycle notification fan-out. Publishers
// are known up front at process construction, so the bus dispatches to a
// fixed, explicitly-built subscriber list rather than a dynamically
// registered one.
package events

import (
	"fmt"
	"log/slog"

	"wgfleet"
)

// Subscriber reacts to a published event. A returned error is logged and
// isolated: it never stops delivery to the remaining subscribers and never
// propagates back to the publisher that triggered the event.
type Subscriber struct {
	Name   string
	Notify func(wgfleet.Event) error
}

// Bus fans a published event out to every subscriber in registration
// order, synchronously, swallowing per-subscriber panics and errors.
type Bus struct {
	subs []Subscriber
}

// New builds a Bus over a fixed subscriber list.
func New(subs ...Subscriber) *Bus {
	return &Bus{subs: append([]Subscriber(nil), subs...)}
}

// Publish delivers event to every subscriber in order. A subscriber that
// panics or returns an error is logged and skipped; it never aborts
// delivery to the rest.
func (b *Bus) Publish(event wgfleet.Event) {
	var failed []string
	for _, sub := range b.subs {
		if err := b.deliver(sub, event); err != nil {
			failed = append(failed, sub.Name)
			slog.Error("subscriber failed", "subscriber", sub.Name, "event", event.Kind, "fleet", event.Fleet, "err", err)
		}
	}
	if len(failed) > 0 {
		slog.Warn("event delivery incomplete", "event", event.Kind, "fleet", event.Fleet, "failed_subscribers", failed, "failed_count", len(failed))
	}
}

// deliver invokes sub.Notify, converting a panic into an error so one
// misbehaving subscriber cannot bring down the publisher goroutine.
func (b *Bus) deliver(sub Subscriber, event wgfleet.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.Notify(event)
}
