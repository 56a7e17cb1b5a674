package publish

import (
	"wgfleet"
	"wgfleet/internal/events"
	"wgfleet/internal/registry"
)

// relevantEvents are the event kinds that can change which clients have a
// hostname and therefore require a re-render.
var relevantEvents = map[wgfleet.EventKind]bool{
	wgfleet.EventStartup:               true,
	wgfleet.EventClientAdded:           true,
	wgfleet.EventClientHostnameChanged: true,
	wgfleet.EventClientRemoved:         true,
}

// Subscriber wraps pub as an events.Subscriber that re-renders the full
// artifact from a fresh registry snapshot whenever a relevant event fires,
// ignoring any other event kind.
func Subscriber(pub Publisher, store registry.Store, cfg wgfleet.Config) events.Subscriber {
	return events.Subscriber{
		Name: pub.Name,
		Notify: func(event wgfleet.Event) error {
			if !relevantEvents[event.Kind] {
				return nil
			}
			return pub.Publish(store, cfg)
		},
	}
}
