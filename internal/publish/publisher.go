package publish

import (
	"fmt"

	"wgfleet"
	"wgfleet/internal/registry"
)

// Publisher is a pure function of a fresh registry snapshot: given the
// full client population and config, it renders and atomically writes one
// artifact. Each call takes its own registry session so publishers observe
// a consistent read as of their own invocation, not as of whatever
// mutation triggered them.
type Publisher struct {
	Name string
	Path string
	// Render builds the artifact bytes from every client across every
	// fleet with a non-null hostname.
	Render func(clients []wgfleet.Client, cfg wgfleet.Config) ([]byte, error)
}

// Publish takes a fresh session from store, lists every client, renders
// the artifact, and writes it atomically.
func (p Publisher) Publish(store registry.Store, cfg wgfleet.Config) error {
	sess, err := store.Begin()
	if err != nil {
		return fmt.Errorf("%w: %s: open session: %v", wgfleet.ErrPublisher, p.Name, err)
	}
	defer sess.Rollback()

	clients, err := sess.ListAll()
	if err != nil {
		return fmt.Errorf("%w: %s: list clients: %v", wgfleet.ErrPublisher, p.Name, err)
	}

	data, err := p.Render(clients, cfg)
	if err != nil {
		return fmt.Errorf("%w: %s: render: %v", wgfleet.ErrPublisher, p.Name, err)
	}

	if err := writeAtomic(p.Path, data); err != nil {
		return fmt.Errorf("%w: %s: write: %v", wgfleet.ErrPublisher, p.Name, err)
	}
	return nil
}

// withHostname filters clients down to those with a non-empty hostname,
// sorted deterministically by fleet then hostname so repeated renders of
// an unchanged snapshot are byte-identical.
func withHostname(clients []wgfleet.Client) []wgfleet.Client {
	out := make([]wgfleet.Client, 0, len(clients))
	for _, c := range clients {
		if c.HasHostname() {
			out = append(out, c)
		}
	}
	sortClients(out)
	return out
}

func sortClients(clients []wgfleet.Client) {
	for i := 1; i < len(clients); i++ {
		for j := i; j > 0; j-- {
			a, b := clients[j-1], clients[j]
			if a.Fleet > b.Fleet || (a.Fleet == b.Fleet && a.Hostname > b.Hostname) {
				clients[j-1], clients[j] = clients[j], clients[j-1]
				continue
			}
			break
		}
	}
}
