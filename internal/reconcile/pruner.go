package reconcile

import (
	"context"
	"log/slog"
	"time"

	"wgfleet"
	"wgfleet/internal/check"
	"wgfleet/internal/driver"
	"wgfleet/internal/events"
	"wgfleet/internal/registry"
)

// defaultPruneInterval is the time between pruning cycles when Interval is
// left unset.
const defaultPruneInterval = 300 * time.Second

// Pruner periodically removes stale and never-connected clients, owning
// its own goroutine lifecycle via a cancel func and a done channel.
type Pruner struct {
	Store    registry.Store
	Driver   driver.Driver
	Config   wgfleet.Config
	Bus      *events.Bus
	Interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the pruner's ticking loop in a background goroutine.
func (p *Pruner) Start(ctx context.Context) error {
	check.Assert(p.Store != nil, "Pruner.Start: Store must not be nil")
	check.Assert(p.Driver != nil, "Pruner.Start: Driver must not be nil")
	check.Assert(p.Bus != nil, "Pruner.Start: Bus must not be nil")

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	interval := p.Interval
	if interval <= 0 {
		interval = defaultPruneInterval
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runCycle(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the pruner and waits for the current cycle, if any, to
// finish.
func (p *Pruner) Stop() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}

func (p *Pruner) runCycle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.Config.PruneTimeout)

	total := 0
	for name := range p.Config.Fleets {
		n, err := p.pruneFleet(ctx, name, cutoff)
		if err != nil {
			slog.Error("prune fleet failed", "fleet", name, "err", err)
			continue
		}
		total += n
	}

	if total > 0 {
		p.Bus.Publish(wgfleet.Event{Kind: wgfleet.EventClientRemoved, Count: total})
	}
}

// pruneFleet removes stale-handshake peers and never-connected
// enrollments for one fleet.
func (p *Pruner) pruneFleet(ctx context.Context, fleet string, cutoff time.Time) (int, error) {
	peers, err := p.Driver.ListPeers(ctx, fleet)
	if err != nil {
		return 0, err
	}
	handshakeByKey := make(map[string]time.Time, len(peers))
	handshakenByKey := make(map[string]bool, len(peers))
	for _, peer := range peers {
		handshakenByKey[peer.PublicKey] = peer.HasHandshaken()
		handshakeByKey[peer.PublicKey] = peer.LastHandshake
	}

	sess, err := p.Store.Begin()
	if err != nil {
		return 0, err
	}
	defer sess.Rollback()

	clients, err := sess.List(fleet)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, c := range clients {
		stale := handshakenByKey[c.PublicKey] && handshakeByKey[c.PublicKey].Before(cutoff)
		neverConnected := !handshakenByKey[c.PublicKey] && c.Timestamp.Before(cutoff)
		if !stale && !neverConnected {
			continue
		}

		if err := p.Driver.RemovePeer(ctx, fleet, c.PublicKey); err != nil {
			slog.Error("remove pruned peer", "fleet", fleet, "public_key", c.PublicKey, "err", err)
			continue
		}
		if err := sess.Delete(&c); err != nil {
			return pruned, err
		}
		pruned++
	}

	// Stale peers with no Registry row are removed from the kernel too; they
	// are not counted, since no row changed.
	registered := make(map[string]bool, len(clients))
	for _, c := range clients {
		registered[c.PublicKey] = true
	}
	for _, peer := range peers {
		if registered[peer.PublicKey] || !peer.HasHandshaken() || !peer.LastHandshake.Before(cutoff) {
			continue
		}
		if err := p.Driver.RemovePeer(ctx, fleet, peer.PublicKey); err != nil {
			slog.Error("remove pruned peer", "fleet", fleet, "public_key", peer.PublicKey, "err", err)
		}
	}

	if err := sess.Commit(); err != nil {
		return pruned, err
	}
	return pruned, nil
}
