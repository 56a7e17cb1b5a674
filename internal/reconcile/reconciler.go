// Package reconcile implements startup reconciliation and periodic
// pruning. Reconciliation runs synchronously in the caller; the pruner
// owns its goroutine lifecycle via a cancel func and a done channel.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"wgfleet"
	"wgfleet/internal/check"
	"wgfleet/internal/driver"
	"wgfleet/internal/events"
	"wgfleet/internal/registry"
)

// Reconciler brings each fleet's kernel interface and peer set into
// agreement with the Registry exactly once, at startup.
type Reconciler struct {
	Store  registry.Store
	Driver driver.Driver
	Config wgfleet.Config
	Bus    *events.Bus
}

// Run executes startup reconciliation for every configured fleet in turn,
// then publishes a single startup event. A failure to bring a fleet's
// interface up aborts startup entirely; so does a failure to load or create
// its interface config, list its peers or clients, delete an orphan
// Registry row, or commit. A failure to remove an orphan kernel peer is
// logged and that peer is skipped.
func (r *Reconciler) Run(ctx context.Context) error {
	check.Assert(r.Store != nil, "Reconciler.Run: Store must not be nil")
	check.Assert(r.Driver != nil, "Reconciler.Run: Driver must not be nil")
	check.Assert(r.Bus != nil, "Reconciler.Run: Bus must not be nil")

	for name, fc := range r.Config.Fleets {
		if err := r.reconcileFleet(ctx, name, fc); err != nil {
			return fmt.Errorf("reconcile fleet %q: %w", name, err)
		}
	}
	r.Bus.Publish(wgfleet.Event{Kind: wgfleet.EventStartup})
	return nil
}

func (r *Reconciler) reconcileFleet(ctx context.Context, name string, fc wgfleet.FleetConfig) error {
	privateKey, ok, err := r.Driver.LoadInterfacePrivateKey(name)
	if err != nil {
		return err
	}
	if !ok {
		priv, _, err := r.Driver.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := r.Driver.CreateInterfaceConfig(name, fc, priv); err != nil {
			return err
		}
		privateKey = priv
	}

	if err := r.Driver.BringUp(ctx, name, fc, privateKey); err != nil {
		return fmt.Errorf("bring up interface: %w", err)
	}

	return r.reconcilePeers(ctx, name)
}

// reconcilePeers diffs the live kernel peer set against the Registry and
// repairs whichever side is wrong.
func (r *Reconciler) reconcilePeers(ctx context.Context, fleet string) error {
	peers, err := r.Driver.ListPeers(ctx, fleet)
	if err != nil {
		return fmt.Errorf("list driver peers: %w", err)
	}
	driverKeys := make(map[string]bool, len(peers))
	for _, p := range peers {
		driverKeys[p.PublicKey] = true
	}

	sess, err := r.Store.Begin()
	if err != nil {
		return err
	}
	defer sess.Rollback()

	clients, err := sess.List(fleet)
	if err != nil {
		return fmt.Errorf("list registry clients: %w", err)
	}
	registryKeys := make(map[string]bool, len(clients))
	for _, c := range clients {
		registryKeys[c.PublicKey] = true
	}

	for pub := range driverKeys {
		if !registryKeys[pub] {
			if err := r.Driver.RemovePeer(ctx, fleet, pub); err != nil {
				slog.Error("remove orphan driver peer", "fleet", fleet, "public_key", pub, "err", err)
			}
		}
	}

	for _, c := range clients {
		if !driverKeys[c.PublicKey] {
			if err := sess.Delete(&c); err != nil {
				return fmt.Errorf("delete orphan registry row: %w", err)
			}
		}
	}

	return sess.Commit()
}
