// Package fleet implements the register and heartbeat request handlers:
// the synchronous request path that mutates the Registry and Driver
// together, then publishes lifecycle events.
package fleet

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"wgfleet"
	"wgfleet/internal/allocator"
	"wgfleet/internal/check"
	"wgfleet/internal/driver"
	"wgfleet/internal/events"
	"wgfleet/internal/registry"
)

// maxAllocateAttempts bounds the IP-collision retry loop in Register.
const maxAllocateAttempts = 8

// Handler wires the Registry, Driver, and Config together to serve
// register and heartbeat.
type Handler struct {
	Store  registry.Store
	Driver driver.Driver
	Config wgfleet.Config
	Bus    *events.Bus
}

// RegisterResult is the success payload of Register.
type RegisterResult struct {
	ConfigText string
}

// Register enrolls a new client on fleetName: a fresh keypair, an
// allocated IPv6 address, a kernel peer, and a Registry row, in that
// order, with compensating Driver cleanup on failure.
func (h *Handler) Register(ctx context.Context, fleetName string) (RegisterResult, error) {
	check.Assert(h.Store != nil, "Handler.Register: Store must not be nil")
	check.Assert(h.Driver != nil, "Handler.Register: Driver must not be nil")
	check.Assert(h.Bus != nil, "Handler.Register: Bus must not be nil")

	fc, ok := h.Config.Fleets[fleetName]
	if !ok {
		return RegisterResult{}, fmt.Errorf("%w: fleet %q", wgfleet.ErrNotFound, fleetName)
	}

	priv, pub, err := h.Driver.GenerateKeypair()
	if err != nil {
		return RegisterResult{}, err
	}

	ip, err := h.registerAllocateAndCommit(ctx, fc, priv, pub)
	if err != nil {
		return RegisterResult{}, err
	}

	serverPub, err := h.Driver.ServerPublicKey(ctx, fleetName)
	if err != nil {
		return RegisterResult{}, err
	}

	h.Bus.Publish(wgfleet.Event{
		Kind:  wgfleet.EventClientAdded,
		Fleet: fleetName,
		ClientData: &wgfleet.Client{
			Fleet:      fleetName,
			PublicKey:  pub,
			AssignedIP: ip,
		},
	})

	configText := h.Driver.BuildClientConfig(priv, ip, serverPub, fc.ExternalIP, fc.ListenPort, fc.IPv6ServerAddress)
	return RegisterResult{ConfigText: configText}, nil
}

// registerAllocateAndCommit draws an address, adds the kernel peer, and
// commits the Registry row, retrying the whole allocate-and-add cycle on a
// Registry conflict. A fresh Registry lookup on the drawn address, before
// any kernel peer is touched, closes the window where AddPeer would
// otherwise steal an already-live peer's AllowedIPs route.
func (h *Handler) registerAllocateAndCommit(ctx context.Context, fc wgfleet.FleetConfig, priv, pub string) (netip.Addr, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		ip, err := allocator.Allocate(fc.Subnet)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%w: %v", wgfleet.ErrDriver, err)
		}

		taken, err := h.ipTaken(fc.Name, ip)
		if err != nil {
			return netip.Addr{}, err
		}
		if taken {
			continue
		}

		if err := h.Driver.AddPeer(ctx, fc.Name, pub, ip); err != nil {
			return netip.Addr{}, err
		}

		err = h.commitNewClient(fc.Name, pub, ip)
		if err == nil {
			return ip, nil
		}
		if !isConflict(err) {
			_ = h.Driver.RemovePeer(ctx, fc.Name, pub)
			return netip.Addr{}, err
		}
		// Lost a race on (fleet, ip) or (fleet, pub): undo the kernel peer
		// and retry from a fresh allocation.
		_ = h.Driver.RemovePeer(ctx, fc.Name, pub)
	}
	return netip.Addr{}, fmt.Errorf("%w: no free address after %d attempts", wgfleet.ErrExhausted, maxAllocateAttempts)
}

// ipTaken reports whether the Registry already has a row for (fleet, ip).
func (h *Handler) ipTaken(fleetName string, ip netip.Addr) (bool, error) {
	sess, err := h.Store.Begin()
	if err != nil {
		return false, err
	}
	defer sess.Rollback()

	existing, err := sess.FindByIP(fleetName, ip)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

func (h *Handler) commitNewClient(fleetName, pub string, ip netip.Addr) error {
	sess, err := h.Store.Begin()
	if err != nil {
		return err
	}
	defer sess.Rollback()

	c := &wgfleet.Client{
		Fleet:      fleetName,
		PublicKey:  pub,
		AssignedIP: ip,
		Timestamp:  time.Now().UTC(),
	}
	if err := sess.Insert(c); err != nil {
		return err
	}
	return sess.Commit()
}
