package fleet

import (
	"fmt"
	"net/netip"
	"time"

	"wgfleet"
	"wgfleet/internal/check"
)

// Heartbeat claims a hostname (optionally) and refreshes liveness for the
// client whose assigned address is observedSourceIP.
func (h *Handler) Heartbeat(fleetName string, hostname string, observedSourceIP netip.Addr) error {
	check.Assert(h.Store != nil, "Handler.Heartbeat: Store must not be nil")
	check.Assert(h.Bus != nil, "Handler.Heartbeat: Bus must not be nil")

	fc, ok := h.Config.Fleets[fleetName]
	if !ok {
		return fmt.Errorf("%w: fleet %q", wgfleet.ErrNotFound, fleetName)
	}

	if !observedSourceIP.Is6() || !fc.Subnet.Contains(observedSourceIP) {
		return fmt.Errorf("%w: source %s not within fleet %q subnet", wgfleet.ErrForbidden, observedSourceIP, fleetName)
	}

	if hostname != "" && !wgfleet.ValidHostname(hostname) {
		return fmt.Errorf("%w: hostname %q is not a valid label", wgfleet.ErrBadRequest, hostname)
	}

	sess, err := h.Store.Begin()
	if err != nil {
		return err
	}
	defer sess.Rollback()

	client, err := sess.FindByIP(fleetName, observedSourceIP)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("%w: no client at %s on fleet %q", wgfleet.ErrNotFound, observedSourceIP, fleetName)
	}

	client.Timestamp = time.Now().UTC()

	hostnameChanged := false
	if hostname != "" && hostname != client.Hostname {
		resolved, err := resolveHostname(sess, fleetName, hostname)
		if err != nil {
			return err
		}
		client.Hostname = resolved
		hostnameChanged = true
	}

	if err := sess.Update(client); err != nil {
		return err
	}
	if err := sess.Commit(); err != nil {
		return err
	}

	if hostnameChanged {
		h.Bus.Publish(wgfleet.Event{
			Kind:       wgfleet.EventClientHostnameChanged,
			Fleet:      fleetName,
			ClientData: client,
		})
	}
	return nil
}
