// Package driver defines the capability interface over the kernel
// WireGuard tool. Every operation is stateless: implementations read or
// mutate live kernel state on each call and never retry internally —
// that's the caller's job.
package driver

import (
	"context"
	"net/netip"

	"wgfleet"
)

// Driver is the capability interface the rest of the system uses to manage
// WireGuard interfaces and peers. All operations surface failures wrapped
// in wgfleet.ErrDriver.
type Driver interface {
	// GenerateKeypair returns a fresh (private, public) keypair. public is
	// derived deterministically from private.
	GenerateKeypair() (private, public string, err error)

	// CreateInterfaceConfig writes the fleet's server interface config file
	// to a fleet-scoped deterministic path, overwriting any existing file.
	CreateInterfaceConfig(fleet string, cfg wgfleet.FleetConfig, privateKey string) error

	// LoadInterfacePrivateKey reads the private key back out of a config
	// file previously written by CreateInterfaceConfig. ok is false if no
	// config file exists yet for fleet.
	LoadInterfacePrivateKey(fleet string) (privateKey string, ok bool, err error)

	InterfaceExists(ctx context.Context, fleet string) (bool, error)
	BringUp(ctx context.Context, fleet string, cfg wgfleet.FleetConfig, privateKey string) error
	BringDown(ctx context.Context, fleet string) error

	AddPeer(ctx context.Context, fleet, publicKey string, ip netip.Addr) error
	// RemovePeer is idempotent: removing an absent peer is not an error.
	RemovePeer(ctx context.Context, fleet, publicKey string) error
	ListPeers(ctx context.Context, fleet string) ([]wgfleet.Peer, error)
	ServerPublicKey(ctx context.Context, fleet string) (string, error)

	// BuildClientConfig is pure formatting; it never touches the kernel.
	BuildClientConfig(privateKey string, clientIP netip.Addr, serverPublicKey, endpointIP string, endpointPort int, serverIP netip.Addr) string
}
