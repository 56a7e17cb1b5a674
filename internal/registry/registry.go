// Package registry defines the durable Client store contract. Concrete
// backends (internal/registry/sqlite) implement Store.
package registry

import (
	"net/netip"

	"wgfleet"
)

// Store opens scoped sessions against the durable client registry.
type Store interface {
	// Begin opens a new transactional session. The caller must Commit or
	// Rollback it.
	Begin() (Session, error)
	Close() error
}

// Session is a single transactional unit of work against the registry.
// Sessions are not safe for concurrent use.
type Session interface {
	// Insert adds a new client row. Returns wgfleet.ErrConflict if it
	// would violate the (fleet, public_key)/(fleet, assigned_ip)/
	// (fleet, hostname) uniqueness constraints.
	Insert(c *wgfleet.Client) error

	// The FindBy* methods return (nil, nil) when no row matches; they
	// only return a non-nil error for an actual query failure.
	FindByPublicKey(fleet, publicKey string) (*wgfleet.Client, error)
	FindByIP(fleet string, ip netip.Addr) (*wgfleet.Client, error)
	FindByHostname(fleet, hostname string) (*wgfleet.Client, error)

	// List returns all clients in fleet.
	List(fleet string) ([]wgfleet.Client, error)
	// ListAll returns every client across every fleet, used by Publishers.
	ListAll() ([]wgfleet.Client, error)

	// Update persists changes to Hostname and Timestamp on an existing row.
	Update(c *wgfleet.Client) error
	Delete(c *wgfleet.Client) error

	Commit() error
	Rollback() error
}

// ErrNotFound is an alias of wgfleet.ErrNotFound for callers that want to
// compare against a registry-scoped name.
var ErrNotFound = wgfleet.ErrNotFound
