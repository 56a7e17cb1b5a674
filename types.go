// Package wgfleet holds the domain types shared across the registry, driver,
// allocator, publisher, reconciler, and HTTP layers.
package wgfleet

import (
	"net/netip"
	"regexp"
	"time"

	"wgfleet/internal/check"
)

// hostnameRegexp restricts hostnames to a DNS-label-safe character set.
var hostnameRegexp = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidHostname reports whether h satisfies the hostname shape invariant.
func ValidHostname(h string) bool {
	return hostnameRegexp.MatchString(h)
}

// Client is a single enrolled peer, keyed within its fleet by PublicKey,
// AssignedIP, and (when set) Hostname.
type Client struct {
	ID         int64
	Fleet      string
	PublicKey  string
	AssignedIP netip.Addr
	RequestIP  netip.Addr
	Hostname   string // empty means unset
	Timestamp  time.Time
}

// HasHostname reports whether the client has claimed a hostname.
func (c Client) HasHostname() bool {
	return c.Hostname != ""
}

// FleetConfig is the immutable per-fleet configuration loaded at startup.
type FleetConfig struct {
	Name              string
	IPv6ServerAddress netip.Addr
	Subnet            netip.Prefix
	ExternalIP        string
	ListenPort        int
}

// Config is the immutable process configuration loaded at startup.
type Config struct {
	Domain       string
	PruneTimeout time.Duration
	Fleets       map[string]FleetConfig
}

// Peer is the live kernel view of a single WireGuard peer.
type Peer struct {
	PublicKey     string
	AllowedIPs    []netip.Prefix
	LastHandshake time.Time // zero value means "never handshaken"
	RxBytes       int64
	TxBytes       int64
}

// HasHandshaken reports whether the kernel has ever recorded a handshake
// for this peer.
func (p Peer) HasHandshaken() bool {
	return !p.LastHandshake.IsZero()
}

// EventKind enumerates the lifecycle events published to subscribers.
type EventKind int

const (
	EventStartup EventKind = iota + 1
	EventClientAdded
	EventClientHostnameChanged
	EventClientRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventStartup:
		return "startup"
	case EventClientAdded:
		return "client_added"
	case EventClientHostnameChanged:
		return "client_hostname_changed"
	case EventClientRemoved:
		return "client_removed"
	default:
		check.Assertf(false, "unknown event kind: %d", k)
		return "unknown"
	}
}

// Event carries a lifecycle notification through the event bus. ClientData
// is populated for per-client events and nil for aggregate events like
// EventStartup or an EventClientRemoved prune summary.
type Event struct {
	Kind       EventKind
	Fleet      string
	ClientData *Client
	Count      int // used by EventClientRemoved prune summaries
}
