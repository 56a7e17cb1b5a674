package reconcile

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"wgfleet"
	"wgfleet/internal/events"
	"wgfleet/internal/registry"
)

type fakeDriver struct {
	mu          sync.Mutex
	privateKeys map[string]string
	peers       map[string][]wgfleet.Peer
	broughtUp   []string
	removed     []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{privateKeys: map[string]string{}, peers: map[string][]wgfleet.Peer{}}
}

func (d *fakeDriver) GenerateKeypair() (string, string, error) { return "priv", "pub", nil }
func (d *fakeDriver) CreateInterfaceConfig(fleet string, _ wgfleet.FleetConfig, priv string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.privateKeys[fleet] = priv
	return nil
}
func (d *fakeDriver) LoadInterfacePrivateKey(fleet string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.privateKeys[fleet]
	return key, ok, nil
}
func (d *fakeDriver) InterfaceExists(context.Context, string) (bool, error) { return true, nil }
func (d *fakeDriver) BringUp(_ context.Context, fleet string, _ wgfleet.FleetConfig, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broughtUp = append(d.broughtUp, fleet)
	return nil
}
func (d *fakeDriver) BringDown(context.Context, string) error { return nil }
func (d *fakeDriver) AddPeer(context.Context, string, string, netip.Addr) error { return nil }
func (d *fakeDriver) RemovePeer(_ context.Context, fleet, pub string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, pub)
	var kept []wgfleet.Peer
	for _, p := range d.peers[fleet] {
		if p.PublicKey != pub {
			kept = append(kept, p)
		}
	}
	d.peers[fleet] = kept
	return nil
}
func (d *fakeDriver) ListPeers(_ context.Context, fleet string) ([]wgfleet.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wgfleet.Peer(nil), d.peers[fleet]...), nil
}
func (d *fakeDriver) ServerPublicKey(context.Context, string) (string, error) { return "server-pub", nil }
func (d *fakeDriver) BuildClientConfig(string, netip.Addr, string, string, int, netip.Addr) string {
	return ""
}

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	clients []wgfleet.Client
}

func (m *memStore) Begin() (registry.Session, error) { return &memSession{m}, nil }
func (m *memStore) Close() error                     { return nil }

type memSession struct{ store *memStore }

func (s *memSession) Insert(c *wgfleet.Client) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.nextID++
	c.ID = s.store.nextID
	s.store.clients = append(s.store.clients, *c)
	return nil
}
func (s *memSession) FindByPublicKey(string, string) (*wgfleet.Client, error) { return nil, nil }
func (s *memSession) FindByIP(string, netip.Addr) (*wgfleet.Client, error)    { return nil, nil }
func (s *memSession) FindByHostname(string, string) (*wgfleet.Client, error) { return nil, nil }
func (s *memSession) List(fleet string) ([]wgfleet.Client, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var out []wgfleet.Client
	for _, c := range s.store.clients {
		if c.Fleet == fleet {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *memSession) ListAll() ([]wgfleet.Client, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return append([]wgfleet.Client(nil), s.store.clients...), nil
}
func (s *memSession) Update(c *wgfleet.Client) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for i := range s.store.clients {
		if s.store.clients[i].ID == c.ID {
			s.store.clients[i] = *c
		}
	}
	return nil
}
func (s *memSession) Delete(c *wgfleet.Client) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for i := range s.store.clients {
		if s.store.clients[i].ID == c.ID {
			s.store.clients = append(s.store.clients[:i], s.store.clients[i+1:]...)
			return nil
		}
	}
	return nil
}
func (s *memSession) Commit() error   { return nil }
func (s *memSession) Rollback() error { return nil }

func testConfig() wgfleet.Config {
	return wgfleet.Config{
		Domain:       "t.local",
		PruneTimeout: time.Hour,
		Fleets: map[string]wgfleet.FleetConfig{
			"f1": {Name: "f1", IPv6ServerAddress: netip.MustParseAddr("fd00::1"), Subnet: netip.MustParsePrefix("fd00::/64")},
		},
	}
}

func TestReconcilerRemovesOrphanDriverPeer(t *testing.T) {
	drv := newFakeDriver()
	drv.privateKeys["f1"] = "existing-priv"
	drv.peers["f1"] = []wgfleet.Peer{{PublicKey: "orphan-pub"}}
	store := &memStore{}
	bus := events.New()
	r := &Reconciler{Store: store, Driver: drv, Config: testConfig(), Bus: bus}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(drv.removed) != 1 || drv.removed[0] != "orphan-pub" {
		t.Errorf("removed = %v, want [orphan-pub]", drv.removed)
	}
	if len(drv.broughtUp) != 1 || drv.broughtUp[0] != "f1" {
		t.Errorf("broughtUp = %v", drv.broughtUp)
	}
}

func TestReconcilerDeletesOrphanRegistryRow(t *testing.T) {
	drv := newFakeDriver()
	drv.privateKeys["f1"] = "existing-priv"
	store := &memStore{clients: []wgfleet.Client{{ID: 1, Fleet: "f1", PublicKey: "ghost-pub"}}}
	r := &Reconciler{Store: store, Driver: drv, Config: testConfig(), Bus: events.New()}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.clients) != 0 {
		t.Errorf("clients = %v, want empty", store.clients)
	}
}

func TestReconcilerPublishesStartupOnce(t *testing.T) {
	drv := newFakeDriver()
	drv.privateKeys["f1"] = "existing-priv"
	var count int
	bus := events.New(events.Subscriber{Name: "counter", Notify: func(e wgfleet.Event) error {
		if e.Kind == wgfleet.EventStartup {
			count++
		}
		return nil
	}})
	r := &Reconciler{Store: &memStore{}, Driver: drv, Config: testConfig(), Bus: bus}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 1 {
		t.Errorf("startup published %d times, want 1", count)
	}
}

func TestPrunerRemovesStaleHandshake(t *testing.T) {
	drv := newFakeDriver()
	oldHandshake := time.Now().Add(-2 * time.Hour)
	drv.peers["f1"] = []wgfleet.Peer{{PublicKey: "stale-pub", LastHandshake: oldHandshake}}
	store := &memStore{clients: []wgfleet.Client{{ID: 1, Fleet: "f1", PublicKey: "stale-pub", Timestamp: oldHandshake}}}
	var removedCount int
	bus := events.New(events.Subscriber{Name: "counter", Notify: func(e wgfleet.Event) error {
		if e.Kind == wgfleet.EventClientRemoved {
			removedCount = e.Count
		}
		return nil
	}})
	p := &Pruner{Store: store, Driver: drv, Config: testConfig(), Bus: bus}

	p.runCycle(context.Background())

	if len(store.clients) != 0 {
		t.Errorf("clients = %v, want empty", store.clients)
	}
	if removedCount != 1 {
		t.Errorf("removedCount = %d, want 1", removedCount)
	}
}

func TestPrunerSkipsFreshNeverConnected(t *testing.T) {
	drv := newFakeDriver()
	drv.peers["f1"] = []wgfleet.Peer{{PublicKey: "new-pub"}}
	store := &memStore{clients: []wgfleet.Client{{ID: 1, Fleet: "f1", PublicKey: "new-pub", Timestamp: time.Now()}}}
	p := &Pruner{Store: store, Driver: drv, Config: testConfig(), Bus: events.New()}

	p.runCycle(context.Background())

	if len(store.clients) != 1 {
		t.Errorf("clients = %v, want 1 kept", store.clients)
	}
}

func TestPrunerRemovesNeverConnectedPastCutoff(t *testing.T) {
	drv := newFakeDriver()
	drv.peers["f1"] = []wgfleet.Peer{{PublicKey: "never-pub"}}
	store := &memStore{clients: []wgfleet.Client{{ID: 1, Fleet: "f1", PublicKey: "never-pub", Timestamp: time.Now().Add(-2 * time.Hour)}}}
	p := &Pruner{Store: store, Driver: drv, Config: testConfig(), Bus: events.New()}

	p.runCycle(context.Background())

	if len(store.clients) != 0 {
		t.Errorf("clients = %v, want empty", store.clients)
	}
}
