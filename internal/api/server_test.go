package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"

	"wgfleet"
	"wgfleet/internal/events"
	"wgfleet/internal/fleet"
	"wgfleet/internal/registry"
)

type fakeDriver struct {
	mu    sync.Mutex
	peers map[string]map[string]netip.Addr
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{peers: map[string]map[string]netip.Addr{}}
}

func (d *fakeDriver) GenerateKeypair() (string, string, error) { return "priv", "pub-1", nil }
func (d *fakeDriver) CreateInterfaceConfig(string, wgfleet.FleetConfig, string) error { return nil }
func (d *fakeDriver) LoadInterfacePrivateKey(string) (string, bool, error) { return "", false, nil }
func (d *fakeDriver) InterfaceExists(context.Context, string) (bool, error) { return true, nil }
func (d *fakeDriver) BringUp(context.Context, string, wgfleet.FleetConfig, string) error { return nil }
func (d *fakeDriver) BringDown(context.Context, string) error { return nil }
func (d *fakeDriver) AddPeer(_ context.Context, fleetName, pub string, ip netip.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peers[fleetName] == nil {
		d.peers[fleetName] = map[string]netip.Addr{}
	}
	d.peers[fleetName][pub] = ip
	return nil
}
func (d *fakeDriver) RemovePeer(_ context.Context, fleetName, pub string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers[fleetName], pub)
	return nil
}
func (d *fakeDriver) ListPeers(context.Context, string) ([]wgfleet.Peer, error) { return nil, nil }
func (d *fakeDriver) ServerPublicKey(context.Context, string) (string, error)   { return "server-pub", nil }
func (d *fakeDriver) BuildClientConfig(priv string, ip netip.Addr, serverPub, endpointIP string, endpointPort int, serverIP netip.Addr) string {
	return fmt.Sprintf("priv=%s ip=%s", priv, ip)
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
func (s *memSession) FindByIP(fleetName string, ip netip.Addr) (*wgfleet.Client, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for i := range s.store.clients {
		if s.store.clients[i].Fleet == fleetName && s.store.clients[i].AssignedIP == ip {
			c := s.store.clients[i]
			return &c, nil
		}
	}
	return nil, nil
}
func (s *memSession) FindByHostname(string, string) (*wgfleet.Client, error) { return nil, nil }
func (s *memSession) List(fleetName string) ([]wgfleet.Client, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var out []wgfleet.Client
	for _, c := range s.store.clients {
		if c.Fleet == fleetName {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *memSession) ListAll() ([]wgfleet.Client, error) { return s.store.clients, nil }
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
func (s *memSession) Delete(*wgfleet.Client) error { return nil }
func (s *memSession) Commit() error                { return nil }
func (s *memSession) Rollback() error              { return nil }

func testHandler() *fleet.Handler {
	return &fleet.Handler{
		Store:  &memStore{},
		Driver: newFakeDriver(),
		Config: wgfleet.Config{
			Domain: "t.local",
			Fleets: map[string]wgfleet.FleetConfig{
				"f1": {
					Name:              "f1",
					IPv6ServerAddress: netip.MustParseAddr("fd00::1"),
					Subnet:            netip.MustParsePrefix("fd00::/64"),
					ExternalIP:        "203.0.113.5",
					ListenPort:        51820,
				},
			},
		},
		Bus: events.New(),
	}
}

func TestRegisterEndpoint(t *testing.T) {
	h := testHandler()
	srv := httptest.NewServer(New("", h).http.Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/fleet/f1/register", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "success" || body["config"] == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRegisterEndpointUnknownFleet(t *testing.T) {
	h := testHandler()
	srv := httptest.NewServer(New("", h).http.Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/fleet/ghost/register", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPingEndpointUsesForwardedFor(t *testing.T) {
	h := testHandler()
	store := h.Store.(*memStore)
	store.clients = []wgfleet.Client{{ID: 1, Fleet: "f1", PublicKey: "pub-1", AssignedIP: netip.MustParseAddr("fd00::10")}}
	store.nextID = 1

	srv := httptest.NewServer(New("", h).http.Handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/fleet/f1/ping", bytes.NewBufferString(`{"hostname":"alpha"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Forwarded-For", "fd00::10")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if store.clients[0].Hostname != "alpha" {
		t.Errorf("hostname = %q, want alpha", store.clients[0].Hostname)
	}
}

func TestPingEndpointForbiddenOutsideSubnet(t *testing.T) {
	h := testHandler()
	srv := httptest.NewServer(New("", h).http.Handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/fleet/f1/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Forwarded-For", "fd99::1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
