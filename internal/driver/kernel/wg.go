//go:build linux

// Package kernel implements driver.Driver against the Linux kernel
// WireGuard module, using wgctrl/wgtypes for device and peer control and
// netlink for interface lifecycle.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgfleet"
	"wgfleet/internal/driver"
)

const (
	peerKeepalive       = 25 * time.Second
	defaultInterfaceMTU = 1280
)

// Driver implements driver.Driver against the kernel WireGuard module.
type Driver struct {
	// ConfigDir is where fleet-scoped interface config files are written.
	ConfigDir string
}

// New creates a kernel-backed driver rooted at configDir.
func New(configDir string) *Driver {
	return &Driver{ConfigDir: configDir}
}

var _ driver.Driver = (*Driver)(nil)

func (d *Driver) GenerateKeypair() (private, public string, err error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("%w: generate keypair: %v", wgfleet.ErrDriver, err)
	}
	return key.String(), key.PublicKey().String(), nil
}

func (d *Driver) interfaceConfigPath(fleet string) string {
	return filepath.Join(d.ConfigDir, fleet+".conf")
}

func (d *Driver) CreateInterfaceConfig(fleet string, cfg wgfleet.FleetConfig, privateKey string) error {
	if err := os.MkdirAll(d.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("%w: create config dir: %v", wgfleet.ErrDriver, err)
	}
	text := driver.BuildServerInterfaceConfig(cfg, privateKey)
	path := d.interfaceConfigPath(fleet)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return fmt.Errorf("%w: write interface config %s: %v", wgfleet.ErrDriver, path, err)
	}
	return nil
}

func (d *Driver) LoadInterfacePrivateKey(fleet string) (string, bool, error) {
	data, err := os.ReadFile(d.interfaceConfigPath(fleet))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: read interface config: %v", wgfleet.ErrDriver, err)
	}
	key, ok := driver.ParsePrivateKey(string(data))
	if !ok {
		return "", false, fmt.Errorf("%w: interface config for %q has no PrivateKey", wgfleet.ErrDriver, fleet)
	}
	return key, true, nil
}

func (d *Driver) InterfaceExists(_ context.Context, fleet string) (bool, error) {
	_, err := netlink.LinkByName(fleet)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("%w: find interface %q: %v", wgfleet.ErrDriver, fleet, err)
	}
	return true, nil
}

func (d *Driver) BringUp(_ context.Context, fleet string, cfg wgfleet.FleetConfig, privateKey string) error {
	link, err := ensureLink(fleet, defaultInterfaceMTU)
	if err != nil {
		return fmt.Errorf("%w: %v", wgfleet.ErrDriver, err)
	}

	key, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return fmt.Errorf("%w: parse private key: %v", wgfleet.ErrDriver, err)
	}

	wg, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("%w: create wireguard client: %v", wgfleet.ErrDriver, err)
	}
	defer wg.Close()

	port := cfg.ListenPort
	wgCfg := wgtypes.Config{
		PrivateKey:   &key,
		ListenPort:   &port,
		ReplacePeers: false,
	}
	if err := wg.ConfigureDevice(fleet, wgCfg); err != nil {
		return fmt.Errorf("%w: configure device %s: %v", wgfleet.ErrDriver, fleet, redactErr(err, privateKey))
	}

	addr := netip.PrefixFrom(cfg.IPv6ServerAddress, cfg.Subnet.Bits())
	if err := syncAddresses(link, []netip.Prefix{addr}); err != nil {
		return fmt.Errorf("%w: %v", wgfleet.ErrDriver, err)
	}

	if link.Attrs().Flags&unix.IFF_UP == 0 {
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("%w: set interface %q up: %v", wgfleet.ErrDriver, fleet, err)
		}
	}
	return nil
}

func (d *Driver) BringDown(_ context.Context, fleet string) error {
	link, err := netlink.LinkByName(fleet)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("%w: find interface %q: %v", wgfleet.ErrDriver, fleet, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("%w: delete interface %q: %v", wgfleet.ErrDriver, fleet, err)
	}
	return nil
}

func (d *Driver) AddPeer(_ context.Context, fleet, publicKey string, ip netip.Addr) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: parse peer public key: %v", wgfleet.ErrDriver, err)
	}

	wg, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("%w: create wireguard client: %v", wgfleet.ErrDriver, err)
	}
	defer wg.Close()

	keepalive := peerKeepalive
	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:                   key,
			ReplaceAllowedIPs:           true,
			AllowedIPs:                  []net.IPNet{singleHostIPNet(ip)},
			PersistentKeepaliveInterval: &keepalive,
		}},
	}
	if err := wg.ConfigureDevice(fleet, cfg); err != nil {
		return fmt.Errorf("%w: add peer on %s: %v", wgfleet.ErrDriver, fleet, err)
	}
	return nil
}

func (d *Driver) RemovePeer(_ context.Context, fleet, publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: parse peer public key: %v", wgfleet.ErrDriver, err)
	}

	wg, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("%w: create wireguard client: %v", wgfleet.ErrDriver, err)
	}
	defer wg.Close()

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{PublicKey: key, Remove: true}},
	}
	if err := wg.ConfigureDevice(fleet, cfg); err != nil {
		// Removing an absent peer, or an absent device, is not an error.
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: remove peer on %s: %v", wgfleet.ErrDriver, fleet, err)
	}
	return nil
}

func (d *Driver) ListPeers(_ context.Context, fleet string) ([]wgfleet.Peer, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("%w: create wireguard client: %v", wgfleet.ErrDriver, err)
	}
	defer wg.Close()

	dev, err := wg.Device(fleet)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect device %s: %v", wgfleet.ErrDriver, fleet, err)
	}

	peers := make([]wgfleet.Peer, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		var lastHandshake time.Time
		if !p.LastHandshakeTime.IsZero() {
			lastHandshake = p.LastHandshakeTime
		}
		allowed := make([]netip.Prefix, 0, len(p.AllowedIPs))
		for _, n := range p.AllowedIPs {
			if pref, err := ipNetToPrefix(n); err == nil {
				allowed = append(allowed, pref)
			}
		}
		peers = append(peers, wgfleet.Peer{
			PublicKey:     p.PublicKey.String(),
			AllowedIPs:    allowed,
			LastHandshake: lastHandshake,
			RxBytes:       p.ReceiveBytes,
			TxBytes:       p.TransmitBytes,
		})
	}
	return peers, nil
}

func (d *Driver) ServerPublicKey(_ context.Context, fleet string) (string, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return "", fmt.Errorf("%w: create wireguard client: %v", wgfleet.ErrDriver, err)
	}
	defer wg.Close()

	dev, err := wg.Device(fleet)
	if err != nil {
		return "", fmt.Errorf("%w: inspect device %s: %v", wgfleet.ErrDriver, fleet, err)
	}
	return dev.PublicKey.String(), nil
}

func (d *Driver) BuildClientConfig(privateKey string, clientIP netip.Addr, serverPublicKey, endpointIP string, endpointPort int, serverIP netip.Addr) string {
	return driver.BuildClientConfig(privateKey, clientIP, serverPublicKey, endpointIP, endpointPort, serverIP)
}

func ensureLink(iface string, mtu int) (netlink.Link, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); !ok {
			return nil, fmt.Errorf("find interface %q: %w", iface, err)
		}
		link = &netlink.GenericLink{LinkAttrs: netlink.LinkAttrs{Name: iface}, LinkType: "wireguard"}
		if err := netlink.LinkAdd(link); err != nil {
			return nil, fmt.Errorf("create interface %q: %w", iface, err)
		}
		link, err = netlink.LinkByName(iface)
		if err != nil {
			return nil, fmt.Errorf("refetch interface %q: %w", iface, err)
		}
	}
	if link.Attrs().MTU != mtu {
		if err := netlink.LinkSetMTU(link, mtu); err != nil {
			return nil, fmt.Errorf("set mtu on %q: %w", iface, err)
		}
	}
	return link, nil
}

func syncAddresses(link netlink.Link, prefixes []netip.Prefix) error {
	desired := make(map[string]struct{}, len(prefixes))
	for _, pref := range prefixes {
		if !pref.IsValid() {
			continue
		}
		desired[pref.String()] = struct{}{}
		addr := &netlink.Addr{IPNet: ptrIPNet(prefixToIPNet(pref))}
		if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("set address %s: %w", pref, err)
		}
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
	if err != nil {
		return fmt.Errorf("list addresses on %s: %w", link.Attrs().Name, err)
	}
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		pref, err := ipNetToPrefix(*addr.IPNet)
		if err != nil {
			continue
		}
		if _, ok := desired[pref.String()]; ok {
			continue
		}
		if err := netlink.AddrDel(link, &addr); err != nil && !errors.Is(err, unix.EADDRNOTAVAIL) {
			return fmt.Errorf("remove stale address %s: %w", pref, err)
		}
	}
	return nil
}

func singleHostIPNet(ip netip.Addr) net.IPNet {
	bits := 32
	if ip.Is6() {
		bits = 128
	}
	return net.IPNet{IP: ip.AsSlice(), Mask: net.CIDRMask(bits, bits)}
}

func prefixToIPNet(pref netip.Prefix) net.IPNet {
	bits := 32
	if pref.Addr().Is6() {
		bits = 128
	}
	return net.IPNet{IP: pref.Addr().AsSlice(), Mask: net.CIDRMask(pref.Bits(), bits)}
}

func ipNetToPrefix(n net.IPNet) (netip.Prefix, error) {
	a, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("invalid IP %v", n.IP)
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(a.Unmap(), ones), nil
}

func ptrIPNet(n net.IPNet) *net.IPNet { return &n }

func redactErr(err error, secret string) error {
	if err == nil {
		return nil
	}
	return errors.New(driver.Redact(err.Error(), secret))
}
