// Package config loads and validates the wgfleet YAML configuration file.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"wgfleet"
)

// rawConfig mirrors the on-disk YAML shape before validation.
type rawConfig struct {
	Domain       string              `yaml:"domain"`
	PruneTimeout string              `yaml:"prune_timeout"`
	Fleets       map[string]rawFleet `yaml:"fleets"`
}

type rawFleet struct {
	IP6        string `yaml:"ip6"`
	Subnet     string `yaml:"subnet"`
	ExternalIP string `yaml:"external_ip"`
	Port       int    `yaml:"port"`
}

// Load reads path, parses it as YAML, and validates its contents. Any
// validation failure is wrapped in wgfleet.ErrConfig.
func Load(path string) (wgfleet.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wgfleet.Config{}, fmt.Errorf("%w: read %s: %v", wgfleet.ErrConfig, path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return wgfleet.Config{}, fmt.Errorf("%w: parse %s: %v", wgfleet.ErrConfig, path, err)
	}

	return validate(raw)
}

func validate(raw rawConfig) (wgfleet.Config, error) {
	if raw.Domain == "" {
		return wgfleet.Config{}, fmt.Errorf("%w: missing domain", wgfleet.ErrConfig)
	}
	if raw.PruneTimeout == "" {
		return wgfleet.Config{}, fmt.Errorf("%w: missing prune_timeout", wgfleet.ErrConfig)
	}
	pruneTimeout, err := ParseDuration(raw.PruneTimeout)
	if err != nil {
		return wgfleet.Config{}, fmt.Errorf("%w: prune_timeout: %v", wgfleet.ErrConfig, err)
	}
	if len(raw.Fleets) == 0 {
		return wgfleet.Config{}, fmt.Errorf("%w: no fleets configured", wgfleet.ErrConfig)
	}

	fleets := make(map[string]wgfleet.FleetConfig, len(raw.Fleets))
	for name, f := range raw.Fleets {
		fc, err := validateFleet(name, f)
		if err != nil {
			return wgfleet.Config{}, err
		}
		fleets[name] = fc
	}

	return wgfleet.Config{
		Domain:       raw.Domain,
		PruneTimeout: pruneTimeout,
		Fleets:       fleets,
	}, nil
}

func validateFleet(name string, f rawFleet) (wgfleet.FleetConfig, error) {
	if f.Port < 1 || f.Port > 65535 {
		return wgfleet.FleetConfig{}, fmt.Errorf("%w: fleet %q: port must be in [1, 65535], got %d", wgfleet.ErrConfig, name, f.Port)
	}

	ip6, err := netip.ParseAddr(f.IP6)
	if err != nil || !ip6.Is6() {
		return wgfleet.FleetConfig{}, fmt.Errorf("%w: fleet %q: invalid ip6 %q: %v", wgfleet.ErrConfig, name, f.IP6, err)
	}

	subnet, err := netip.ParsePrefix(f.Subnet)
	if err != nil || !subnet.Addr().Is6() {
		return wgfleet.FleetConfig{}, fmt.Errorf("%w: fleet %q: invalid IPv6 subnet %q: %v", wgfleet.ErrConfig, name, f.Subnet, err)
	}

	if f.ExternalIP == "" {
		return wgfleet.FleetConfig{}, fmt.Errorf("%w: fleet %q: missing external_ip", wgfleet.ErrConfig, name)
	}

	return wgfleet.FleetConfig{
		Name:              name,
		IPv6ServerAddress: ip6,
		Subnet:            subnet.Masked(),
		ExternalIP:        f.ExternalIP,
		ListenPort:        f.Port,
	}, nil
}
