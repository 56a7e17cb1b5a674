package publish

import (
	"fmt"
	"path/filepath"
	"strings"

	"wgfleet"
)

// NewHostsPublisher builds the Publisher that renders a hosts(5)-style file
// mapping each hostnamed client's assigned address to
// "<hostname>.<fleet>.<domain>".
func NewHostsPublisher(path string) Publisher {
	return Publisher{
		Name:   "hosts",
		Path:   path,
		Render: renderHosts,
	}
}

func renderHosts(clients []wgfleet.Client, cfg wgfleet.Config) ([]byte, error) {
	named := withHostname(clients)

	var b strings.Builder
	for _, c := range named {
		fmt.Fprintf(&b, "%s %s.%s.%s\n", c.AssignedIP, c.Hostname, c.Fleet, cfg.Domain)
	}
	return []byte(b.String()), nil
}

// DefaultHostsPath joins dataDir with the conventional hosts artifact name.
func DefaultHostsPath(dataDir string) string {
	return filepath.Join(dataDir, "hosts")
}
