package publish

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"wgfleet"
)

// nodeExporterPort is the conventional node_exporter scrape port baked into
// every target this publisher emits.
const nodeExporterPort = 9100

// serviceDiscoTarget is one element of a Prometheus file_sd_config target
// file.
type serviceDiscoTarget struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// NewServiceDiscoPublisher builds the Publisher that renders a Prometheus
// file-based service-discovery document, one target per hostnamed client.
func NewServiceDiscoPublisher(path string) Publisher {
	return Publisher{
		Name:   "service_discovery",
		Path:   path,
		Render: renderServiceDisco,
	}
}

func renderServiceDisco(clients []wgfleet.Client, cfg wgfleet.Config) ([]byte, error) {
	named := withHostname(clients)

	targets := make([]serviceDiscoTarget, 0, len(named))
	for _, c := range named {
		targets = append(targets, serviceDiscoTarget{
			Targets: []string{fmt.Sprintf("[%s]:%d", c.AssignedIP, nodeExporterPort)},
			Labels: map[string]string{
				"job":      "node_exporter",
				"hostname": c.Hostname,
				"fleet":    c.Fleet,
			},
		})
	}

	data, err := json.MarshalIndent(targets, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal service discovery targets: %w", err)
	}
	return append(data, '\n'), nil
}

// DefaultServiceDiscoPath joins dataDir with the conventional service
// discovery artifact name.
func DefaultServiceDiscoPath(dataDir string) string {
	return filepath.Join(dataDir, "service_discovery.json")
}
