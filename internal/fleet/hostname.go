package fleet

import (
	"fmt"

	"wgfleet/internal/registry"
)

// maxHostnameSuffix bounds the deterministic scan in resolveHostname so a
// pathological number of collisions cannot loop forever.
const maxHostnameSuffix = 1000

// resolveHostname returns a hostname unique within fleet for sess, starting
// from base and appending an increasing numeric suffix (h, h2, h3, ...)
// until an unclaimed one is found. It always starts the scan at the bare
// name rather than remembering any previously tried suffix: the scan is
// stateless across calls by design.
func resolveHostname(sess registry.Session, fleetName, base string) (string, error) {
	candidate := base
	for n := 1; n <= maxHostnameSuffix; n++ {
		existing, err := sess.FindByHostname(fleetName, candidate)
		if err != nil {
			return "", fmt.Errorf("look up hostname %q: %w", candidate, err)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, n+1)
	}
	return "", fmt.Errorf("exhausted %d hostname suffixes for %q", maxHostnameSuffix, base)
}
