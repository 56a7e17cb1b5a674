package driver

import (
	"fmt"
	"net/netip"
	"strings"

	"wgfleet"
)

const persistentKeepalive = 25

// BuildClientConfig renders the wg-quick style INI text returned by
// register. It never touches the kernel.
func BuildClientConfig(privateKey string, clientIP netip.Addr, serverPublicKey, endpointIP string, endpointPort int, serverIP netip.Addr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	fmt.Fprintf(&b, "Address = %s\n", clientIP)
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", serverPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s:%d\n", endpointIP, endpointPort)
	fmt.Fprintf(&b, "AllowedIPs = %s/128\n", serverIP)
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", persistentKeepalive)
	return b.String()
}

// BuildServerInterfaceConfig renders the server-side interface config text
// written by CreateInterfaceConfig.
func BuildServerInterfaceConfig(cfg wgfleet.FleetConfig, privateKey string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "Address = %s\n", cfg.IPv6ServerAddress)
	fmt.Fprintf(&b, "ListenPort = %d\n", cfg.ListenPort)
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	return b.String()
}

// ParsePrivateKey extracts the "PrivateKey = ..." line written by
// BuildServerInterfaceConfig. ok is false if no such line is present.
func ParsePrivateKey(configText string) (privateKey string, ok bool) {
	const prefix = "PrivateKey = "
	for _, line := range strings.Split(configText, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), true
		}
	}
	return "", false
}

// Redact masks a sensitive value (a private key) out of a logged string so
// key material never reaches logs or error messages.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}
