// Package allocator draws random IPv6 host addresses from a fleet subnet.
//
// This generalizes the bit-range arithmetic pkg/ipam used for picking IPv4
// /24 subnets out of a larger block to picking single IPv6 host addresses
// out of a /64-or-narrower subnet. Allocate does not consult the registry;
// collision handling is the caller's responsibility.
package allocator

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/netip"
)

// Allocate returns an IPv6 address drawn uniformly from the host range of
// subnet: from the network address (host bits all zero) through the
// all-ones host address, inclusive.
func Allocate(subnet netip.Prefix) (netip.Addr, error) {
	if !subnet.IsValid() || !subnet.Addr().Is6() {
		return netip.Addr{}, fmt.Errorf("allocate: subnet %s is not a valid IPv6 prefix", subnet)
	}

	hostBits := 128 - subnet.Bits()
	if hostBits <= 0 {
		return subnet.Addr(), nil
	}

	span := new(big.Int).Lsh(big.NewInt(1), uint(hostBits))
	offset, err := rand.Int(rand.Reader, span)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("allocate: draw random offset: %w", err)
	}

	base := addrToBigInt(subnet.Masked().Addr())
	host := new(big.Int).Add(base, offset)
	return bigIntToAddr(host)
}

func addrToBigInt(a netip.Addr) *big.Int {
	b := a.As16()
	return new(big.Int).SetBytes(b[:])
}

func bigIntToAddr(v *big.Int) (netip.Addr, error) {
	b := v.Bytes()
	if len(b) > 16 {
		return netip.Addr{}, fmt.Errorf("allocate: overflow building IPv6 address")
	}
	var buf [16]byte
	copy(buf[16-len(b):], b)
	return netip.AddrFrom16(buf).Unmap(), nil
}
