package domain

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"regexp"
	"strings"
)

var macPattern = regexp.MustCompile(`^([0-9a-f]{2}:){5}[0-9a-f]{2}$`)

var locationPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9_-]+$`)

// NormalizeMAC accepts colon or dash separated MAC addresses and returns the
// lower-case colon form. All-zero and broadcast addresses are rejected.
func NormalizeMAC(mac string) (string, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
	if !macPattern.MatchString(norm) {
		return "", fmt.Errorf("invalid MAC address %q: expected XX:XX:XX:XX:XX:XX", mac)
	}
	if norm == "00:00:00:00:00:00" || norm == "ff:ff:ff:ff:ff:ff" {
		return "", fmt.Errorf("disallowed MAC address %q", mac)
	}
	return norm, nil
}

// GenerateMAC returns a locally administered unicast address in the 02:00 range.
func GenerateMAC(r *rand.Rand) string {
	return fmt.Sprintf("02:00:%02x:%02x:%02x:%02x",
		r.IntN(0x80), r.IntN(0x100), r.IntN(0x100), r.IntN(0x100))
}

// ValidLocation reports whether loc has the pool/name form.
func ValidLocation(loc string) bool {
	return locationPattern.MatchString(loc)
}

// ParseIPv4 validates an IPv4 address.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q: %w", s, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q: not IPv4", s)
	}
	return addr, nil
}

// ParseHostPrefix validates an address/prefix pair where the address is a
// host address rather than the network address.
func ParseHostPrefix(s string) (netip.Prefix, error) {
	if !strings.Contains(s, "/") {
		return netip.Prefix{}, fmt.Errorf("missing prefix length in %q: expected IP/BITS", s)
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if p.Bits() < p.Addr().BitLen() && p.Addr() == p.Masked().Addr() {
		return netip.Prefix{}, fmt.Errorf("%q is a network address, not a host address", s)
	}
	return p, nil
}

// BMCAddress derives the baseboard management controller address of the host
// by substituting one octet of its management IPv4 address.
func (h Host) BMCAddress(octet int, value uint8) (string, error) {
	if octet < 0 || octet > 3 {
		return "", fmt.Errorf("octet index %d out of range", octet)
	}
	addr, err := ParseIPv4(h.IP)
	if err != nil {
		return "", err
	}
	b := addr.As4()
	b[octet] = value
	return netip.AddrFrom4(b).String(), nil
}
