package xnetip

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// LastAddr returns the last (broadcast) address covered by the prefix.
func LastAddr(prefix netip.Prefix) netip.Addr {
	ip := prefix.Addr()
	bits := prefix.Bits()

	if prefix.Addr().Is4() {
		v4b := ip.As4()
		addrBits := binary.BigEndian.Uint32(v4b[:])
		wildcardBits := uint32(1<<(32-bits) - 1)
		broadCastBits := addrBits | wildcardBits

		binary.BigEndian.PutUint32(v4b[:], broadCastBits)
		return netip.AddrFrom4(v4b)
	} else {
		v6b := ip.As16()

		addrBits := binary.BigEndian.Uint64(v6b[:])
		startByte := 0
		if bits >= 64 {
			bits -= 64
			startByte = 8
			addrBits = binary.BigEndian.Uint64(v6b[8:])
		}
		wildcardBits := uint64(1<<(64-bits) - 1)
		broadCastBits := addrBits | wildcardBits
		binary.BigEndian.PutUint64(v6b[startByte:], broadCastBits)
		return netip.AddrFrom16(v6b)
	}
}

// Canonical returns the prefix with host bits cleared and IPv4-mapped IPv6
// addresses converted to their native IPv4 form.
//
// Route tables key prefixes by their canonical form only.
func Canonical(prefix netip.Prefix) netip.Prefix {
	addr := prefix.Addr()
	if !addr.Is4In6() {
		return prefix.Masked()
	}

	bits := prefix.Bits() - 96
	if bits < 0 {
		bits = 0
	}
	return netip.PrefixFrom(addr.Unmap(), bits).Masked()
}

// ParsePrefix parses a CIDR prefix, additionally accepting the "default"
// keyword of "ip route" for the IPv4 default route.
//
// A bare address is treated as a host prefix.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "default"):
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0), nil
	case strings.Contains(s, "/"):
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid prefix %q: %w", s, err)
		}
		return Canonical(prefix), nil
	default:
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid prefix %q: %w", s, err)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
}
