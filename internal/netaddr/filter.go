// Package netaddr holds the IPv4 address-class filter the Feistel sweep
// uses to skip non-routable ranges (spec §4.5 "Address filter"). Grounded
// on the private/link-local classification in the teacher's
// pkg/p2pnet/interfaces.go (isGlobalIPv4), generalized with the additional
// ranges the sweep must also skip: loopback, multicast, and reserved.
package netaddr

import "net"

// ScanSkip reports whether ip falls in a range the Feistel IPv4 sweep
// should never probe: loopback (127/8), private (10/8, 172.16/12,
// 192.168/16), link-local (169.254/16), multicast (224/4), or reserved
// (240/4).
func ScanSkip(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return true
	}
	switch {
	case ip4[0] == 127: // loopback
		return true
	case ip4[0] == 10: // private 10/8
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31: // private 172.16/12
		return true
	case ip4[0] == 192 && ip4[1] == 168: // private 192.168/16
		return true
	case ip4[0] == 169 && ip4[1] == 254: // link-local 169.254/16
		return true
	case ip4[0] >= 224 && ip4[0] <= 239: // multicast 224/4
		return true
	case ip4[0] >= 240: // reserved 240/4
		return true
	}
	return false
}

// Uint32ToIPv4 converts a 32-bit address into a net.IP.
func Uint32ToIPv4(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).To4()
}
