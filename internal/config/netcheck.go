package config

import (
	"fmt"
	"net"
)

// parseIPOrErr validates BOOTSTRAP_PEER_IP is a well-formed IPv4 address,
// returning nil on success.
func parseIPOrErr(s string) error {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("BOOTSTRAP_PEER_IP: %q is not a valid IPv4 address", s)
	}
	return nil
}
