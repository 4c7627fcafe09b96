package netaddr

import (
	"net"
	"testing"
)

func TestScanSkip(t *testing.T) {
	cases := []struct {
		ip   string
		skip bool
	}{
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"224.0.0.1", true},
		{"239.255.255.255", true},
		{"240.0.0.1", true},
		{"255.255.255.255", true},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.ip)
		if got := ScanSkip(ip); got != c.skip {
			t.Errorf("ScanSkip(%s) = %v, want %v", c.ip, got, c.skip)
		}
	}
}

func TestUint32ToIPv4RoundTrip(t *testing.T) {
	ip := net.ParseIP("203.0.113.42").To4()
	var v uint32
	for _, b := range ip {
		v = v<<8 | uint32(b)
	}
	got := Uint32ToIPv4(v)
	if !got.Equal(ip) {
		t.Errorf("Uint32ToIPv4(%d) = %s, want %s", v, got, ip)
	}
}
