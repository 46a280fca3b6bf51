package config

import (
	"net"
	"strings"
)

// cgnatBlock is the shared address space used by carrier NATs and by
// overlay VPNs such as WARP and Tailscale.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// BehindRestrictedNetwork reports whether an active interface looks like a
// VPN tunnel or sits behind a carrier NAT. Direct candidates rarely work
// there, so relay-only ICE is the better default when a TURN server exists.
func BehindRestrictedNetwork() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		var ips []net.IP
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				ips = append(ips, v.IP)
			case *net.IPAddr:
				ips = append(ips, v.IP)
			}
		}
		if restrictedInterface(iface.Name, ips) {
			return true
		}
	}
	return false
}

func restrictedInterface(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}

// AutoRelay turns on ForceRelay when a TURN server is configured and
// restricted reports a restricted network. It returns whether it did.
func (c *Config) AutoRelay(restricted func() bool) bool {
	if c.ForceRelay || c.TURNServer == "" || !restricted() {
		return false
	}
	c.ForceRelay = true
	return true
}
