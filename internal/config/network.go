package config

import (
	"net"
	"strings"
)

// cgnatBlock is the shared address space used by carrier-grade NAT and by
// overlay VPNs such as Tailscale and Cloudflare WARP.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay reports whether this host looks like it sits behind a VPN
// or CGNAT, where direct peer-to-peer candidates rarely connect.
func ShouldForceRelay() bool {
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
		for _, a := range addrs {
			switch v := a.(type) {
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
	for _, prefix := range tunnelNames {
		if strings.HasPrefix(name, prefix) {
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
