package net

import (
	"net"
	"strconv"
)

// AdvertiseIP returns the first non-loopback IPv4 address of this host, or
// 127.0.0.1 when there is none. It is the address a server tells its
// opponent to dial.
func AdvertiseIP() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		if ip := firstIPv4(addrs); ip != nil {
			return ip
		}
	}
	return net.IPv4(127, 0, 0, 1)
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}

// AdvertiseAddr joins AdvertiseIP with port.
func AdvertiseAddr(port int) string {
	return net.JoinHostPort(AdvertiseIP().String(), strconv.Itoa(port))
}
