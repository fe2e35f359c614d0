// Package privacy reduces client network addresses to values that no longer
// identify a single host before they reach logs.
package privacy

import (
	"fmt"
	"net"
)

// AnonymizeIP keeps the /24 of an IPv4 address and the /48 of an IPv6
// address. It returns "unknown" for an empty input and "invalid" when ip does
// not parse.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}

	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

// AnonymizeAddr is AnonymizeIP for host:port values such as
// http.Request.RemoteAddr or a relay peer address. The port is dropped.
func AnonymizeAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return AnonymizeIP(host)
}
