// Package netx holds small network helpers.
package netx

import (
	"net"
	"strings"
)

// IsLoopbackAddr reports whether a host:port binds only to loopback.
// An empty host means every interface and is not loopback.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
