package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FormatAddr returns "host:port", bracketing IPv6 literals.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseHostPort splits "host[:port]" and fills in defaultPort when the
// port is omitted.  Bracketed IPv6 literals are accepted.
func ParseHostPort(spec string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		// No port present: the whole spec is the host.
		if ip := net.ParseIP(trimBrackets(spec)); ip != nil || !strings.Contains(spec, ":") {
			return trimBrackets(spec), defaultPort, nil
		}
		return "", 0, fmt.Errorf("invalid address %q: %w", spec, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid address %q: empty host", spec)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func trimBrackets(s string) string {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
