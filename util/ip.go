package util

import (
	"net"
	"net/http"
	"strings"
)

// RemoteIP extracts the client address for SEPA mandate evidence. Behind
// the reverse proxy the first X-Forwarded-For hop is the client; otherwise
// fall back to the connection's remote address.
func RemoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		ip := strings.TrimSpace(parts[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
