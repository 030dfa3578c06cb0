package middleware

import (
	"net"
	"net/http"
	"strings"
)

// NetworkIdentity returns the origin address the collector attributes to r:
// the first X-Forwarded-For entry when the header is present, otherwise the
// connection's remote host with the port stripped. Callers sharing a NAT or
// proxy are indistinguishable.
func NetworkIdentity(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetIPKey builds a rate-limit key from the caller's network identity
func GetIPKey(r *http.Request) string {
	return "ip:" + NetworkIdentity(r)
}
