package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ProxyTrust resolves the client address of a request. Forwarding headers
// are honored only when the socket peer is a trusted proxy. A nil
// *ProxyTrust trusts nobody.
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust parses CIDRs or bare addresses of reverse proxies whose
// X-Forwarded-For and X-Real-IP headers may be believed.
func NewProxyTrust(proxies []string) (*ProxyTrust, error) {
	t := &ProxyTrust{}
	for _, p := range proxies {
		n, err := ParseProxy(p)
		if err != nil {
			return nil, err
		}
		t.nets = append(t.nets, n)
	}
	return t, nil
}

// ParseProxy accepts "10.0.0.0/8" or a single address such as "10.0.0.1".
func ParseProxy(p string) (*net.IPNet, error) {
	p = strings.TrimSpace(p)
	if strings.Contains(p, "/") {
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		return n, nil
	}
	ip := net.ParseIP(p)
	if ip == nil {
		return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", p)
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func (t *ProxyTrust) trusted(addr string) bool {
	if t == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the socket peer unless that peer is a trusted proxy.
// Behind trusted proxies the X-Forwarded-For chain is walked from the
// right and the first hop that is not itself trusted wins.
func (t *ProxyTrust) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.trusted(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !t.trusted(hop) {
				return hop
			}
			peer = hop
		}
		return peer
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
