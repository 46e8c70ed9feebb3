package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies lists the reverse proxies (nginx, a load balancer) whose
// X-Forwarded-For header is believed. A nil value trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses CIDR ranges or bare addresses. Blank entries are
// skipped; no usable entries yields nil.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var prefixes []netip.Prefix
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

func (t *TrustedProxies) trusts(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address login and signup attempts are counted against.
// X-Forwarded-For is consulted only when the direct peer is a trusted proxy;
// the chain is then walked right to left and the first untrusted hop wins.
// Unparsable hops are skipped. When every hop is trusted the leftmost is used.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.trusts(peer) {
		return peer.String()
	}
	client := peer
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			continue
		}
		client = hop.Unmap()
		if !trusted.trusts(client) {
			break
		}
	}
	return client.String()
}

func parseRemoteAddr(addr string) (netip.Addr, bool) {
	addr = strings.TrimSpace(addr)
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(addr); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}
