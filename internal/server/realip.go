package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies decides whether forwarded client headers may be believed.
// Only a peer inside one of its prefixes can set the client address through
// X-Forwarded-For or X-Real-IP; everyone else is keyed on their own address.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses a list of IP addresses and CIDR ranges. Blank and
// unparsable entries are skipped.
func NewTrustedProxies(entries []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if p, err := netip.ParsePrefix(entry); err == nil {
				tp.prefixes = append(tp.prefixes, p.Masked())
			}
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			addr = addr.Unmap()
			tp.prefixes = append(tp.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return tp
}

// IsTrusted reports whether remoteAddr (with or without a port) is a trusted
// proxy.
func (tp *TrustedProxies) IsTrusted(remoteAddr string) bool {
	if tp == nil || len(tp.prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(hostOnly(remoteAddr))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address the request should be attributed to.
func (tp *TrustedProxies) ClientIP(r *http.Request) string {
	if !tp.IsTrusted(r.RemoteAddr) {
		return hostOnly(r.RemoteAddr)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return hostOnly(r.RemoteAddr)
}

// Middleware rewrites r.RemoteAddr to the client address when the request
// arrived through a trusted proxy. Forwarded headers from any other peer are
// ignored.
func (tp *TrustedProxies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tp.IsTrusted(r.RemoteAddr) {
			r.RemoteAddr = tp.ClientIP(r)
		}
		next.ServeHTTP(w, r)
	})
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
