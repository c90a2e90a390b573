package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyHeaders are checked in order after X-Forwarded-For.
var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// getClientIP resolves the visitor's public IP from proxy headers, falling
// back to the socket address. Private and loopback addresses are skipped so
// country enrichment sees the real client where possible.
func getClientIP(c *fiber.Ctx) string {
	if ip := firstPublicIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := firstPublicIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := firstPublicIP(forwardedForValues(forwarded)); ip != "" {
			return ip
		}
	}

	if ip := firstPublicIP([]string{c.Context().RemoteAddr().String(), c.IP()}); ip != "" {
		return ip
	}

	return "127.0.0.1"
}

// firstPublicIP returns the first globally routable address among the
// candidates, preferring IPv4 over IPv6.
func firstPublicIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		addr, ok := parseAddr(raw)
		if !ok || !isPublic(addr) {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
		if ipv6Fallback == "" {
			ipv6Fallback = addr.String()
		}
	}

	return ipv6Fallback
}

// parseAddr handles the address shapes seen in proxy headers: bare IPs,
// ip:port, bracketed IPv6, quoted values and zone suffixes.
func parseAddr(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), `"`)
	if clean == "" {
		return netip.Addr{}, false
	}
	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().Unmap(), true
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return addr.Unmap(), true
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return parseAddr(host)
	}

	return netip.Addr{}, false
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsUnspecified()
}

// forwardedForValues extracts the for= entries of an RFC 7239 header.
func forwardedForValues(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}
	return candidates
}

// generateETag creates a strong ETag from content using SHA-256
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"` // Quoted for strong ETag
}
