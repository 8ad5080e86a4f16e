// Package device derives stable per-device identifiers from request metadata.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// unknownPart substitutes missing user agent or address so Fingerprint never fails.
const unknownPart = "unknown"

// Context carries the connection metadata a request arrived with.
// Populated by the HTTP device middleware and threaded through login/logout.
type Context struct {
	UserAgent  string
	SourceAddr string
}

// Fingerprint returns a stable opaque identifier for a device+network
// combination. It is a heuristic used to collapse duplicate sessions from the
// same device, not a security boundary: two devices behind the same NAT with
// the same user agent hash identically.
func Fingerprint(userAgent, sourceAddr string) string {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		ua = unknownPart
	}
	addr := normalizeAddr(sourceAddr)
	if addr == "" {
		addr = unknownPart
	}
	h := sha256.Sum256([]byte(ua + "|" + addr))
	return hex.EncodeToString(h[:16])
}

// Fingerprint returns the identifier for the metadata in c.
func (c Context) Fingerprint() string {
	return Fingerprint(c.UserAgent, c.SourceAddr)
}

// normalizeAddr strips the port from host:port addresses so a reconnect on an
// ephemeral port still maps to the same device.
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
