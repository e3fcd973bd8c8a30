// Package security guards outbound URL fetches against SSRF. Knowledge
// ingestion accepts arbitrary user-supplied URLs, so every fetch (including
// each redirect hop) is validated before the request leaves the process.
package security

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultMaxResponseSize caps fetched page bodies at 5MB.
	DefaultMaxResponseSize = 5 * 1024 * 1024

	fetchTimeout = 10 * time.Second
	maxRedirects = 3
)

// localHostnames and metadataHosts never pass validation regardless of what
// they resolve to.
var (
	localHostnames = []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}
	metadataHosts  = []string{"169.254.169.254", "metadata.google.internal", "metadata"}
)

// privateIPv4Blocks covers RFC 1918, loopback, link-local, multicast, and
// reserved ranges.
var privateIPv4Blocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"224.0.0.0/4",
	"240.0.0.0/4",
)

// URLGuard validates URLs and builds HTTP clients whose redirects stay within
// the same policy.
type URLGuard struct {
	maxResponseSize int64
	allowedSchemes  []string
	lookupIP        func(host string) ([]net.IP, error)
	logger          *slog.Logger
}

// GuardOption customizes a URLGuard.
type GuardOption func(*URLGuard)

// WithLookupIP overrides DNS resolution. Used by tests.
func WithLookupIP(fn func(host string) ([]net.IP, error)) GuardOption {
	return func(g *URLGuard) { g.lookupIP = fn }
}

// WithMaxResponseSize overrides the body size cap.
func WithMaxResponseSize(n int64) GuardOption {
	return func(g *URLGuard) { g.maxResponseSize = n }
}

// NewURLGuard creates a URLGuard with the default policy. logger may be nil.
func NewURLGuard(logger *slog.Logger, opts ...GuardOption) *URLGuard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &URLGuard{
		maxResponseSize: DefaultMaxResponseSize,
		allowedSchemes:  []string{"http", "https"},
		lookupIP:        net.LookupIP,
		logger:          logger.With("component", "security"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateURL rejects URLs whose scheme, hostname, or resolved addresses
// point at internal networks or cloud metadata services.
func (g *URLGuard) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(g.allowedSchemes, scheme) {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("missing hostname")
	}

	if g.isBlockedHost(host) {
		g.logger.Warn("blocked url host", "url", rawURL, "hostname", host)
		return fmt.Errorf("host %q is not allowed", host)
	}

	ips, err := g.lookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			g.logger.Warn("blocked url resolving to private address",
				"url", rawURL, "hostname", host, "ip", ip.String())
			return fmt.Errorf("host %q resolves to a private address (%s)", host, ip)
		}
	}

	return nil
}

// MaxResponseSize returns the body size cap for fetched pages.
func (g *URLGuard) MaxResponseSize() int64 {
	return g.maxResponseSize
}

// CreateSafeHTTPClient returns a client that re-validates every redirect
// target and stops after a short redirect chain.
func (g *URLGuard) CreateSafeHTTPClient() *http.Client {
	return &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if err := g.ValidateURL(req.URL.String()); err != nil {
				g.logger.Warn("blocked unsafe redirect",
					"redirect_url", req.URL.String(),
					"original_url", via[0].URL.String())
				return fmt.Errorf("redirect to unsafe url: %w", err)
			}
			return nil
		},
	}
}

func (g *URLGuard) isBlockedHost(host string) bool {
	if slices.Contains(localHostnames, host) {
		return true
	}
	for _, m := range metadataHosts {
		if host == m || strings.Contains(host, m) {
			return true
		}
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	for _, block := range privateIPv4Blocks {
		if block.Contains(ip) {
			return true
		}
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	// IPv6 unique local addresses, fc00::/7.
	if v6 := ip.To16(); v6 != nil && ip.To4() == nil && (v6[0] == 0xfc || v6[0] == 0xfd) {
		return true
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("bad cidr %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}
