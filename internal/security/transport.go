// Package security builds the HTTP client used for redelivery.
//
// Replays usually target merchant endpoints on the public internet. When
// private network protection is enabled, the dialer resolves every
// destination itself and refuses to connect to loopback, private, link-local
// (cloud metadata) and other reserved ranges, including on redirects.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"notifyreplay/internal/types"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 2 * time.Second

// ErrPrivateNetwork is returned when a destination resolves to a blocked range.
var ErrPrivateNetwork = errors.New("security: destination resolves to a blocked network")

// ErrDNSFailed is returned when DNS resolution fails or times out.
var ErrDNSFailed = errors.New("security: DNS resolution failed")

var (
	blockedNets []*net.IPNet
	initOnce    sync.Once
	initErr     error
)

func initBlockedNets() error {
	initOnce.Do(func() {
		blockedNets = make([]*net.IPNet, 0, len(types.SSRFBlockedCIDRs))
		for _, cidr := range types.SSRFBlockedCIDRs {
			_, ipNet, err := net.ParseCIDR(cidr)
			if err != nil {
				initErr = fmt.Errorf("security: failed to parse CIDR %q: %w", cidr, err)
				return
			}
			blockedNets = append(blockedNets, ipNet)
		}
	})
	return initErr
}

// IsBlockedIP reports whether ip falls within any blocked range.
func IsBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ClientOptions configures NewHTTPClient.
type ClientOptions struct {
	Timeout              time.Duration
	MaxRedirects         int
	BlockPrivateNetworks bool
	// Resolver overrides DNS resolution when BlockPrivateNetworks is set.
	Resolver Resolver
}

// NewHTTPClient returns the client used for redelivery.
func NewHTTPClient(opts ClientOptions) (*http.Client, error) {
	maxRedirects := opts.MaxRedirects
	if maxRedirects < 0 {
		maxRedirects = 0
	}

	if !opts.BlockPrivateNetworks {
		return &http.Client{
			Timeout:       opts.Timeout,
			CheckRedirect: limitRedirects(maxRedirects, nil),
		}, nil
	}

	if err := initBlockedNets(); err != nil {
		return nil, err
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	g := &guard{resolver: resolver}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = g.dialContext

	return &http.Client{
		Transport:     base,
		Timeout:       opts.Timeout,
		CheckRedirect: limitRedirects(maxRedirects, g),
	}, nil
}

// guard validates destinations against the blocked ranges.
type guard struct {
	resolver Resolver
}

// resolve returns the addresses for host, failing if any is blocked. All
// addresses are checked before any is used so that a safe address mixed with
// a private one cannot slip through.
func (g *guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrPrivateNetwork, ip)
		}
		return []net.IP{ip}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrPrivateNetwork, a.IP, host)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func (g *guard) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("security: invalid address %q: %w", addr, err)
	}
	ips, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// limitRedirects follows at most maxRedirects redirects; past the limit the
// redirect response itself is returned so it is audited as a non-200. With a
// guard, every followed target is validated.
func limitRedirects(maxRedirects int, g *guard) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return http.ErrUseLastResponse
		}
		if g == nil {
			return nil
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrPrivateNetwork)
		}
		_, err := g.resolve(req.Context(), host)
		return err
	}
}
