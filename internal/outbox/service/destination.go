// Package service implements the per-kind delivery functions used by the
// outbox dispatcher, plus the destination policy they enforce.
package service

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrDestinationBlocked marks a destination rejected by policy. Blocked
// destinations are permanent failures: retrying cannot make them allowed.
type ErrDestinationBlocked struct {
	Reason string
}

func (e *ErrDestinationBlocked) Error() string {
	return fmt.Sprintf("destination blocked: %s", e.Reason)
}

// Resolver resolves host names to IP addresses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DestinationPolicy validates outbound delivery destinations. It is applied
// at dispatch time, not enqueue time, so replayed events are re-checked
// against the current policy.
type DestinationPolicy struct {
	// AllowPrivate permits private and loopback ranges, for local development.
	AllowPrivate bool
	resolver     Resolver
}

// NewDestinationPolicy creates a destination policy backed by the system
// resolver.
func NewDestinationPolicy(allowPrivate bool) *DestinationPolicy {
	return &DestinationPolicy{
		AllowPrivate: allowPrivate,
		resolver:     net.DefaultResolver,
	}
}

// NewDestinationPolicyWithResolver creates a destination policy with a custom
// resolver, used in tests.
func NewDestinationPolicyWithResolver(allowPrivate bool, resolver Resolver) *DestinationPolicy {
	return &DestinationPolicy{
		AllowPrivate: allowPrivate,
		resolver:     resolver,
	}
}

// Check validates that rawURL is an absolute http(s) URL whose host does not
// resolve to a private, loopback, link-local, or unspecified address.
func (p *DestinationPolicy) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &ErrDestinationBlocked{Reason: "invalid url"}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrDestinationBlocked{Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return &ErrDestinationBlocked{Reason: "missing host"}
	}

	if p.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return &ErrDestinationBlocked{Reason: fmt.Sprintf("address %s not allowed", ip)}
		}
		return nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	addrs, err := p.resolver.LookupIPAddr(resolveCtx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve destination host %q: %w", host, err)
	}

	for _, addr := range addrs {
		if blockedIP(addr.IP) {
			return &ErrDestinationBlocked{
				Reason: fmt.Sprintf("host %q resolves to blocked address %s", host, addr.IP),
			}
		}
	}

	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
