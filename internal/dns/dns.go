package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicServers are queried when the system resolver fails.
var PublicServers = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

var ErrNotFound = errors.New("no addresses found")

// Resolver looks a host up locally and falls back to racing public DNS
// servers. Signaling servers are often reached from clinic networks with
// broken local resolvers.
type Resolver struct {
	Servers       []string
	LocalTimeout  time.Duration
	PublicTimeout time.Duration
}

// Default returns a resolver over PublicServers.
func Default() *Resolver {
	return &Resolver{
		Servers:       PublicServers,
		LocalTimeout:  time.Second,
		PublicTimeout: 2 * time.Second,
	}
}

// Lookup resolves host to one address, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ip, err := r.local(ctx, host)
	if err == nil {
		return ip, nil
	}
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	return r.race(ctx, host)
}

// DialContext resolves addr's host through Lookup and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) local(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	defer cancel()
	return lookupWith(ctx, &net.Resolver{}, host)
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.PublicTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ip, err := lookupWith(ctx, viaServer(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, failures)
}

func viaServer(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", ErrNotFound
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
