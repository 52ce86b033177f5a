package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync/atomic"
	"time"
)

// DialProber reports reachable when a TCP connection to Addr succeeds.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

// NewDialProberForURL derives host:port from a service base URL.
func NewDialProberForURL(rawURL string, timeout time.Duration) (*DialProber, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("no host in %q", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return &DialProber{Addr: net.JoinHostPort(u.Hostname(), port), Timeout: timeout}, nil
}

func (p *DialProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// StaticProber returns a fixed answer that can be flipped at runtime.
type StaticProber struct {
	up atomic.Bool
}

// NewStaticProber returns a StaticProber reporting connected.
func NewStaticProber(connected bool) *StaticProber {
	p := &StaticProber{}
	p.up.Store(connected)
	return p
}

// Set changes the answer returned by subsequent probes.
func (p *StaticProber) Set(connected bool) {
	p.up.Store(connected)
}

func (p *StaticProber) Probe(context.Context) bool {
	return p.up.Load()
}
