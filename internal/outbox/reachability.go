package outbox

import (
	"context"
	"net"
	"time"
)

// Reachability reports whether the remote side can currently be reached.
// A drain returns immediately when it reports false.
type Reachability interface {
	Reachable(ctx context.Context) bool
}

// ReachabilityFunc adapts a function to Reachability.
type ReachabilityFunc func(ctx context.Context) bool

func (f ReachabilityFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// TCPProbe considers the remote reachable when any of Addrs accepts a TCP
// connection within Timeout.
type TCPProbe struct {
	Addrs   []string
	Timeout time.Duration
}

func (p TCPProbe) Reachable(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}

	for _, addr := range p.Addrs {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			continue
		}
		conn.Close()
		return true
	}
	return false
}
