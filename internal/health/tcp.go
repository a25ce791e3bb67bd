package health

import (
	"context"
	"net"
	"time"
)

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = 500 * time.Millisecond

// TCPProbe connects to Addr and immediately closes the connection.
// It checks connectivity only, not the remote-console handshake, which keeps
// it cheap enough to run every second.
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p *TCPProbe) Check(ctx context.Context) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	latency := time.Since(start)
	if err != nil {
		r := Unhealthy(err.Error())
		r.Latency = latency
		return r
	}
	_ = conn.Close()
	r := Healthy()
	r.Latency = latency
	return r
}

func (p *TCPProbe) Describe() string { return "tcp:" + p.Addr }
