package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Prober answers a single reachability question within the deadline of
// the supplied context.
type Prober interface {
	Probe(ctx context.Context) error
}

// TCPProber checks whether a TCP endpoint accepts connections.
type TCPProber struct {
	Addr string
}

func NewTCPProber(addr string) *TCPProber {
	return &TCPProber{Addr: addr}
}

func (p *TCPProber) Probe(ctx context.Context) error {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("probe %s failed: %w", p.Addr, err)
	}

	return conn.Close()
}

// NewBrokerProber builds a TCP prober for a broker URL such as
// tcp://hub.example.com:8883 or mqtts://hub.example.com:8883.
func NewBrokerProber(brokerURL string) (*TCPProber, error) {
	raw := brokerURL
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url %q: %w", brokerURL, err)
	}
	if u.Host == "" || u.Port() == "" {
		return nil, fmt.Errorf("broker url %q must include host and port", brokerURL)
	}

	return NewTCPProber(u.Host), nil
}
