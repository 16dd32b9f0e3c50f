package probe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/thereceipt/posbridge/internal/device"
)

// NetworkProber checks configured host:port pairs by opening a TCP
// connection. It does not query capabilities.
type NetworkProber struct {
	Targets     func() []string
	DialTimeout time.Duration
}

func (p *NetworkProber) Name() string { return "network" }

func (p *NetworkProber) Probe(ctx context.Context) ([]device.LogicalDevice, error) {
	if p.Targets == nil {
		return nil, nil
	}

	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	targets := dedupeTargets(p.Targets())
	results := make([]*device.LogicalDevice, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		host, port, ok := splitTarget(target)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, host string, port int) {
			defer wg.Done()
			if !reachable(ctx, host, port, timeout) {
				return
			}
			results[i] = &device.LogicalDevice{
				ID:          device.NetworkID(host, port),
				Kind:        device.KindPrinter,
				Transport:   device.TransportNetwork,
				DisplayName: host,
				Host:        host,
				Port:        port,
			}
		}(i, host, port)
	}
	wg.Wait()

	var found []device.LogicalDevice
	for _, d := range results {
		if d != nil {
			found = append(found, *d)
		}
	}
	return found, nil
}

func reachable(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// splitTarget accepts host or host:port; the raw printing port is the default.
func splitTarget(target string) (string, int, bool) {
	if target == "" {
		return "", 0, false
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return target, device.DefaultRawPort, true
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false
	}
	return host, port, true
}

func dedupeTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := targets[:0:0]
	for _, t := range targets {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
