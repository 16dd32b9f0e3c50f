package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/thereceipt/posbridge/internal/device"
)

// Printer service types announced over mDNS.
const (
	ServiceRaw = "_pdl-datastream._tcp"
	ServiceIPP = "_ipp._tcp"
)

// MDNSProber browses the local link for printer announcements.
type MDNSProber struct {
	Services []string
	// Window is how long to listen for answers, bounded by the probe deadline.
	Window time.Duration
}

// NewMDNSProber browses the raw and IPP printer services.
func NewMDNSProber() *MDNSProber {
	return &MDNSProber{Services: []string{ServiceRaw, ServiceIPP}, Window: 1500 * time.Millisecond}
}

func (p *MDNSProber) Name() string { return "mdns" }

func (p *MDNSProber) Probe(ctx context.Context) ([]device.LogicalDevice, error) {
	window := p.Window
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	bctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		mu    sync.Mutex
		found []device.LogicalDevice
		seen  = make(map[string]bool)
		errs  []error
		wg    sync.WaitGroup
	)

	for _, svc := range p.Services {
		wg.Add(1)
		go func(svc string) {
			defer wg.Done()
			entries, err := browse(bctx, svc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			for _, e := range entries {
				d, ok := deviceFromEntry(svc, e)
				if !ok || seen[d.ID] {
					continue
				}
				seen[d.ID] = true
				found = append(found, d)
			}
		}(svc)
	}
	wg.Wait()

	if len(errs) == len(p.Services) && len(errs) > 0 {
		return nil, errs[0]
	}
	return found, nil
}

// browse collects announcements for svc until ctx ends.
func browse(ctx context.Context, svc string) ([]*zeroconf.ServiceEntry, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	ch := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, svc, "local.", ch); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", svc, err)
	}

	var entries []*zeroconf.ServiceEntry
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return entries, nil
			}
			if e != nil {
				entries = append(entries, e)
			}
		case <-ctx.Done():
			return entries, nil
		}
	}
}

// deviceFromEntry maps an announcement to a network printer. IPP printers
// are addressed on the raw port because jobs are sent as ESC/POS bytes.
func deviceFromEntry(svc string, e *zeroconf.ServiceEntry) (device.LogicalDevice, bool) {
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case e.HostName != "":
		host = strings.TrimSuffix(e.HostName, ".")
	default:
		return device.LogicalDevice{}, false
	}

	port := e.Port
	if svc == ServiceIPP || port == 0 {
		port = device.DefaultRawPort
	}

	name := e.Instance
	if name == "" {
		name = host
	}

	return device.LogicalDevice{
		ID:          device.NetworkID(host, port),
		Kind:        device.KindPrinter,
		Transport:   device.TransportNetwork,
		DisplayName: name,
		Host:        host,
		Port:        port,
	}, true
}
