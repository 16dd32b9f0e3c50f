// Package discovery runs the periodic discovery cycle: probe every transport,
// merge the result into the registry, announce changes and open scanners.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/protocol"
	"github.com/thereceipt/posbridge/internal/registry"
)

// DefaultInterval is the time between scheduled discovery cycles.
const DefaultInterval = 15 * time.Second

// Registry is the part of the device registry a cycle updates.
type Registry interface {
	Merge(discovered []device.LogicalDevice) registry.Changes
	Printers() []device.LogicalDevice
	Scanners() []device.LogicalDevice
}

// ScannerSync opens sessions for newly reachable scanners.
type ScannerSync interface {
	Sync(devs []device.LogicalDevice)
}

// Monitor schedules discovery cycles. Cycles never overlap: a manual
// RunOnce waits for a scheduled one and vice versa.
type Monitor struct {
	reg      Registry
	disc     registry.Discoverer
	scanners ScannerSync
	pub      events.Publisher
	log      *zap.Logger
	interval time.Duration

	cycle sync.Mutex
	first sync.WaitGroup

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMonitor returns a stopped monitor. scanners may be nil.
func NewMonitor(reg Registry, disc registry.Discoverer, scanners ScannerSync, pub events.Publisher, log *zap.Logger, interval time.Duration) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		reg:      reg,
		disc:     disc,
		scanners: scanners,
		pub:      pub,
		log:      log,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{log.Sugar()}),
		cron.SkipIfStillRunning(cronLogger{log.Sugar()}),
	))
	return m
}

// Start runs a first cycle right away and then one every interval.
func (m *Monitor) Start() error {
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(spec, m.scheduled); err != nil {
		return fmt.Errorf("failed to schedule discovery: %w", err)
	}
	m.cron.Start()

	m.first.Add(1)
	go func() {
		defer m.first.Done()
		m.scheduled()
	}()

	m.log.Info("discovery started", zap.Duration("interval", m.interval))
	return nil
}

func (m *Monitor) scheduled() {
	if _, err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
		m.log.Warn("discovery cycle failed", zap.Error(err))
	}
}

// RunOnce runs one discovery cycle and returns the printers afterwards. A
// cycle cut short by ctx changes nothing.
func (m *Monitor) RunOnce(ctx context.Context) ([]device.LogicalDevice, error) {
	m.cycle.Lock()
	defer m.cycle.Unlock()

	start := time.Now()
	found := m.disc.Discover(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	changes := m.reg.Merge(found)
	printers := m.reg.Printers()

	if !changes.Empty() {
		m.log.Info("devices changed",
			zap.Strings("added", changes.Added),
			zap.Strings("reachable", changes.Reachable),
			zap.Strings("unreachable", changes.Unreachable),
			zap.Strings("updated", changes.Updated))
		m.pub.Publish(protocol.NewPrinters(printers))
	}
	if m.scanners != nil {
		m.scanners.Sync(m.reg.Scanners())
	}

	m.log.Debug("discovery cycle done",
		zap.Int("found", len(found)),
		zap.Duration("took", time.Since(start)))
	return printers, nil
}

// Stop cancels a running cycle and waits for it to return.
func (m *Monitor) Stop(ctx context.Context) error {
	m.cancel()
	stopped := m.cron.Stop()

	first := make(chan struct{})
	go func() {
		m.first.Wait()
		close(first)
	}()

	for _, done := range []<-chan struct{}{stopped.Done(), first} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
