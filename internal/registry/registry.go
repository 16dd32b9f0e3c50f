// Package registry holds the canonical set of logical devices. It merges live
// discovery results into the remembered set and persists user configuration.
package registry

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
)

// Discoverer produces the devices observed in one discovery pass.
type Discoverer interface {
	Discover(ctx context.Context) []device.LogicalDevice
}

// Changes summarizes what a merge altered.
type Changes struct {
	Added       []string
	Reachable   []string
	Unreachable []string
	Updated     []string
}

// Empty reports whether the merge left the visible state untouched.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Reachable) == 0 && len(c.Unreachable) == 0 && len(c.Updated) == 0
}

type entry struct {
	dev    device.LogicalDevice
	probed string // name reported by discovery
	custom string // user override
	seq    int
}

func (e *entry) applyName() {
	switch {
	case e.custom != "":
		e.dev.DisplayName = e.custom
	case e.probed != "":
		e.dev.DisplayName = e.probed
	}
}

func (e *entry) record() Record {
	r := Record{
		Kind:         e.dev.Kind,
		Transport:    e.dev.Transport,
		DisplayName:  e.probed,
		CustomName:   e.custom,
		Capabilities: e.dev.Capabilities,
		LastSeen:     e.dev.LastSeen,
		VID:          e.dev.VendorID,
		PID:          e.dev.ProductID,
		Host:         e.dev.Host,
		Port:         e.dev.Port,
		Address:      e.dev.Address,
		Path:         e.dev.Path,
		Driver:       e.dev.Driver,
	}
	if r.DisplayName == "" {
		r.DisplayName = e.dev.DisplayName
	}
	return r
}

// Registry is the process-wide device table. All mutation goes through its
// methods under one lock.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*entry
	seq     int

	saveMu sync.Mutex
	store  Persister

	now func() time.Time
	log *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for lastSeen.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New loads remembered devices from store. They start unreachable until a
// discovery pass observes them.
func New(store Persister, opts ...Option) (*Registry, error) {
	r := &Registry{
		devices: make(map[string]*entry),
		store:   store,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if store == nil {
		return r, nil
	}

	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		norm := device.NormalizeID(id)
		r.seq++
		r.devices[norm] = &entry{
			dev:    rec.toDevice(norm),
			probed: rec.DisplayName,
			custom: rec.CustomName,
			seq:    r.seq,
		}
	}

	return r, nil
}

// Refresh runs one discovery pass and merges it. A pass interrupted by
// cancellation is discarded so that shutdown never marks devices absent.
func (r *Registry) Refresh(ctx context.Context, d Discoverer) (Changes, error) {
	found := d.Discover(ctx)
	if err := ctx.Err(); err != nil {
		return Changes{}, err
	}
	return r.Merge(found), nil
}

// Merge folds one discovery pass into the registry. Matches are refreshed and
// marked reachable, new devices are appended, and known devices missing from
// the pass are kept but marked unreachable.
func (r *Registry) Merge(discovered []device.LogicalDevice) Changes {
	var changes Changes
	dirty := false

	r.mu.Lock()
	now := r.now()
	seen := make(map[string]bool, len(discovered))

	for _, d := range discovered {
		id := device.NormalizeID(d.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		e, ok := r.devices[id]
		if !ok {
			d.ID = id
			d.Reachable = true
			d.LastSeen = now
			d.Configured = false
			if d.IsPrinter() {
				d.Capabilities = d.Capabilities.Normalized()
			}
			r.seq++
			r.devices[id] = &entry{dev: d, probed: d.DisplayName, seq: r.seq}
			changes.Added = append(changes.Added, id)
			continue
		}

		before := e.dev
		if !e.dev.Reachable {
			e.dev.Reachable = true
			changes.Reachable = append(changes.Reachable, id)
		}
		if now.After(e.dev.LastSeen) {
			e.dev.LastSeen = now
		}
		refresh(&e.dev, d)
		if d.DisplayName != "" {
			e.probed = d.DisplayName
		}
		e.applyName()

		if !sameMetadata(before, e.dev) {
			changes.Updated = append(changes.Updated, id)
		}
		if e.dev.Configured && (before.Reachable != e.dev.Reachable || !sameMetadata(before, e.dev)) {
			dirty = true
		}
	}

	for id, e := range r.devices {
		if seen[id] || !e.dev.Reachable {
			continue
		}
		e.dev.Reachable = false
		changes.Unreachable = append(changes.Unreachable, id)
		if e.dev.Configured {
			dirty = true
		}
	}
	r.mu.Unlock()

	sort.Strings(changes.Unreachable)

	if dirty {
		r.persist()
	}
	if !changes.Empty() {
		r.log.Debug("registry merged",
			zap.Strings("added", changes.Added),
			zap.Strings("reachable", changes.Reachable),
			zap.Strings("unreachable", changes.Unreachable))
	}
	return changes
}

// refresh copies the fields discovery knows about onto dst.
func refresh(dst *device.LogicalDevice, src device.LogicalDevice) {
	dst.Capabilities = dst.Capabilities.Merge(src.Capabilities)
	if src.Capabilities.PaperWidth != 0 && src.Capabilities.Columns == 0 {
		dst.Capabilities.Columns = device.ColumnsFor(src.Capabilities.PaperWidth)
	}
	if src.Kind != "" {
		dst.Kind = src.Kind
	}
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.VendorID != 0 {
		dst.VendorID = src.VendorID
		dst.ProductID = src.ProductID
	}
	if src.Host != "" {
		dst.Host = src.Host
		dst.Port = src.Port
	}
	if src.Address != "" {
		dst.Address = src.Address
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.Driver != "" {
		dst.Driver = src.Driver
	}
}

func sameMetadata(a, b device.LogicalDevice) bool {
	a.LastSeen, b.LastSeen = time.Time{}, time.Time{}
	a.Reachable, b.Reachable = false, false
	return reflect.DeepEqual(a, b)
}

// List returns every device: configured ones first ordered by id, then
// discovered-only ones in the order they were first seen.
func (r *Registry) List() []device.LogicalDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(func(device.LogicalDevice) bool { return true })
}

// Printers returns List filtered to printers.
func (r *Registry) Printers() []device.LogicalDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(device.LogicalDevice.IsPrinter)
}

// Scanners returns List filtered to scanners.
func (r *Registry) Scanners() []device.LogicalDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(device.LogicalDevice.IsScanner)
}

func (r *Registry) listLocked(keep func(device.LogicalDevice) bool) []device.LogicalDevice {
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		if keep(e.dev) {
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.dev.Configured != b.dev.Configured {
			return a.dev.Configured
		}
		if a.dev.Configured {
			return a.dev.ID < b.dev.ID
		}
		return a.seq < b.seq
	})

	out := make([]device.LogicalDevice, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.dev)
	}
	return out
}

// Get returns the device with id.
func (r *Registry) Get(id string) (device.LogicalDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[device.NormalizeID(id)]
	if !ok {
		return device.LogicalDevice{}, fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}
	return e.dev, nil
}

// SetDisplayName stores a user override for the device name. An empty name
// reverts to the discovered one. The device becomes remembered.
func (r *Registry) SetDisplayName(id, name string) error {
	r.mu.Lock()
	e, ok := r.devices[device.NormalizeID(id)]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}
	e.custom = strings.TrimSpace(name)
	e.applyName()
	e.dev.Configured = true
	r.mu.Unlock()

	return r.persist()
}

// AddNetwork remembers a network printer at host:port. It stays unreachable
// until a discovery pass reaches it.
func (r *Registry) AddNetwork(host string, port int) (device.LogicalDevice, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return device.LogicalDevice{}, fmt.Errorf("host is required")
	}
	if port == 0 {
		port = device.DefaultRawPort
	}
	if port < 0 || port > 65535 {
		return device.LogicalDevice{}, fmt.Errorf("invalid port: %d", port)
	}

	id := device.NetworkID(host, port)

	r.mu.Lock()
	e, ok := r.devices[id]
	if !ok {
		r.seq++
		e = &entry{
			dev: device.LogicalDevice{
				ID:           id,
				Kind:         device.KindPrinter,
				Transport:    device.TransportNetwork,
				Capabilities: device.Capabilities{}.Normalized(),
				Host:         host,
				Port:         port,
			},
			probed: net.JoinHostPort(host, strconv.Itoa(port)),
			seq:    r.seq,
		}
		e.applyName()
		r.devices[id] = e
	}
	e.dev.Configured = true
	d := e.dev
	r.mu.Unlock()

	return d, r.persist()
}

// Forget drops a device from the registry and the store. This is the only
// way a device is ever removed.
func (r *Registry) Forget(id string) error {
	id = device.NormalizeID(id)

	r.mu.Lock()
	if _, ok := r.devices[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}
	delete(r.devices, id)
	r.mu.Unlock()

	return r.persist()
}

// NetworkTargets returns host:port of every known network printer, for the
// direct reachability probe.
func (r *Registry) NetworkTargets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []string
	for _, e := range r.devices {
		if e.dev.Transport == device.TransportNetwork && e.dev.Host != "" {
			targets = append(targets, net.JoinHostPort(e.dev.Host, strconv.Itoa(e.dev.Port)))
		}
	}
	sort.Strings(targets)
	return targets
}

// persist snapshots the remembered devices and writes them. saveMu orders
// snapshots with their writes so an older snapshot never lands last.
func (r *Registry) persist() error {
	if r.store == nil {
		return nil
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	records := make(map[string]Record)
	for id, e := range r.devices {
		if e.dev.Configured {
			records[id] = e.record()
		}
	}
	r.mu.Unlock()

	if err := r.store.Save(records); err != nil {
		r.log.Warn("failed to save registry", zap.Error(err))
		return err
	}
	return nil
}
