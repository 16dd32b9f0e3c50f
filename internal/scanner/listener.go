package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/protocol"
)

// Options tune decoding for every session.
type Options struct {
	InterKeyTimeout time.Duration
	MinLength       int
}

// session is one open scanner.
type session struct {
	id   string
	name string
	src  Source
	dec  *Decoder
	done chan struct{}
}

// Listener owns the open scanner sessions. Each session reads on its own
// goroutine and publishes barcode events; a failing session closes alone.
type Listener struct {
	backends map[string]Backend
	order    []string
	opts     Options
	pub      events.Publisher
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
}

// NewListener returns a listener over backends.
func NewListener(pub events.Publisher, log *zap.Logger, opts Options, backends ...Backend) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Listener{
		backends: make(map[string]Backend, len(backends)),
		opts:     opts,
		pub:      pub,
		log:      log,
		sessions: make(map[string]*session),
	}
	for _, b := range backends {
		if b == nil {
			continue
		}
		l.backends[b.Name()] = b
		l.order = append(l.order, b.Name())
	}
	return l
}

// Backends returns the configured backends in registration order.
func (l *Listener) Backends() []Backend {
	out := make([]Backend, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.backends[name])
	}
	return out
}

// Sync opens a session for every reachable scanner in devs that is not open
// yet. Sessions are never reopened from inside the listener.
func (l *Listener) Sync(devs []device.LogicalDevice) {
	for _, d := range devs {
		if !d.IsScanner() || !d.Reachable {
			continue
		}

		l.mu.Lock()
		_, open := l.sessions[d.ID]
		stopped := l.stopped
		l.mu.Unlock()
		if open || stopped {
			continue
		}

		if err := l.Open(d); err != nil {
			l.log.Warn("failed to open scanner", zap.String("id", d.ID), zap.Error(err))
		}
	}
}

// Open starts a session for d using the backend named by d.Driver.
func (l *Listener) Open(d device.LogicalDevice) error {
	b, ok := l.backends[d.Driver]
	if !ok {
		return fmt.Errorf("no scanner backend %q", d.Driver)
	}

	src, err := b.Open(Candidate{
		ID:        d.ID,
		Name:      d.DisplayName,
		Path:      d.Path,
		VendorID:  d.VendorID,
		ProductID: d.ProductID,
	})
	if err != nil {
		return err
	}

	dec := NewDecoder(l.opts.InterKeyTimeout, l.opts.MinLength)
	s := &session{id: d.ID, name: d.Name(), src: src, dec: dec, done: make(chan struct{})}

	l.mu.Lock()
	if _, dup := l.sessions[d.ID]; dup || l.stopped {
		l.mu.Unlock()
		src.Close()
		return nil
	}
	l.sessions[d.ID] = s
	l.mu.Unlock()

	l.log.Info("scanner opened", zap.String("id", d.ID), zap.String("name", s.name), zap.String("backend", d.Driver))
	go l.run(s)
	return nil
}

func (l *Listener) run(s *session) {
	defer close(s.done)

	for {
		rep, err := s.src.ReadReport()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			if l.sessions[s.id] == s {
				delete(l.sessions, s.id)
			}
			l.mu.Unlock()

			s.src.Close()
			s.dec.Reset()
			if !stopped {
				l.log.Info("scanner closed", zap.String("id", s.id), zap.Error(err))
			}
			return
		}

		if bc, ok := s.dec.Feed(rep); ok {
			l.log.Debug("barcode", zap.String("id", s.id), zap.String("type", bc.Type))
			l.pub.Publish(protocol.NewBarcode(bc.Value, bc.Type))
		}
	}
}

// Active reports whether any scanner session is open.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions) > 0
}

// Sessions returns the ids of open sessions, sorted.
func (l *Listener) Sessions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop closes every source and waits for the session goroutines, up to ctx.
// A session whose source defers its close to a read still in progress is
// not waited for; it releases the handle and exits on its next report.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	sessions := make([]*session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	var wait []*session
	for _, s := range sessions {
		if err := s.src.Close(); errors.Is(err, errCloseDeferred) {
			l.log.Debug("scanner handle released on next report", zap.String("id", s.id))
			continue
		}
		wait = append(wait, s)
	}

	for _, s := range wait {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
