package scanner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/posbridge/internal/events"
)

// blockingHandle behaves like a hidapi handle: Read blocks until a report is
// fed and Close must not run while a Read is in progress.
type blockingHandle struct {
	reports  chan []byte
	reading  atomic.Bool
	closes   atomic.Int32
	overlaps atomic.Int32
}

func newBlockingHandle() *blockingHandle {
	return &blockingHandle{reports: make(chan []byte, 4)}
}

func (h *blockingHandle) Read(p []byte) (int, error) {
	h.reading.Store(true)
	defer h.reading.Store(false)
	rep := <-h.reports
	return copy(p, rep), nil
}

func (h *blockingHandle) Close() error {
	if h.reading.Load() {
		h.overlaps.Add(1)
	}
	h.closes.Add(1)
	return nil
}

func TestHIDSourceCloseWaitsForRead(t *testing.T) {
	h := newBlockingHandle()
	src := newHIDSource(h)

	errc := make(chan error, 1)
	go func() {
		_, err := src.ReadReport()
		errc <- err
	}()
	require.Eventually(t, h.reading.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, src.Close(), errCloseDeferred)
	assert.Zero(t, h.closes.Load())

	h.reports <- bootReport(0, 0x04)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return")
	}
	assert.Equal(t, int32(1), h.closes.Load())
	assert.Zero(t, h.overlaps.Load())

	require.NoError(t, src.Close())
	assert.Equal(t, int32(1), h.closes.Load())
}

func TestHIDSourceCloseWhenIdle(t *testing.T) {
	h := newBlockingHandle()
	src := newHIDSource(h)

	require.NoError(t, src.Close())
	assert.Equal(t, int32(1), h.closes.Load())

	_, err := src.ReadReport()
	assert.ErrorIs(t, err, ErrSourceClosed)
}

type hidBackend struct {
	handle *blockingHandle
}

func (b *hidBackend) Name() string { return "hid" }

func (b *hidBackend) Enumerate(context.Context) ([]Candidate, error) { return nil, nil }

func (b *hidBackend) Open(Candidate) (Source, error) { return newHIDSource(b.handle), nil }

func TestListenerStopDoesNotCloseUnderRead(t *testing.T) {
	h := newBlockingHandle()
	l := NewListener(events.NewBus(), nil, Options{}, &hidBackend{handle: h})

	d := scannerDevice("usb:0x05e0:0x1200")
	d.Driver = "hid"
	require.NoError(t, l.Open(d))
	require.Eventually(t, h.reading.Load, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	assert.Zero(t, h.closes.Load())

	h.reports <- bootReport(0, 0x04)
	require.Eventually(t, func() bool { return h.closes.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, h.overlaps.Load())
	require.Eventually(t, func() bool { return len(l.Sessions()) == 0 }, time.Second, time.Millisecond)
}
