package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/printer"
	"github.com/thereceipt/posbridge/internal/protocol"
	"github.com/thereceipt/posbridge/internal/render"
)

const printerID = "net:192.168.1.50:9100"

type fakeDevices map[string]device.LogicalDevice

func (f fakeDevices) Get(id string) (device.LogicalDevice, error) {
	d, ok := f[id]
	if !ok {
		return device.LogicalDevice{}, fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}
	return d, nil
}

type fakeRenderer struct {
	err error
}

func (f fakeRenderer) Render(docType string, payload []byte, dev device.LogicalDevice) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(docType+":"), payload...), nil
}

// fakeSender records writes and can hold them until release is closed.
type fakeSender struct {
	release chan struct{}
	started chan string
	err     error

	active    atomic.Int32
	maxActive atomic.Int32

	mu        sync.Mutex
	sent      [][]byte
	discarded []string
	closed    bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{started: make(chan string, 16)}
}

func (f *fakeSender) Send(ctx context.Context, dev device.LogicalDevice, data []byte) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.started <- string(data)
	if f.release != nil {
		<-f.release
	} else {
		time.Sleep(2 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSender) Discard(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, id)
}

func (f *fakeSender) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func printers() fakeDevices {
	return fakeDevices{
		printerID: {ID: printerID, Kind: device.KindPrinter, Transport: device.TransportNetwork},
		"usb:0x05e0:0x1200": {ID: "usb:0x05e0:0x1200", Kind: device.KindScanner, Transport: device.TransportUSB},
	}
}

func newTestEngine(t *testing.T, sender *fakeSender, r Renderer, opts Options) (*Engine, <-chan protocol.Event) {
	t.Helper()
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(64)
	t.Cleanup(cancel)
	e := NewEngine(printers(), r, sender, bus, nil, opts)
	return e, ch
}

// terminal collects n terminal events keyed by job id.
func terminal(t *testing.T, ch <-chan protocol.Event, n int) map[string]protocol.Event {
	t.Helper()
	got := make(map[string]protocol.Event)
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev := <-ch:
			switch e := ev.(type) {
			case protocol.PrintComplete:
				_, dup := got[e.JobID]
				require.False(t, dup, "second terminal event for %s", e.JobID)
				got[e.JobID] = ev
			case protocol.PrintError:
				_, dup := got[e.JobID]
				require.False(t, dup, "second terminal event for %s", e.JobID)
				got[e.JobID] = ev
			}
		case <-timeout:
			t.Fatalf("got %d of %d terminal events", len(got), n)
		}
	}
	return got
}

func assertQuiet(t *testing.T, ch <-chan protocol.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitCompletes(t *testing.T) {
	sender := newFakeSender()
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID, DocumentType: "receipt", Payload: []byte(`{}`)}))

	got := terminal(t, ch, 1)
	assert.IsType(t, protocol.PrintComplete{}, got["j1"])
	assertQuiet(t, ch)

	job, ok := e.Get("j1")
	require.True(t, ok)
	assert.Equal(t, StateCompleted, job.State)
	assert.False(t, job.FinishedAt.IsZero())
	assert.Equal(t, 1, sender.sentCount())
}

func TestTransmitIsNotReentrant(t *testing.T) {
	sender := newFakeSender()
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	for i := 0; i < 6; i++ {
		require.NoError(t, e.Submit(Request{
			JobID:        fmt.Sprintf("j%d", i),
			DeviceID:     printerID,
			DocumentType: "receipt",
			Payload:      []byte(fmt.Sprint(i)),
		}))
	}
	got := terminal(t, ch, 6)
	for _, ev := range got {
		assert.IsType(t, protocol.PrintComplete{}, ev)
	}
	assert.Equal(t, int32(1), sender.maxActive.Load())

	// FIFO order per device.
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 6)
	for i, data := range sender.sent {
		assert.Equal(t, fmt.Sprintf("receipt:%d", i), string(data))
	}
}

func TestUnknownPrinterSendsNothing(t *testing.T) {
	sender := newFakeSender()
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	err := e.Submit(Request{JobID: "j1", DeviceID: "usb:0xdead:0xbeef", DocumentType: "receipt"})
	require.ErrorIs(t, err, device.ErrNotFound)

	got := terminal(t, ch, 1)
	perr, ok := got["j1"].(protocol.PrintError)
	require.True(t, ok)
	assert.Contains(t, perr.Error, "not found")
	assertQuiet(t, ch)
	assert.Equal(t, 0, sender.sentCount())
}

func TestSyncRejections(t *testing.T) {
	sender := newFakeSender()
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	assert.ErrorIs(t, e.Submit(Request{JobID: "a"}), ErrNoDevice)
	assert.ErrorIs(t, e.Submit(Request{JobID: "b", DeviceID: "usb:0x05e0:0x1200"}), ErrNotPrinter)

	got := terminal(t, ch, 2)
	assert.IsType(t, protocol.PrintError{}, got["a"])
	assert.IsType(t, protocol.PrintError{}, got["b"])

	jobs := e.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "b", jobs[0].ID)
	assert.Equal(t, StateFailed, jobs[0].State)
}

func TestRenderErrorSendsNothing(t *testing.T) {
	sender := newFakeSender()
	rerr := &render.Error{DocumentType: "drawer", Err: errors.New("printer has no drawer kick connector")}
	e, ch := newTestEngine(t, sender, fakeRenderer{err: rerr}, Options{QueueDepth: 8})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID, DocumentType: "drawer"}))

	got := terminal(t, ch, 1)
	perr := got["j1"].(protocol.PrintError)
	assert.Contains(t, perr.Error, "drawer kick")
	assert.Equal(t, 0, sender.sentCount())
	assert.Empty(t, sender.started)
}

func TestTransportErrorSurfaces(t *testing.T) {
	sender := newFakeSender()
	sender.err = &printer.TransportError{DeviceID: printerID, Op: "status", Err: printer.ErrPaperOut}
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}))

	got := terminal(t, ch, 1)
	perr := got["j1"].(protocol.PrintError)
	assert.Equal(t, sender.err.Error(), perr.Error)
}

func TestZeroDepthRejectsWhenBusy(t *testing.T) {
	sender := newFakeSender()
	sender.release = make(chan struct{})
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 0})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}))
	<-sender.started
	assert.True(t, e.busy(printerID))

	err := e.Submit(Request{JobID: "j2", DeviceID: printerID})
	require.ErrorIs(t, err, ErrBusy)

	close(sender.release)
	got := terminal(t, ch, 2)
	assert.IsType(t, protocol.PrintComplete{}, got["j1"])
	assert.IsType(t, protocol.PrintError{}, got["j2"])
}

func TestDuplicateOutstandingID(t *testing.T) {
	sender := newFakeSender()
	sender.release = make(chan struct{})
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}))
	<-sender.started
	require.ErrorIs(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}), ErrDuplicate)

	// The running job keeps the only terminal event for its id.
	assertQuiet(t, ch)

	close(sender.release)
	ev := <-ch
	assert.IsType(t, protocol.PrintComplete{}, ev)
	assertQuiet(t, ch)

	// The id is free again once the first job finished.
	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}))
	<-sender.started
	ev = <-ch
	assert.IsType(t, protocol.PrintComplete{}, ev)
}

func TestStopFailsQueuedJobs(t *testing.T) {
	sender := newFakeSender()
	sender.release = make(chan struct{})
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}))
	require.NoError(t, e.Submit(Request{JobID: "j2", DeviceID: printerID}))
	<-sender.started

	stopped := make(chan error, 1)
	go func() { stopped <- e.Stop(context.Background()) }()
	require.Eventually(t, e.isStopped, time.Second, time.Millisecond)

	assert.ErrorIs(t, e.Submit(Request{JobID: "j3", DeviceID: printerID}), ErrStopped)

	close(sender.release)
	require.NoError(t, <-stopped)

	got := terminal(t, ch, 3)
	assert.IsType(t, protocol.PrintComplete{}, got["j1"])
	assert.Equal(t, "bridge shutting down", got["j2"].(protocol.PrintError).Error)
	assert.Equal(t, "bridge shutting down", got["j3"].(protocol.PrintError).Error)
	assert.Equal(t, 1, sender.sentCount())

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.True(t, sender.closed)
}

func TestIdleWorkerDiscardsConnection(t *testing.T) {
	sender := newFakeSender()
	e, ch := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8, IdleTimeout: 20 * time.Millisecond})

	require.NoError(t, e.Submit(Request{JobID: "j1", DeviceID: printerID}))
	terminal(t, ch, 1)

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.discarded) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, e.busy(printerID))

	// A new job starts a fresh worker.
	require.NoError(t, e.Submit(Request{JobID: "j2", DeviceID: printerID}))
	got := terminal(t, ch, 1)
	assert.IsType(t, protocol.PrintComplete{}, got["j2"])
}

// discardTracker counts discards that overlap a write to the device.
type discardTracker struct {
	*fakeSender
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (d *discardTracker) Send(ctx context.Context, dev device.LogicalDevice, data []byte) error {
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	return d.fakeSender.Send(ctx, dev, data)
}

func (d *discardTracker) Discard(id string) {
	if d.inFlight.Load() > 0 {
		d.overlaps.Add(1)
	}
	time.Sleep(200 * time.Microsecond)
	if d.inFlight.Load() > 0 {
		d.overlaps.Add(1)
	}
	d.fakeSender.Discard(id)
}

func TestIdleDiscardNeverOverlapsSend(t *testing.T) {
	sender := &discardTracker{fakeSender: &fakeSender{started: make(chan string, 1024)}}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1024)
	defer cancel()
	e := NewEngine(printers(), fakeRenderer{}, sender, bus, nil, Options{QueueDepth: 8, IdleTimeout: 300 * time.Microsecond})

	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, e.Submit(Request{JobID: fmt.Sprintf("j%d", i), DeviceID: printerID}))
		<-sender.started
		time.Sleep(time.Duration(i%5) * 100 * time.Microsecond)
		terminal(t, ch, 1)
	}

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.discarded) > 0
	}, time.Second, time.Millisecond)
	assert.Zero(t, sender.overlaps.Load())
	assert.Equal(t, n, sender.sentCount())
}

func TestHistoryIsBounded(t *testing.T) {
	sender := newFakeSender()
	e, _ := newTestEngine(t, sender, fakeRenderer{}, Options{QueueDepth: 8, History: 3})

	for i := 0; i < 5; i++ {
		_ = e.Submit(Request{JobID: fmt.Sprintf("r%d", i)})
	}
	jobs := e.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "r4", jobs[0].ID)
	assert.Equal(t, "r2", jobs[2].ID)
}
