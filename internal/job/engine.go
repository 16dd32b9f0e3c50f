package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/posbridge/internal/device"
	"github.com/thereceipt/posbridge/internal/events"
	"github.com/thereceipt/posbridge/internal/protocol"
)

const (
	DefaultQueueDepth  = 8
	DefaultIdleTimeout = 30 * time.Second
	DefaultHistory     = 100
)

// Options tune the engine. They are fixed for its lifetime.
type Options struct {
	// QueueDepth is how many jobs may wait behind the one being printed.
	// Zero rejects a job whenever the printer is busy.
	QueueDepth int
	// IdleTimeout stops a device worker and closes its connection after
	// this long without jobs.
	IdleTimeout time.Duration
	// History is how many finished jobs Jobs returns.
	History int
}

// worker serves one device. pending counts queued jobs plus the one in
// flight and is guarded by the engine mutex.
type worker struct {
	deviceID string
	queue    chan *Job
	pending  int
}

// Engine runs print jobs with one worker goroutine per device, so a printer
// never receives two jobs at once.
type Engine struct {
	devices  Devices
	renderer Renderer
	sender   Sender
	pub      events.Publisher
	log      *zap.Logger
	opts     Options
	now      func() time.Time

	mu          sync.Mutex
	workers     map[string]*worker
	outstanding map[string]*Job
	history     []*Job
	stopped     bool
	wg          sync.WaitGroup
}

// NewEngine returns a running engine.
func NewEngine(devices Devices, renderer Renderer, sender Sender, pub events.Publisher, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	return &Engine{
		devices:     devices,
		renderer:    renderer,
		sender:      sender,
		pub:         pub,
		log:         log,
		opts:        opts,
		now:         time.Now,
		workers:     make(map[string]*worker),
		outstanding: make(map[string]*Job),
	}
}

// Submit queues req. A non-nil error means the job was rejected and its
// print_error event has already been published, except for ErrDuplicate:
// the outstanding job owns that id's terminal event, so the caller reports
// the duplicate itself. Otherwise the worker publishes the outcome later.
func (e *Engine) Submit(req Request) error {
	j := &Job{
		ID:           req.JobID,
		DeviceID:     device.NormalizeID(req.DeviceID),
		DocumentType: req.DocumentType,
		State:        StateQueued,
		CreatedAt:    e.now(),
		payload:      req.Payload,
	}

	if err := e.enqueue(j); err != nil {
		if errors.Is(err, ErrDuplicate) {
			e.log.Warn("duplicate job id", zap.String("job", j.ID), zap.String("printer", j.DeviceID))
			return err
		}
		e.reject(j, err)
		return err
	}
	e.log.Debug("job queued",
		zap.String("job", j.ID),
		zap.String("printer", j.DeviceID),
		zap.String("type", j.DocumentType))
	return nil
}

func (e *Engine) enqueue(j *Job) error {
	if j.DeviceID == "" {
		return ErrNoDevice
	}
	dev, err := e.devices.Get(j.DeviceID)
	if err != nil {
		return err
	}
	if !dev.IsPrinter() {
		return fmt.Errorf("%w: %s", ErrNotPrinter, dev.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if _, ok := e.outstanding[j.ID]; ok && j.ID != "" {
		return fmt.Errorf("%w: %s", ErrDuplicate, j.ID)
	}

	w, ok := e.workers[j.DeviceID]
	if !ok {
		w = &worker{
			deviceID: j.DeviceID,
			queue:    make(chan *Job, e.opts.QueueDepth+1),
		}
		e.workers[j.DeviceID] = w
		e.wg.Add(1)
		go e.run(w)
	}
	if w.pending > e.opts.QueueDepth {
		return fmt.Errorf("%w: %s", ErrBusy, j.DeviceID)
	}

	w.pending++
	if j.ID != "" {
		e.outstanding[j.ID] = j
	}
	e.record(j)
	w.queue <- j
	return nil
}

// reject finishes a job that never reached a worker.
func (e *Engine) reject(j *Job, err error) {
	e.mu.Lock()
	j.State = StateFailed
	j.Err = err.Error()
	j.FinishedAt = e.now()
	e.record(j)
	e.mu.Unlock()

	e.log.Warn("job rejected", zap.String("job", j.ID), zap.String("printer", j.DeviceID), zap.Error(err))
	e.pub.Publish(protocol.NewPrintError(j.ID, err.Error()))
}

// record appends j to the bounded history. Callers hold e.mu.
func (e *Engine) record(j *Job) {
	for _, h := range e.history {
		if h == j {
			return
		}
	}
	e.history = append(e.history, j)
	if over := len(e.history) - e.opts.History; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
}

func (e *Engine) run(w *worker) {
	defer e.wg.Done()

	idle := time.NewTimer(e.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-w.queue:
			if !ok {
				return
			}
			e.process(j)

			e.mu.Lock()
			w.pending--
			e.mu.Unlock()

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.opts.IdleTimeout)

		case <-idle.C:
			e.mu.Lock()
			if w.pending > 0 || e.stopped {
				e.mu.Unlock()
				idle.Reset(e.opts.IdleTimeout)
				continue
			}
			e.mu.Unlock()

			// Stay registered until the connection is closed. Jobs submitted
			// meanwhile queue here and run afterwards on a fresh connection.
			e.sender.Discard(w.deviceID)

			e.mu.Lock()
			if w.pending > 0 || e.stopped {
				e.mu.Unlock()
				idle.Reset(e.opts.IdleTimeout)
				continue
			}
			delete(e.workers, w.deviceID)
			e.mu.Unlock()
			e.log.Debug("printer worker idle", zap.String("printer", w.deviceID))
			return
		}
	}
}

// process drives one job to a terminal state.
func (e *Engine) process(j *Job) {
	if e.isStopped() {
		e.finish(j, ErrStopped)
		return
	}

	e.advance(j, StateRendering)
	dev, err := e.devices.Get(j.DeviceID)
	if err != nil {
		e.finish(j, err)
		return
	}
	data, err := e.renderer.Render(j.DocumentType, j.payload, dev)
	if err != nil {
		e.finish(j, err)
		return
	}

	e.advance(j, StateTransmitting)
	// Writes are not cancelled; the transport timeouts bound them.
	err = e.sender.Send(context.Background(), dev, data)
	e.finish(j, err)
}

func (e *Engine) advance(j *Job, s State) {
	e.mu.Lock()
	j.State = s
	e.mu.Unlock()
}

func (e *Engine) finish(j *Job, err error) {
	e.mu.Lock()
	j.FinishedAt = e.now()
	j.payload = nil
	if err != nil {
		j.State = StateFailed
		j.Err = err.Error()
	} else {
		j.State = StateCompleted
	}
	if e.outstanding[j.ID] == j {
		delete(e.outstanding, j.ID)
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("job failed", zap.String("job", j.ID), zap.String("printer", j.DeviceID), zap.Error(err))
		e.pub.Publish(protocol.NewPrintError(j.ID, err.Error()))
		return
	}
	e.log.Info("job completed", zap.String("job", j.ID), zap.String("printer", j.DeviceID))
	e.pub.Publish(protocol.NewPrintComplete(j.ID))
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Jobs returns copies of the recent jobs, newest first.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Job, 0, len(e.history))
	for i := len(e.history) - 1; i >= 0; i-- {
		j := *e.history[i]
		j.payload = nil
		out = append(out, j)
	}
	return out
}

// Get returns a copy of the job with id from the history.
func (e *Engine) Get(id string) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			j := *e.history[i]
			j.payload = nil
			return j, true
		}
	}
	return Job{}, false
}

// busy reports whether the printer with id has queued or in-flight jobs.
func (e *Engine) busy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[device.NormalizeID(id)]
	return ok && w.pending > 0
}

// Stop rejects new jobs, fails jobs that have not started, waits for
// in-flight writes and closes every connection.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		for id, w := range e.workers {
			close(w.queue)
			delete(e.workers, id)
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for print jobs: %w", ctx.Err())
	}
	e.sender.CloseAll()
	return err
}
