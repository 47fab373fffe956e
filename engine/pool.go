package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	iface "QrScanServer/interface"
	"QrScanServer/logger"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed   = errors.New("detector pool closed")
	ErrPoolBusy     = errors.New("detector pool queue full")
	ErrBackendPanic = errors.New("backend panicked")
)

type jobPackage struct {
	ctx  context.Context
	img  iface.ImageData
	done func([]iface.Code, error)
}

// Pool runs a synchronous Backend on a fixed set of worker goroutines and
// exposes it through the asynchronous Detector contract.
type Pool struct {
	backend iface.Backend
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan jobPackage
	wg     sync.WaitGroup
}

type PoolOption func(*Pool)

// WithTimeout bounds every backend call. Zero means no bound.
func WithTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.timeout = d }
}

func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPool starts workers goroutines serving backend.
func NewPool(backend iface.Backend, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		backend: backend,
		log:     logger.Log(),
		jobs:    make(chan jobPackage, workers*2),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("backend", backend.Name()))
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

// Detect queues img for the next free worker. done is called exactly once;
// when the pool is closed or saturated that happens before Detect returns.
func (p *Pool) Detect(ctx context.Context, img iface.ImageData, done func([]iface.Code, error)) {
	p.mu.RLock()
	closed := p.closed
	queued := false
	if !closed {
		select {
		case p.jobs <- jobPackage{ctx: ctx, img: img, done: done}:
			queued = true
		default:
		}
	}
	p.mu.RUnlock()

	switch {
	case closed:
		done(nil, ErrPoolClosed)
	case !queued:
		done(nil, ErrPoolBusy)
	}
}

func (p *Pool) runWorker(workerID int) {
	defer p.wg.Done()
	// OpenCV objects are not safe to hop between threads mid-call.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	p.log.Debug("worker started", zap.Int("worker", workerID))
	for job := range p.jobs {
		codes, err := p.run(workerID, job)
		job.done(codes, err)
	}
	p.log.Debug("worker stopped", zap.Int("worker", workerID))
}

func (p *Pool) run(workerID int, job jobPackage) (codes []iface.Code, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("backend panic recovered", zap.Int("worker", workerID), zap.Any("panic", r))
			codes = nil
			err = &iface.DetectionError{Backend: p.backend.Name(), Err: fmt.Errorf("%w: %v", ErrBackendPanic, r)}
		}
	}()
	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	codes, err = p.backend.Detect(ctx, job.img)
	if err != nil {
		var detErr *iface.DetectionError
		if !errors.As(err, &detErr) {
			err = &iface.DetectionError{Backend: p.backend.Name(), Err: err}
		}
		return nil, err
	}
	return codes, nil
}

// Close stops accepting work, drains queued jobs and closes the backend.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	return p.backend.Close()
}
