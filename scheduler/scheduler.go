// Package scheduler dispatches camera frames to a slow barcode detector.
//
// A Scheduler keeps two slots: pending, the newest frame not yet sent, and
// inflight, the frame the detector is working on. At most one detection is
// outstanding at a time and frames that arrive while one runs overwrite each
// other in the pending slot, so the detector always sees the latest image and
// no backlog builds up.
//
// Every frame handed to Submit is released exactly once: when a newer frame
// supersedes it in the pending slot, when its detection completes or it
// cannot be converted, or when the scheduler is closed.
package scheduler

import (
	"context"
	"errors"
	"image"
	"sync"

	iface "QrScanServer/interface"
	"QrScanServer/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Scheduler struct {
	id       string
	detector iface.Detector
	sink     iface.CodeSink
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  iface.Frame
	inflight iface.Frame
	gen      uint64 // bumped on every dispatch; completions carry the value they were issued with
	width    int
	height   int
	region   image.Rectangle
	closed   bool

	stats counters
}

type Option func(*Scheduler)

// WithLogger overrides the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithID sets the identifier used in log lines.
func WithID(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.id = id
		}
	}
}

type dispatchJob struct {
	gen uint64
	img iface.ImageData
}

// New creates an idle scheduler. The context bounds every detector call;
// Close cancels it.
func New(ctx context.Context, detector iface.Detector, sink iface.CodeSink, opts ...Option) *Scheduler {
	if sink == nil {
		sink = iface.SinkFunc(func(string) {})
	}
	s := &Scheduler{
		id:       uuid.NewString(),
		detector: detector,
		sink:     sink,
		log:      logger.Log(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("scheduler", s.id))
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// ID returns the scheduler's identifier.
func (s *Scheduler) ID() string { return s.id }

// Submit hands a frame to the scheduler and returns without waiting for any
// detection. A frame still waiting in the pending slot is released and
// replaced. If no detection is running the new frame is dispatched at once.
func (s *Scheduler) Submit(frame iface.Frame) {
	if frame == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		frame.Release()
		return
	}
	s.stats.submitted.Add(1)
	if s.pending != nil {
		s.pending.Release()
		s.stats.superseded.Add(1)
	}
	s.pending = frame
	var job *dispatchJob
	if s.inflight == nil {
		job = s.advanceLocked()
	}
	s.mu.Unlock()

	s.dispatch(job)
}

// advanceLocked promotes the pending frame to inflight and prepares it for
// the detector. It returns nil when there is nothing to send. Callers hold mu
// and pass the result to dispatch after unlocking.
func (s *Scheduler) advanceLocked() *dispatchJob {
	for {
		if s.inflight != nil {
			s.inflight.Release()
			s.inflight = nil
		}
		s.inflight, s.pending = s.pending, nil
		if s.inflight == nil {
			return nil
		}

		img, err := s.inflight.ToImage()
		if err != nil {
			s.abandonLocked(err)
			continue
		}

		if s.width == 0 && s.height == 0 {
			s.width, s.height = frameSize(s.inflight, img)
			s.region = CenterRegion(s.width, s.height)
			if s.width != 0 || s.height != 0 {
				s.log.Debug("region of interest fixed",
					zap.Int("width", s.width),
					zap.Int("height", s.height),
					zap.Stringer("region", s.region))
			}
		}

		s.gen++
		s.stats.dispatched.Add(1)
		return &dispatchJob{gen: s.gen, img: img}
	}
}

// abandonLocked drops an inflight frame that could not be converted. The
// frame is released like one whose detection failed.
func (s *Scheduler) abandonLocked(err error) {
	frame := s.inflight
	s.inflight = nil
	frame.Release()
	if errors.Is(err, iface.ErrStaleFrame) {
		s.stats.stale.Add(1)
		s.log.Debug("dropping stale frame", zap.Error(err))
		return
	}
	s.stats.failed.Add(1)
	s.log.Warn("frame conversion failed", zap.Error(err))
}

func (s *Scheduler) dispatch(job *dispatchJob) {
	if job == nil {
		return
	}
	gen := job.gen
	s.detector.Detect(s.ctx, job.img, func(codes []iface.Code, err error) {
		s.complete(gen, codes, err)
	})
}

// complete handles the single completion of dispatch number gen.
func (s *Scheduler) complete(gen uint64, codes []iface.Code, err error) {
	s.mu.Lock()
	if s.closed || s.inflight == nil || gen != s.gen {
		s.mu.Unlock()
		s.stats.discarded.Add(1)
		s.log.Debug("discarding completion for a frame no longer in flight", zap.Uint64("gen", gen))
		return
	}

	if err == nil {
		s.stats.succeeded.Add(1)
		for _, code := range codes {
			if InRegion(code.Bounds, s.region) {
				s.stats.codesRead.Add(1)
				s.sink.OnCodeRead(code.Raw)
			}
		}
	} else {
		s.stats.failed.Add(1)
	}

	s.inflight.Release()
	s.inflight = nil
	job := s.advanceLocked()
	s.mu.Unlock()

	if err != nil {
		backend := "unknown"
		var detErr *iface.DetectionError
		if errors.As(err, &detErr) {
			backend = detErr.Backend
		}
		s.log.Warn("barcode reading failure", zap.String("backend", backend), zap.Uint64("gen", gen), zap.Error(err))
	}
	s.dispatch(job)
}

// Close releases any pending and inflight frame and cancels outstanding
// detector calls. Completions arriving later are discarded and frames
// submitted later are released immediately. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.pending != nil {
		s.pending.Release()
		s.pending = nil
	}
	if s.inflight != nil {
		s.inflight.Release()
		s.inflight = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.log.Debug("scheduler closed")
	return nil
}

// State reports whether a detection is outstanding.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return Detecting
	}
	return Idle
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats.snapshot()
	s.mu.Lock()
	st.Region = s.region
	if s.inflight != nil {
		st.State = Detecting.String()
	} else {
		st.State = Idle.String()
	}
	s.mu.Unlock()
	return st
}

func frameSize(frame iface.Frame, img iface.ImageData) (int, int) {
	if sized, ok := frame.(iface.Sized); ok {
		return sized.Width(), sized.Height()
	}
	return img.Width, img.Height
}
