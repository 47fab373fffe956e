package iface

import "context"

// Frame is one camera image handed to the scheduler by a producer.
// Release is called at most once per frame; implementations need not be
// idempotent.
type Frame interface {
	ToImage() (ImageData, error)
	Release()
}

// Sized is implemented by frames that know their pixel dimensions up front.
type Sized interface {
	Width() int
	Height() int
}

// Backend is a synchronous barcode recogniser.
type Backend interface {
	Name() string
	Detect(ctx context.Context, img ImageData) ([]Code, error)
	Close() error
}

// Detector accepts one image and reports back asynchronously. Detect must
// return without waiting for the result, and done must be called exactly
// once, from any goroutine.
type Detector interface {
	Detect(ctx context.Context, img ImageData, done func(codes []Code, err error))
}

// CodeSink receives the raw payload of every code read. OnCodeRead runs
// while the scheduler holds its lock and must not block.
type CodeSink interface {
	OnCodeRead(payload string)
}

// SinkFunc adapts a plain function to CodeSink.
type SinkFunc func(payload string)

func (f SinkFunc) OnCodeRead(payload string) { f(payload) }
