package iface

import (
	"errors"
	"fmt"
	"image"
)

// ErrStaleFrame is returned by Frame.ToImage when the frame's backing
// resource has already been released.
var ErrStaleFrame = errors.New("frame resource already released")

// ImageData is a detector-ready image: tightly packed pixels, row-major.
// Three channel images are BGR, as OpenCV expects them.
type ImageData struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

// Empty reports whether the image carries no pixels.
func (img ImageData) Empty() bool {
	return len(img.Data) == 0 || img.Width <= 0 || img.Height <= 0
}

// Validate checks the geometry against the buffer. Only 1, 3 and 4 channel
// images are accepted.
func (img ImageData) Validate() error {
	if img.Empty() {
		return errors.New("empty image")
	}
	switch img.Channels {
	case 1, 3, 4:
	default:
		return fmt.Errorf("unsupported channel count %d", img.Channels)
	}
	if want := img.Width * img.Height * img.Channels; len(img.Data) != want {
		return fmt.Errorf("image data is %d bytes, want %d", len(img.Data), want)
	}
	return nil
}

// Code is one barcode found by a detector.
type Code struct {
	Raw    string
	Format string
	Bounds image.Rectangle
}

// DetectionError wraps a failure reported by a detector backend.
type DetectionError struct {
	Backend string
	Err     error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("%s detection failed: %v", e.Backend, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
