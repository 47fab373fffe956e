// Package opencv binds the scheduler to OpenCV through gocv: a QR code
// backend, a Frame over gocv.Mat and a video file producer.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	iface "QrScanServer/interface"

	"gocv.io/x/gocv"
)

const BackendName = "opencv-qr"

var errBackendClosed = errors.New("qr backend closed")

// QRBackend recognises a single QR code per image with cv::QRCodeDetector.
type QRBackend struct {
	mu       sync.Mutex
	detector gocv.QRCodeDetector
	closed   bool
}

func NewQRBackend() *QRBackend {
	return &QRBackend{detector: gocv.NewQRCodeDetector()}
}

func (b *QRBackend) Name() string { return BackendName }

func (b *QRBackend) Detect(ctx context.Context, img iface.ImageData) ([]iface.Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBackendClosed
	}
	raw := b.detector.DetectAndDecode(mat, &points, &straight)
	b.mu.Unlock()

	if raw == "" || points.Empty() {
		return nil, nil
	}
	corners, err := points.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read qr corners: %w", err)
	}
	return []iface.Code{{Raw: raw, Format: "QR_CODE", Bounds: cornerBounds(corners)}}, nil
}

func (b *QRBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.detector.Close()
}

// ImageToMat copies img into a new Mat owned by the caller.
func ImageToMat(img iface.ImageData) (gocv.Mat, error) {
	if err := img.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	mt := gocv.MatTypeCV8UC3
	switch img.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 4:
		mt = gocv.MatTypeCV8UC4
	}
	return gocv.NewMatFromBytes(img.Height, img.Width, mt, img.Data)
}

// cornerBounds returns the axis-aligned box around x,y pairs.
func cornerBounds(xy []float32) image.Rectangle {
	if len(xy) < 2 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < len(xy); i += 2 {
		x, y := float64(xy[i]), float64(xy[i+1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}
