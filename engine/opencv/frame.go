package opencv

import (
	"context"
	"fmt"
	"sync"

	iface "QrScanServer/interface"

	"gocv.io/x/gocv"
)

// MatFrame owns a gocv.Mat until Release closes it.
type MatFrame struct {
	mu       sync.Mutex
	mat      gocv.Mat
	width    int
	height   int
	released bool
}

// NewMatFrame takes ownership of mat.
func NewMatFrame(mat gocv.Mat) *MatFrame {
	return &MatFrame{mat: mat, width: mat.Cols(), height: mat.Rows()}
}

func (f *MatFrame) ToImage() (iface.ImageData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released || f.mat.Empty() {
		return iface.ImageData{}, iface.ErrStaleFrame
	}
	return iface.ImageData{
		Data:     f.mat.ToBytes(),
		Width:    f.mat.Cols(),
		Height:   f.mat.Rows(),
		Channels: f.mat.Channels(),
	}, nil
}

func (f *MatFrame) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	_ = f.mat.Close()
}

func (f *MatFrame) Width() int  { return f.width }
func (f *MatFrame) Height() int { return f.height }

// Replay reads every frame of a video file and passes it to submit, which
// takes ownership. It stops at end of file or when ctx is done.
func Replay(ctx context.Context, path string, submit func(iface.Frame)) error {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return fmt.Errorf("open video %s: %w", path, err)
	}
	defer vc.Close()

	for ctx.Err() == nil {
		mat := gocv.NewMat()
		if ok := vc.Read(&mat); !ok || mat.Empty() {
			_ = mat.Close()
			return nil
		}
		submit(NewMatFrame(mat))
	}
	return ctx.Err()
}
