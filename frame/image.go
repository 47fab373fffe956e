// Package frame provides a Frame over a decoded image.Image.
package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
	"time"

	iface "QrScanServer/interface"

	"github.com/google/uuid"
)

// Image is a Frame backed by an in-memory image. Gray images convert to a
// single channel, everything else to BGR.
type Image struct {
	ID         string
	CapturedAt time.Time

	mu        sync.Mutex
	img       image.Image
	width     int
	height    int
	onRelease func()
}

type Option func(*Image)

// OnRelease registers a hook run when the frame is released, e.g. to return
// a buffer to a pool.
func OnRelease(fn func()) Option {
	return func(f *Image) { f.onRelease = fn }
}

func New(img image.Image, opts ...Option) *Image {
	b := img.Bounds()
	f := &Image{
		ID:         uuid.NewString(),
		CapturedAt: time.Now(),
		img:        img,
		width:      b.Dx(),
		height:     b.Dy(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Decode reads a PNG, JPEG or GIF image into a frame.
func Decode(r io.Reader, opts ...Option) (*Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode frame: %w", err)
	}
	return New(img, opts...), format, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(data []byte, opts ...Option) (*Image, string, error) {
	return Decode(bytes.NewReader(data), opts...)
}

func (f *Image) Width() int  { return f.width }
func (f *Image) Height() int { return f.height }

func (f *Image) ToImage() (iface.ImageData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.img == nil {
		return iface.ImageData{}, iface.ErrStaleFrame
	}
	return ToImageData(f.img), nil
}

func (f *Image) Release() {
	f.mu.Lock()
	if f.img == nil {
		f.mu.Unlock()
		return
	}
	f.img = nil
	hook := f.onRelease
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// ToImageData copies img into packed pixels.
func ToImageData(img image.Image) iface.ImageData {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if gray, ok := img.(*image.Gray); ok {
		data := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := gray.PixOffset(b.Min.X, y)
			data = append(data, gray.Pix[off:off+w]...)
		}
		return iface.ImageData{Data: data, Width: w, Height: h, Channels: 1}
	}

	data := make([]byte, w*h*3)
	i := 0
	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := src.PixOffset(b.Min.X, y)
			for x := 0; x < w; x++ {
				p := src.Pix[off+x*4 : off+x*4+3]
				data[i], data[i+1], data[i+2] = p[2], p[1], p[0]
				i += 3
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				data[i], data[i+1], data[i+2] = byte(bl>>8), byte(g>>8), byte(r>>8)
				i += 3
			}
		}
	}
	return iface.ImageData{Data: data, Width: w, Height: h, Channels: 3}
}
