package opencv

import (
	"context"
	"image"
	"testing"

	iface "QrScanServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestCornerBounds(t *testing.T) {
	quad := []float32{10.2, 20.9, 90.5, 21, 91, 99.4, 9.8, 100}
	assert.Equal(t, image.Rect(9, 20, 91, 100), cornerBounds(quad))
	assert.Equal(t, image.Rectangle{}, cornerBounds(nil))
}

func TestImageToMat(t *testing.T) {
	t.Run("bgr", func(t *testing.T) {
		mat, err := ImageToMat(iface.ImageData{Data: make([]byte, 4*3*3), Width: 4, Height: 3, Channels: 3})
		require.NoError(t, err)
		defer mat.Close()
		assert.Equal(t, 4, mat.Cols())
		assert.Equal(t, 3, mat.Rows())
		assert.Equal(t, 3, mat.Channels())
	})

	t.Run("short buffer", func(t *testing.T) {
		mat, err := ImageToMat(iface.ImageData{Data: make([]byte, 5), Width: 4, Height: 3, Channels: 3})
		defer mat.Close()
		assert.Error(t, err)
	})

	t.Run("channels", func(t *testing.T) {
		mat, err := ImageToMat(iface.ImageData{Data: make([]byte, 24), Width: 4, Height: 3, Channels: 2})
		defer mat.Close()
		assert.Error(t, err)
	})
}

func TestQRBackend_BlankImage(t *testing.T) {
	b := NewQRBackend()
	defer b.Close()

	codes, err := b.Detect(context.Background(), iface.ImageData{Data: make([]byte, 64*64*3), Width: 64, Height: 64, Channels: 3})
	require.NoError(t, err)
	assert.Empty(t, codes)

	require.NoError(t, b.Close())
	_, err = b.Detect(context.Background(), iface.ImageData{Data: make([]byte, 64*64*3), Width: 64, Height: 64, Channels: 3})
	assert.Error(t, err)
}

func TestMatFrame(t *testing.T) {
	f := NewMatFrame(gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3))
	assert.Equal(t, 64, f.Width())
	assert.Equal(t, 48, f.Height())

	img, err := f.ToImage()
	require.NoError(t, err)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 48, img.Height)
	assert.Equal(t, 3, img.Channels)
	assert.Len(t, img.Data, 64*48*3)

	f.Release()
	_, err = f.ToImage()
	assert.ErrorIs(t, err, iface.ErrStaleFrame)
	assert.Equal(t, 64, f.Width(), "dimensions stay stable after release")
}
