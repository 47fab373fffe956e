package iface

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageDataValidate(t *testing.T) {
	cases := []struct {
		name string
		img  ImageData
		ok   bool
	}{
		{"gray", ImageData{Data: make([]byte, 6), Width: 3, Height: 2, Channels: 1}, true},
		{"bgr", ImageData{Data: make([]byte, 18), Width: 3, Height: 2, Channels: 3}, true},
		{"bgra", ImageData{Data: make([]byte, 24), Width: 3, Height: 2, Channels: 4}, true},
		{"empty", ImageData{Width: 3, Height: 2, Channels: 1}, false},
		{"two channels", ImageData{Data: make([]byte, 12), Width: 3, Height: 2, Channels: 2}, false},
		{"short", ImageData{Data: make([]byte, 17), Width: 3, Height: 2, Channels: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.img.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDetectionErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&DetectionError{Backend: "opencv-qr", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "opencv-qr detection failed: timeout", err.Error())
}
