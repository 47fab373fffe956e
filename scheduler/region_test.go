package scheduler

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCenterRegion(t *testing.T) {
	assert.Equal(t, image.Rect(100, 100, 200, 200), CenterRegion(300, 300))
	assert.Equal(t, image.Rect(213, 160, 426, 320), CenterRegion(640, 480))
	assert.True(t, CenterRegion(0, 0).Empty())
}

func TestInRegion(t *testing.T) {
	region := CenterRegion(300, 300)
	cases := []struct {
		name   string
		bounds image.Rectangle
		want   bool
	}{
		{"overlapping corner", image.Rect(50, 50, 150, 150), true},
		{"fully inside", image.Rect(120, 120, 180, 180), true},
		{"covering region", image.Rect(0, 0, 300, 300), true},
		{"disjoint", image.Rect(0, 0, 50, 50), false},
		{"touching edge", image.Rect(0, 0, 100, 100), false},
		{"empty bounds", image.Rectangle{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, InRegion(c.bounds, region))
		})
	}

	assert.False(t, InRegion(image.Rect(0, 0, 10, 10), CenterRegion(0, 0)))
}

func TestEmptyRegionMatchesNothing(t *testing.T) {
	for _, region := range []image.Rectangle{CenterRegion(0, 0), CenterRegion(1, 1), CenterRegion(300, 0)} {
		assert.True(t, region.Empty())
		assert.False(t, InRegion(image.Rect(-5, -5, 5, 5), region), "box straddling %v", region)
		assert.False(t, InRegion(image.Rect(-1000, -1000, 1000, 1000), region))
	}
}
