package scheduler

import "image"

// CenterRegion returns the middle third of a width x height image along
// both axes. Zero dimensions yield an empty rectangle, which overlaps nothing.
func CenterRegion(width, height int) image.Rectangle {
	return image.Rect(width/3, height/3, width*2/3, height*2/3)
}

// InRegion reports whether bounds shares any interior area with region.
// Rectangles that only touch along an edge do not count, and an empty region,
// as cached from a frame without dimensions, matches nothing.
func InRegion(bounds, region image.Rectangle) bool {
	return bounds.Overlaps(region)
}
