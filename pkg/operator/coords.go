package operator

import "math"

// Screen describes the frame an action was decided on.
type Screen struct {
	// Width and Height are physical pixels.
	Width       int
	Height      int
	ScaleFactor float64
}

func (s Screen) scale() float64 {
	if s.ScaleFactor <= 0 {
		return 1
	}
	return s.ScaleFactor
}

// ToScreen maps a virtual point onto the backend. The virtual space is
// factorX by factorY; the point is scaled to the logical screen and, for
// backends addressing physical pixels, multiplied by the scale factor.
// The result is clamped to the screen.
func ToScreen(v Point, screen Screen, factorX, factorY int, physical bool) Point {
	if factorX <= 0 {
		factorX = 1000
	}
	if factorY <= 0 {
		factorY = 1000
	}
	scale := screen.scale()
	logicalW := float64(screen.Width) / scale
	logicalH := float64(screen.Height) / scale

	p := Point{
		X: v.X / float64(factorX) * logicalW,
		Y: v.Y / float64(factorY) * logicalH,
	}
	maxX, maxY := logicalW, logicalH
	if physical {
		p.X *= scale
		p.Y *= scale
		maxX, maxY = float64(screen.Width), float64(screen.Height)
	}

	p.X = math.Round(clamp(p.X, 0, math.Max(maxX-1, 0)))
	p.Y = math.Round(clamp(p.Y, 0, math.Max(maxY-1, 0)))
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResolveBox parses a box string and maps its midpoint onto the screen.
func ResolveBox(box string, screen Screen, factorX, factorY int, physical bool) (Point, error) {
	v, err := ParseBox(box)
	if err != nil {
		return Point{}, err
	}
	return ToScreen(v, screen, factorX, factorY, physical), nil
}
