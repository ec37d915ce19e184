package footprint

import "fixturecraft.ai/internal/sim/model"

// Near reports whether two points are within r tiles of each other
// horizontally.
func Near(a, b model.Vec3i, r int) bool {
	return model.InRange(a, b, r)
}

// SpansOverlap reports whether two vertical extents collide. Equal bases
// always collide, even for zero-height objects.
func SpansOverlap(aZ, aHeight, bZ, bHeight int) bool {
	if aZ == bZ {
		return true
	}
	return aZ+aHeight > bZ && bZ+bHeight > aZ
}
