package model

// Vec3i is a world coordinate. X and Y are horizontal, Z is elevation.
type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// InRange reports whether b is within r tiles of a on the horizontal plane.
func InRange(a, b Vec3i, r int) bool {
	return Chebyshev(a, b) <= r
}

func Chebyshev(a, b Vec3i) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// MapID names a facet. MapInternal is the off-world staging area; nothing on
// it is visible to players or participates in collision.
type MapID string

const (
	MapNone     MapID = ""
	MapInternal MapID = "INTERNAL"
)

// Valid reports whether m is a real, player-visible map.
func (m MapID) Valid() bool { return m != MapNone && m != MapInternal }
