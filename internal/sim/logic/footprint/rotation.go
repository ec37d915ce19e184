package footprint

import (
	"strconv"
	"strings"

	"fixturecraft.ai/internal/sim/model"
)

// NormalizeRotation converts a rotation value into a stable quarter-turn
// count in [0,3].
//
// It accepts either quarter-turns (0..3) or degrees (multiples of 90).
func NormalizeRotation(r int) int {
	// Treat large multiples of 90 as degrees.
	if r%90 == 0 && (r > 3 || r < -3) {
		r = r / 90
	}
	r %= 4
	if r < 0 {
		r += 4
	}
	return r
}

// Orientation names, clockwise from the authored facing.
const (
	South = "south"
	West  = "west"
	North = "north"
	East  = "east"
)

var orientationTurns = map[string]int{
	South: 0,
	West:  1,
	North: 2,
	East:  3,
}

// ParseOrientation maps an orientation name or numeric rotation to quarter
// turns. Unknown values report ok=false.
func ParseOrientation(s string) (rot int, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, true
	}
	if r, found := orientationTurns[s]; found {
		return r, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return NormalizeRotation(n), true
}

// RotateXY rotates an (x,y) offset around the vertical axis by rot*90
// degrees clockwise. rot must be a normalized quarter-turn count in [0,3].
func RotateXY(x, y, rot int) (rx, ry int) {
	switch rot & 3 {
	case 0:
		return x, y
	case 1:
		return -y, x
	case 2:
		return -x, -y
	default: // 3
		return y, -x
	}
}

func RotateOffset(off model.Vec3i, rot int) model.Vec3i {
	rx, ry := RotateXY(off.X, off.Y, rot)
	return model.Vec3i{X: rx, Y: ry, Z: off.Z}
}
