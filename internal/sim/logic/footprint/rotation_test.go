package footprint

import (
	"testing"

	"fixturecraft.ai/internal/sim/model"
)

func TestNormalizeRotation_AcceptsDegreesAndQuarterTurns(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{in: 0, want: 0},
		{in: 1, want: 1},
		{in: 2, want: 2},
		{in: 3, want: 3},
		{in: 4, want: 0},
		{in: -1, want: 3},
		{in: 90, want: 1},
		{in: 180, want: 2},
		{in: 270, want: 3},
		{in: 360, want: 0},
		{in: -90, want: 3},
	}
	for _, c := range cases {
		if got := NormalizeRotation(c.in); got != c.want {
			t.Fatalf("NormalizeRotation(%d)=%d want %d", c.in, got, c.want)
		}
	}
}

func TestParseOrientation(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{in: "", want: 0, ok: true},
		{in: "South", want: 0, ok: true},
		{in: "east", want: 3, ok: true},
		{in: "180", want: 2, ok: true},
		{in: "sideways", ok: false},
	}
	for _, c := range cases {
		got, ok := ParseOrientation(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Fatalf("ParseOrientation(%q)=(%d,%v) want (%d,%v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestRotateOffsetFullTurnIsIdentity(t *testing.T) {
	off := model.Vec3i{X: 2, Y: -1, Z: 5}
	got := off
	for i := 0; i < 4; i++ {
		got = RotateOffset(got, 1)
	}
	if got != off {
		t.Fatalf("four quarter turns: got %v want %v", got, off)
	}
	if r := RotateOffset(off, 2); r != (model.Vec3i{X: -2, Y: 1, Z: 5}) {
		t.Fatalf("half turn: got %v", r)
	}
}
