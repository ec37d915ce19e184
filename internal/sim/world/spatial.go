package world

import (
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
)

func (w *World) AddMap(id model.MapID, width, height, groundZ int) {
	w.maps[id] = &facet{
		id:      id,
		width:   width,
		height:  height,
		groundZ: groundZ,
		statics: map[[2]int][]host.StaticTile{},
	}
}

func (w *World) HasMap(id model.MapID) bool { return w.maps[id] != nil }

func (w *World) AddStatic(m model.MapID, x, y int, t host.StaticTile) {
	f := w.maps[m]
	if f == nil {
		return
	}
	k := [2]int{x, y}
	f.statics[k] = append(f.statics[k], t)
}

// AddWall lays impassable wall tiles along a straight run.
func (w *World) AddWall(m model.MapID, from, to [2]int, z, height, itemID int) {
	dx, dy := sign(to[0]-from[0]), sign(to[1]-from[1])
	x, y := from[0], from[1]
	for {
		w.AddStatic(m, x, y, host.StaticTile{ItemID: itemID, Z: z, Height: height, Flags: host.FlagImpassable | host.FlagWall})
		if x == to[0] && y == to[1] {
			return
		}
		x += dx
		y += dy
	}
}

// SetObstacles installs a source of dynamic blockers (placed fixture
// components) consulted alongside the statics.
func (w *World) SetObstacles(fn func(m model.MapID, x, y int) []host.StaticTile) {
	w.obstacles = fn
}

func (w *World) StaticsAt(m model.MapID, x, y int) []host.StaticTile {
	f := w.maps[m]
	if f == nil {
		return nil
	}
	out := append([]host.StaticTile(nil), f.statics[[2]int{x, y}]...)
	if w.obstacles != nil {
		out = append(out, w.obstacles(m, x, y)...)
	}
	return out
}

func (w *World) CanFit(m model.MapID, p model.Vec3i, height int, requireSurface bool) bool {
	f := w.maps[m]
	if f == nil || !m.Valid() {
		return false
	}
	if p.X < 0 || p.Y < 0 || p.X >= f.width || p.Y >= f.height || p.Z < f.groundZ {
		return false
	}
	if height <= 0 {
		height = 1
	}
	surface := p.Z == f.groundZ
	for _, t := range w.StaticsAt(m, p.X, p.Y) {
		if t.Is(host.FlagSurface) && t.Top() == p.Z {
			surface = true
		}
		if !t.Is(host.FlagImpassable | host.FlagWall) {
			continue
		}
		if t.Z < p.Z+height && p.Z < t.Top() {
			return false
		}
	}
	return !requireSurface || surface
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
