package model

// Rect is an inclusive horizontal area.
type Rect struct {
	X1, Y1, X2, Y2 int
}

func (r Rect) Contains(x, y int) bool {
	return x >= r.X1 && x <= r.X2 && y >= r.Y1 && y <= r.Y2
}

type Door struct {
	Serial Serial
	Pos    Vec3i
	Height int
	Open   bool
}

type House struct {
	ID       string
	Map      MapID
	Owner    Serial
	CoOwners map[Serial]bool
	Areas    []Rect
	MinZ     int
	MaxZ     int
	Doors    []*Door

	// Fixtures placed inside the house.
	Fixtures map[Serial]bool
}

func (h *House) Contains(m MapID, p Vec3i) bool {
	if h == nil || m != h.Map {
		return false
	}
	if p.Z < h.MinZ || p.Z > h.MaxZ {
		return false
	}
	for _, a := range h.Areas {
		if a.Contains(p.X, p.Y) {
			return true
		}
	}
	return false
}

// IsOwner reports owner or co-owner standing.
func (h *House) IsOwner(m *Mobile) bool {
	if h == nil || !m.Valid() {
		return false
	}
	if h.Owner == m.Serial {
		return true
	}
	return h.CoOwners[m.Serial]
}

func (h *House) AddFixture(s Serial) {
	if h.Fixtures == nil {
		h.Fixtures = map[Serial]bool{}
	}
	h.Fixtures[s] = true
}

func (h *House) RemoveFixture(s Serial) {
	delete(h.Fixtures, s)
}

// Door returns the house door with serial s, or nil.
func (h *House) Door(s Serial) *Door {
	for _, d := range h.Doors {
		if d != nil && d.Serial == s {
			return d
		}
	}
	return nil
}

// SetDoor adds d, or replaces the door that has its serial.
func (h *House) SetDoor(d *Door) {
	for i, cur := range h.Doors {
		if cur != nil && cur.Serial == d.Serial {
			h.Doors[i] = d
			return
		}
	}
	h.Doors = append(h.Doors, d)
}

func (h *House) RemoveDoor(s Serial) {
	out := h.Doors[:0]
	for _, d := range h.Doors {
		if d != nil && d.Serial != s {
			out = append(out, d)
		}
	}
	h.Doors = out
}

// Township is a player-run zone with its own build rules.
type Township struct {
	ID         string
	Map        MapID
	Area       Rect
	Mayor      Serial
	Members    map[Serial]bool
	AllowBuild bool
	// Banned fixture definitions may never be placed in the township.
	Banned map[string]bool
}

func (t *Township) Contains(m MapID, p Vec3i) bool {
	return t != nil && m == t.Map && t.Area.Contains(p.X, p.Y)
}

func (t *Township) IsOwner(m *Mobile) bool {
	return t != nil && m.Valid() && t.Mayor == m.Serial
}

func (t *Township) IsMember(m *Mobile) bool {
	if t == nil || !m.Valid() {
		return false
	}
	return t.Mayor == m.Serial || t.Members[m.Serial]
}
