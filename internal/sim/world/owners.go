package world

import (
	"fmt"

	"fixturecraft.ai/internal/sim/model"
)

func (w *World) AddHouse(h *model.House) error {
	if _, dup := w.housesByID[h.ID]; dup {
		return fmt.Errorf("duplicate house: %s", h.ID)
	}
	w.houses = append(w.houses, h)
	w.housesByID[h.ID] = h
	return nil
}

func (w *World) HouseAt(m model.MapID, p model.Vec3i) *model.House {
	for _, h := range w.houses {
		if h.Contains(m, p) {
			return h
		}
	}
	return nil
}

func (w *World) HouseByID(id string) *model.House { return w.housesByID[id] }

func (w *World) Houses() []*model.House { return append([]*model.House(nil), w.houses...) }

func (w *World) AddTownship(t *model.Township) { w.townships = append(w.townships, t) }

func (w *World) TownshipAt(m model.MapID, p model.Vec3i) *model.Township {
	for _, t := range w.townships {
		if t.Contains(m, p) {
			return t
		}
	}
	return nil
}

// BuildAllowed applies township rules. Elevated staff and anything inside a
// house are left to the fit check.
func (w *World) BuildAllowed(m *model.Mobile, mapID model.MapID, p model.Vec3i, defID string) (bool, string) {
	if !m.Valid() {
		return false, ""
	}
	if m.AccessLevel.Elevated() || w.HouseAt(mapID, p) != nil {
		return true, ""
	}
	t := w.TownshipAt(mapID, p)
	if t == nil {
		return true, ""
	}
	if t.Banned[defID] {
		return false, "That may not be placed within this township."
	}
	if !t.AllowBuild && !t.IsMember(m) {
		return false, "Only members of this township may build here."
	}
	return true, ""
}
