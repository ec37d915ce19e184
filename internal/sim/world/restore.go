package world

import "fixturecraft.ai/internal/sim/model"

// ResetEntities forgets every mobile and item along with pending prompts and
// message history, ahead of a snapshot restore. Geometry, houses and
// townships stay; house fixture sets are cleared for the fixtures to
// re-register.
func (w *World) ResetEntities() {
	w.mobiles = map[model.Serial]*model.Mobile{}
	w.byName = map[string]*model.Mobile{}
	w.items = map[model.Serial]*model.Item{}
	w.prompts = map[model.Serial]*prompt{}
	w.messages = map[model.Serial][]string{}
	for _, h := range w.houses {
		h.Fixtures = nil
	}
}

// Rebind re-resolves house and township roles by mobile name after the
// mobiles were replaced. Names the world no longer knows keep their old
// serials.
func (w *World) Rebind(l Layout) {
	serial := func(name string, old model.Serial) model.Serial {
		if m := w.byName[name]; m.Valid() {
			return m.Serial
		}
		return old
	}
	for _, hs := range l.Houses {
		h := w.housesByID[hs.ID]
		if h == nil {
			continue
		}
		h.Owner = serial(hs.Owner, h.Owner)
		co := map[model.Serial]bool{}
		for _, name := range hs.CoOwners {
			if m := w.byName[name]; m.Valid() {
				co[m.Serial] = true
			}
		}
		h.CoOwners = co
	}
	for _, ts := range l.Townships {
		for _, t := range w.townships {
			if t.ID != ts.ID {
				continue
			}
			t.Mayor = serial(ts.Mayor, t.Mayor)
			members := map[model.Serial]bool{}
			for _, name := range ts.Members {
				if m := w.byName[name]; m.Valid() {
					members[m.Serial] = true
				}
			}
			t.Members = members
		}
	}
}
