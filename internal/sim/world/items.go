package world

import (
	"errors"
	"fmt"

	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
)

var (
	ErrNoRoom       = errors.New("no room")
	ErrBadContainer = errors.New("not a usable container")
	ErrBadMap       = errors.New("unknown map")
)

func (w *World) NewItem(kind string) *model.Item {
	it := &model.Item{
		Serial: w.serials.Next(),
		Kind:   kind,
		Amount: 1,
	}
	if def, ok := w.cats.Items.ByKind[kind]; ok {
		it.Name = def.Name
		it.Container = def.Container
	}
	w.items[it.Serial] = it
	return it
}

// NewDeed mints a deed for a fixture definition with its authored defaults.
func (w *World) NewDeed(defID, orientation string) (*model.Item, error) {
	def, ok := w.cats.Fixtures.ByID[defID]
	if !ok {
		return nil, fmt.Errorf("unknown fixture definition %q", defID)
	}
	if orientation == "" {
		orientation = "south"
	}
	it := w.NewItem(model.KindDeed)
	it.Name = def.DeedName
	if it.Name == "" {
		it.Name = def.Name + " deed"
	}
	it.Hue = def.Hue
	it.Deed = &model.DeedData{
		FixtureID:   def.ID,
		Orientation: orientation,
		Redeemable:  def.Redeemable,
		Hue:         def.Hue,
	}
	return it, nil
}

// AdoptItem registers an item tree restored from a snapshot.
func (w *World) AdoptItem(it *model.Item) {
	if it == nil {
		return
	}
	w.items[it.Serial] = it
	for _, c := range it.Items {
		c.Parent = it.Serial
		w.AdoptItem(c)
	}
}

func (w *World) Item(s model.Serial) *model.Item {
	it := w.items[s]
	if !it.Valid() {
		return nil
	}
	return it
}

// WorldItems lists items lying loose on a map, ordered by serial.
func (w *World) WorldItems() []*model.Item {
	var out []*model.Item
	for _, it := range w.items {
		if it.Valid() && it.Parent == 0 && it.Map.Valid() {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out
}

func (w *World) DeleteItem(it *model.Item) {
	if it == nil || it.Deleted {
		return
	}
	w.detach(it)
	w.markDeleted(it)
}

func (w *World) markDeleted(it *model.Item) {
	it.Deleted = true
	delete(w.items, it.Serial)
	for _, c := range it.Items {
		w.markDeleted(c)
	}
}

func (w *World) InPack(m *model.Mobile, it *model.Item) bool {
	if !m.Valid() || !it.Valid() || !m.Backpack.Valid() || it == m.Backpack {
		return false
	}
	return m.Backpack.Contains(it)
}

func (w *World) Place(it *model.Item, t host.DropTarget) error {
	if !it.Valid() {
		return fmt.Errorf("item is deleted")
	}
	switch t.Kind {
	case host.DropWorld:
		if !t.Map.Valid() || w.maps[t.Map] == nil {
			return fmt.Errorf("%w: %q", ErrBadMap, t.Map)
		}
		w.detach(it)
		w.dropAt(it, t.Map, t.Pos)
		return nil
	case host.DropContainer:
		c := t.Container
		if !c.Valid() || !c.Container || it.Contains(c) {
			return ErrBadContainer
		}
		if !w.packRoom(c) {
			return ErrNoRoom
		}
		w.detach(it)
		c.Add(it)
		return nil
	case host.DropMobile:
		if !t.Mobile.Valid() || !t.Mobile.Backpack.Valid() {
			return ErrBadContainer
		}
		if !w.packRoom(t.Mobile.Backpack) {
			return ErrNoRoom
		}
		w.detach(it)
		t.Mobile.Backpack.Add(it)
		return nil
	}
	return fmt.Errorf("unknown drop target %d", t.Kind)
}

func (w *World) packRoom(c *model.Item) bool {
	return c.Valid() && (w.PackLimit <= 0 || len(c.Items) < w.PackLimit)
}

func (w *World) dropAt(it *model.Item, m model.MapID, p model.Vec3i) {
	it.Parent = 0
	it.Map = m
	it.Pos = p
}

// detach removes it from whichever container or mobile currently holds it.
func (w *World) detach(it *model.Item) {
	if it.Parent == 0 {
		it.Map = model.MapNone
		return
	}
	if parent := w.items[it.Parent]; parent != nil {
		parent.Remove(it)
		return
	}
	if m := w.mobiles[it.Parent]; m != nil {
		if m.Holding == it {
			m.Holding = nil
		}
		if m.Backpack == it {
			m.Backpack = nil
		}
		for i, eq := range m.Equipped {
			if eq == it {
				m.Equipped = append(m.Equipped[:i], m.Equipped[i+1:]...)
				break
			}
		}
	}
	it.Parent = 0
}
