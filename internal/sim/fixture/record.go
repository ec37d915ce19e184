package fixture

import (
	"fmt"

	"fixturecraft.ai/internal/sim/model"
)

// Record is the persisted form of a fixture.
type Record struct {
	Serial      model.Serial
	DefID       string
	Orientation string
	Resource    string

	Pos model.Vec3i
	Map model.MapID
	Hue int

	ShareHue   bool
	Redeemable bool
	Movable    bool
	Preview    bool
	Link       model.Serial
	HouseID    string
	Aux        map[string]int

	Components []ComponentRecord
}

type ComponentRecord struct {
	Serial    model.Serial
	Kind      string
	Name      string
	Offset    model.Vec3i
	Height    int
	Secondary bool
	Primary   bool
	Graphics  [2]int
	State     Visual
	Hue       int
}

func (f *Fixture) Record() Record {
	if f.behavior != nil {
		f.behavior.Save(f)
	}
	rec := Record{
		Serial:      f.Serial,
		DefID:       f.Def.ID,
		Orientation: f.Orientation,
		Resource:    f.Resource,
		Pos:         f.pos,
		Map:         f.m,
		Hue:         f.hue,
		ShareHue:    f.ShareHue,
		Redeemable:  f.Redeemable,
		Movable:     f.Movable,
		Preview:     f.Preview,
		Link:        f.Link,
		HouseID:     f.HouseID,
		Aux:         make(map[string]int, len(f.Aux)),
	}
	for k, v := range f.Aux {
		rec.Aux[k] = v
	}
	for _, c := range f.components {
		rec.Components = append(rec.Components, ComponentRecord{
			Serial:    c.Serial,
			Kind:      c.Kind,
			Name:      c.Name,
			Offset:    c.Offset,
			Height:    c.Height,
			Secondary: c.Secondary,
			Primary:   c.Primary,
			Graphics:  c.Graphics,
			State:     c.State,
			Hue:       c.hue,
		})
	}
	return rec
}

// Load rebuilds a saved fixture with its original serials. Components are
// placed at once; there is nothing new to announce on a restart.
func (r *Registry) Load(rec Record) (*Fixture, error) {
	def, ok := r.Catalogs.Fixtures.ByID[rec.DefID]
	if !ok {
		return nil, fmt.Errorf("fixture %d: %w: %q", rec.Serial, ErrUnknownFixture, rec.DefID)
	}
	if _, dup := r.fixtures[rec.Serial]; dup {
		return nil, fmt.Errorf("fixture %d: duplicate serial", rec.Serial)
	}
	f := r.newFixture(rec.Serial, def, rec.Orientation, rec.Resource)
	f.pos, f.m, f.hue = rec.Pos, rec.Map, rec.Hue
	f.ShareHue = rec.ShareHue
	f.Redeemable = rec.Redeemable
	f.Movable = rec.Movable
	f.Preview = rec.Preview
	f.Link = rec.Link
	f.HouseID = rec.HouseID
	for k, v := range rec.Aux {
		f.Aux[k] = v
	}
	for _, cr := range rec.Components {
		c := &Component{
			Serial:    cr.Serial,
			Kind:      cr.Kind,
			Name:      cr.Name,
			Offset:    cr.Offset,
			Height:    cr.Height,
			Secondary: cr.Secondary,
			Primary:   cr.Primary,
			Graphics:  cr.Graphics,
			State:     cr.State,
			pos:       f.pos.Add(cr.Offset),
			m:         f.m,
			hue:       cr.Hue,
			parent:    f.Serial,
			placed:    true,
			reg:       r,
		}
		f.components = append(f.components, c)
		r.components[c.Serial] = c
	}
	if f.HouseID != "" && r.Owners != nil {
		if h := r.Owners.HouseByID(f.HouseID); h != nil {
			h.AddFixture(f.Serial)
		}
	}
	if f.behavior != nil {
		f.behavior.Restore(f)
	}
	f.syncHouseDoor()
	return f, nil
}
