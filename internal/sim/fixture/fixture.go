// Package fixture implements composite fixtures: placeable structures made of
// rigid components that share a position, map and (optionally) hue.
package fixture

import (
	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/fit"
	"fixturecraft.ai/internal/sim/logic/footprint"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/rules"
)

// Visual is a component's two-state appearance (unlit/lit, closed/open,
// idle/pumping).
type Visual int

const (
	Idle Visual = iota
	Active
)

type Fixture struct {
	Serial      model.Serial
	Def         catalogs.FixtureDef
	Orientation string
	Resource    string

	ShareHue   bool
	Redeemable bool
	Movable    bool
	Decorative bool
	// Preview is set while the fixture awaits placement confirmation.
	Preview bool
	// Link is the partner of a paired fixture (two-target deeds).
	Link model.Serial
	// HouseID is the house the fixture was placed in, if any.
	HouseID string
	Aux     map[string]int
	Rules   *rules.RuleSet

	pos        model.Vec3i
	m          model.MapID
	hue        int
	components []*Component
	behavior   Behavior
	deleted    bool
	reg        *Registry
}

type Component struct {
	Serial    model.Serial
	Kind      string
	Name      string
	Offset    model.Vec3i
	Height    int
	Secondary bool
	Primary   bool
	Graphics  [2]int
	State     Visual

	pos     model.Vec3i
	m       model.MapID
	hue     int
	parent  model.Serial
	placed  bool
	deleted bool
	reg     *Registry
}

func (f *Fixture) Location() model.Vec3i     { return f.pos }
func (f *Fixture) Map() model.MapID          { return f.m }
func (f *Fixture) Hue() int                  { return f.hue }
func (f *Fixture) Deleted() bool             { return f == nil || f.deleted }
func (f *Fixture) Behavior() Behavior        { return f.behavior }
func (f *Fixture) Components() []*Component  { return append([]*Component(nil), f.components...) }
func (f *Fixture) Name() string              { return f.Def.Name }
func (f *Fixture) IsDoor() bool              { return f.Def.Behavior == catalogs.BehaviorDoor }

// AddComponent attaches c at the given offset. The component is staged off
// world at once and moved onto the fixture's map after the materialize
// delay, so very large fixtures do not flood clients in a single tick.
func (f *Fixture) AddComponent(c *Component, dx, dy, dz int) {
	if f.deleted || c == nil || c.deleted {
		return
	}
	c.parent = f.Serial
	c.reg = f.reg
	c.Offset = model.Vec3i{X: dx, Y: dy, Z: dz}
	c.m = model.MapInternal
	c.pos = f.pos.Add(c.Offset)
	f.components = append(f.components, c)
	f.reg.components[c.Serial] = c

	f.reg.sched.After(f.reg.cfg.MaterializeDelay, "fixture.materialize", func() {
		p := c.Parent()
		if c.deleted || p == nil || p.deleted {
			return
		}
		c.pos = p.pos.Add(c.Offset)
		c.m = p.m
		c.placed = true
	})
}

func (f *Fixture) SetLocation(p model.Vec3i) {
	if f.pos == p {
		return
	}
	old := f.pos
	f.pos = p
	f.onLocationChange(old)
}

func (f *Fixture) SetMap(m model.MapID) {
	if f.m == m {
		return
	}
	f.m = m
	f.onMapChange()
}

// MoveToWorld relocates the fixture and every component in one step.
func (f *Fixture) MoveToWorld(p model.Vec3i, m model.MapID) {
	old := f.pos
	f.pos = p
	f.m = m
	f.onLocationChange(old)
	f.onMapChange()
}

func (f *Fixture) onLocationChange(old model.Vec3i) {
	if f.deleted {
		return
	}
	for _, c := range f.components {
		c.pos = f.pos.Add(c.Offset)
	}
	f.syncHouseDoor()
}

// EndPreview marks a previewed fixture as placed for good.
func (f *Fixture) EndPreview() {
	if f.deleted || !f.Preview {
		return
	}
	f.Preview = false
	f.syncHouseDoor()
}

func (f *Fixture) onMapChange() {
	if f.deleted {
		return
	}
	for _, c := range f.components {
		if c.placed {
			c.m = f.m
		}
	}
}

// SetHue recolours the fixture and, with ShareHue, every non-secondary
// component.
func (f *Fixture) SetHue(h int) {
	if f.hue == h {
		return
	}
	f.hue = h
	if f.deleted || !f.ShareHue {
		return
	}
	for _, c := range f.components {
		if c.Secondary {
			continue
		}
		c.hue = h
	}
}

// Delete removes the fixture, its components and a linked partner.
func (f *Fixture) Delete() {
	if f == nil || f.deleted {
		return
	}
	f.deleted = true
	for _, c := range f.components {
		c.delete(false)
	}
	f.reg.forget(f)
	if f.Link != 0 {
		if partner := f.reg.Fixture(f.Link); partner != nil {
			partner.Delete()
		}
	}
}

// Parts implements fit.Candidate.
func (f *Fixture) Parts() []fit.Part {
	out := make([]fit.Part, 0, len(f.components))
	for _, c := range f.components {
		out = append(out, fit.Part{Offset: c.Offset, Height: c.Height})
	}
	return out
}

// PrimaryPart implements fit.DoorCandidate.
func (f *Fixture) PrimaryPart() fit.Part {
	if c := f.primary(); c != nil {
		return fit.Part{Offset: c.Offset, Height: c.Height}
	}
	return fit.Part{}
}

func (f *Fixture) BlocksDoors() bool { return f.Def.BlocksDoors }
func (f *Fixture) NeedsWall() bool   { return f.Def.NeedsWall }

func (f *Fixture) Rotation() int {
	rot, _ := footprint.ParseOrientation(f.Orientation)
	return rot
}

// CouldFit is the fixture's entry point into fit validation.
func (f *Fixture) CouldFit(v fit.Validator, p model.Vec3i, m model.MapID, actor *model.Mobile) (fit.Result, *model.House) {
	if f.IsDoor() {
		return v.CouldFitDoor(f, p, m, actor)
	}
	return v.CouldFit(f, p, m, actor)
}

func (f *Fixture) setVisual(v Visual) {
	for _, c := range f.components {
		if c.Graphics[Active] != 0 {
			c.State = v
		}
	}
}

func (c *Component) Location() model.Vec3i { return c.pos }
func (c *Component) Map() model.MapID      { return c.m }
func (c *Component) Hue() int              { return c.hue }
func (c *Component) Deleted() bool         { return c == nil || c.deleted }

// Materialized reports whether the delayed move onto the world has run.
func (c *Component) Materialized() bool { return c.placed }

// ItemID is the graphic for the current visual state.
func (c *Component) ItemID() int {
	if id := c.Graphics[c.State]; id != 0 {
		return id
	}
	return c.Graphics[Idle]
}

// Parent resolves the owning fixture through the registry; nil once the
// fixture is gone.
func (c *Component) Parent() *Fixture {
	if c == nil || c.reg == nil {
		return nil
	}
	return c.reg.Fixture(c.parent)
}

// Label is what a single click on the component shows.
func (c *Component) Label() string {
	if p := c.Parent(); p != nil {
		return p.Name()
	}
	return c.Name
}

// Delete removes the component. The primary component of a door fixture
// takes the whole fixture with it.
func (c *Component) Delete() { c.delete(true) }

func (c *Component) delete(cascade bool) {
	if c == nil || c.deleted {
		return
	}
	c.deleted = true
	if c.reg != nil {
		delete(c.reg.components, c.Serial)
	}
	if !cascade {
		return
	}
	p := c.Parent()
	if p == nil || p.deleted {
		return
	}
	if p.IsDoor() && c.Primary {
		p.Delete()
		return
	}
	for i, pc := range p.components {
		if pc == c {
			p.components = append(p.components[:i], p.components[i+1:]...)
			break
		}
	}
}
