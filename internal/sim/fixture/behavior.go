package fixture

import (
	"fmt"
	"strings"

	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/rules"
	"fixturecraft.ai/internal/sim/sched"
)

// Behavior is the interactive capability a fixture definition attaches.
// State that must survive a redeed or a restart lives in Fixture.Aux.
type Behavior interface {
	Use(f *Fixture, c *Component, m *model.Mobile)
	// Save writes in-memory state to f.Aux.
	Save(f *Fixture)
	// Restore rebuilds in-memory state from f.Aux.
	Restore(f *Fixture)
}

const (
	KindKindling = "Kindling"

	soundDoor     = 0x0EA
	soundIgnite   = 0x047
	soundBellows  = 0x02B
	soundTeleport = 0x1FE
)

func (r *Registry) newBehavior(f *Fixture) Behavior {
	switch f.Def.Behavior {
	case catalogs.BehaviorDoor:
		return &door{}
	case catalogs.BehaviorFireplace:
		return &fireplace{}
	case catalogs.BehaviorBellows:
		return &bellows{}
	case catalogs.BehaviorTourney:
		rs, err := rules.FromCatalog(r.Catalogs.Tourney)
		if err != nil {
			r.Log.Printf("fixture %d: tourney rules: %v", f.Serial, err)
			rs = &rules.RuleSet{}
		}
		f.Rules = rs
		return &tourney{}
	case catalogs.BehaviorTeleporter:
		return teleporter{}
	}
	return nil
}

type door struct{}

func (door) Use(f *Fixture, c *Component, m *model.Mobile) {
	open := f.Aux["open"] == 0
	f.Aux["open"] = boolInt(open)
	door{}.Restore(f)
	f.syncHouseDoor()
	f.reg.Actors.Sound(f.m, f.pos, soundDoor)
}

func (door) Save(*Fixture) {}

func (door) Restore(f *Fixture) {
	v := Idle
	if f.Aux["open"] != 0 {
		v = Active
	}
	for _, c := range f.components {
		if c.Primary {
			c.State = v
		}
	}
}

// Open reports whether a door fixture stands open.
func (f *Fixture) Open() bool { return f.IsDoor() && f.Aux["open"] != 0 }

// defaultDoorHeight matches the layout loader's default for house doors.
const defaultDoorHeight = 20

// syncHouseDoor keeps the house's door list in step with a placed door
// fixture: its primary component counts as a house door, open or closed.
// Previews are never listed.
func (f *Fixture) syncHouseDoor() {
	if !f.IsDoor() || f.HouseID == "" || f.reg.Owners == nil {
		return
	}
	h := f.reg.Owners.HouseByID(f.HouseID)
	if h == nil {
		return
	}
	c := f.primary()
	if c == nil {
		return
	}
	if f.deleted || f.Preview {
		h.RemoveDoor(c.Serial)
		return
	}
	height := c.Height
	if height <= 0 {
		height = defaultDoorHeight
	}
	h.SetDoor(&model.Door{
		Serial: c.Serial,
		Pos:    f.pos.Add(c.Offset),
		Height: height,
		Open:   f.Open(),
	})
}

func (f *Fixture) primary() *Component {
	for _, c := range f.components {
		if c.Primary {
			return c
		}
	}
	if len(f.components) > 0 {
		return f.components[0]
	}
	return nil
}

// fireplace burns fuel measured in burn intervals. Aux keys: fuel, lit.
type fireplace struct {
	timer *sched.Timer
}

func (b *fireplace) Use(f *Fixture, c *Component, m *model.Mobile) {
	if f.Aux["lit"] != 0 {
		b.extinguish(f)
		return
	}
	if f.Aux["fuel"] <= 0 {
		if !consumeFromPack(f.reg, m, KindKindling) {
			f.reg.Actors.Message(m, "You need kindling to light a fire.")
			return
		}
		f.Aux["fuel"] += f.reg.cfg.FuelPerKindling
	}
	b.ignite(f)
	f.reg.Actors.Sound(f.m, f.pos, soundIgnite)
}

func (b *fireplace) ignite(f *Fixture) {
	f.Aux["lit"] = 1
	f.setVisual(Active)
	b.timer.Stop()
	b.timer = f.reg.sched.Every(f.reg.cfg.BurnInterval, "fireplace.burn", func(t *sched.Timer) {
		if f.Deleted() {
			t.Stop()
			return
		}
		f.Aux["fuel"]--
		if f.Aux["fuel"] <= 0 {
			f.Aux["fuel"] = 0
			b.extinguish(f)
		}
	})
}

func (b *fireplace) extinguish(f *Fixture) {
	b.timer.Stop()
	b.timer = nil
	f.Aux["lit"] = 0
	f.setVisual(Idle)
}

func (b *fireplace) Save(*Fixture) {}

func (b *fireplace) Restore(f *Fixture) {
	if f.Aux["lit"] != 0 && f.Aux["fuel"] > 0 {
		b.ignite(f)
		return
	}
	b.extinguish(f)
}

// consumeFromPack uses up one unit of kind from m's backpack.
func consumeFromPack(r *Registry, m *model.Mobile, kind string) bool {
	it := findInContainer(m.Backpack, kind)
	if it == nil {
		return false
	}
	if it.Amount > 1 {
		it.Amount--
		return true
	}
	r.Items.DeleteItem(it)
	return true
}

func findInContainer(c *model.Item, kind string) *model.Item {
	if !c.Valid() {
		return nil
	}
	for _, it := range c.Items {
		if !it.Valid() {
			continue
		}
		if it.Kind == kind {
			return it
		}
		if it.Container {
			if found := findInContainer(it, kind); found != nil {
				return found
			}
		}
	}
	return nil
}

// bellows pumps on use and falls back to idle after the relock delay.
type bellows struct {
	relock *sched.Timer
}

func (b *bellows) Use(f *Fixture, c *Component, m *model.Mobile) {
	if f.Aux["active"] != 0 {
		return
	}
	b.activate(f, f.reg.cfg.BellowsRelock)
	f.reg.Actors.Sound(f.m, f.pos, soundBellows)
}

func (b *bellows) activate(f *Fixture, after uint64) {
	f.Aux["active"] = 1
	f.setVisual(Active)
	b.relock.Stop()
	b.relock = f.reg.sched.After(after, "bellows.relock", func() {
		if f.Deleted() {
			return
		}
		f.Aux["active"] = 0
		f.setVisual(Idle)
	})
}

func (b *bellows) Save(*Fixture) {}

func (b *bellows) Restore(f *Fixture) {
	if f.Aux["active"] != 0 {
		b.activate(f, 1)
	}
}

// tourney checks the user against the stone's rule set and flashes the
// result colour.
type tourney struct {
	revert   *sched.Timer
	original int
}

func (b *tourney) Use(f *Fixture, c *Component, m *model.Mobile) {
	r := f.reg
	eng := rules.Engine{Names: r.Catalogs.Items, Hands: r.Hands}
	failures := eng.Validate(f.Rules, m)
	hue := r.cfg.TourneyPassHue
	if len(failures) == 0 {
		r.Actors.Message(m, "You have passed the rules check.")
		r.notify(Notice{Kind: NoticeRulesPassed, Fixture: f, Mobile: m})
	} else {
		hue = r.cfg.TourneyFailHue
		for _, msg := range failures {
			r.Actors.Message(m, msg)
		}
		r.Actors.Message(m, fmt.Sprintf("You have failed %d rule check(s).", len(failures)))
		r.notify(Notice{Kind: NoticeRulesFailed, Fixture: f, Mobile: m, Detail: fmt.Sprintf("%d failed", len(failures))})
	}
	b.flash(f, hue)
}

func (b *tourney) flash(f *Fixture, hue int) {
	if !b.revert.Running() {
		b.original = f.hue
	}
	b.revert.Stop()
	f.SetHue(hue)
	b.revert = f.reg.sched.After(f.reg.cfg.TourneyRevert, "tourney.revert", func() {
		if f.Deleted() {
			return
		}
		f.SetHue(b.original)
	})
}

func (b *tourney) Save(f *Fixture) {
	for k := range f.Aux {
		if strings.HasPrefix(k, "rules.") {
			delete(f.Aux, k)
		}
	}
	if f.Rules == nil {
		return
	}
	s := f.Rules.State()
	f.Aux["rules.version"] = s.Version
	f.Aux["rules.count"] = len(s.Active)
	for i, on := range s.Active {
		f.Aux[fmt.Sprintf("rules.%d.active", i)] = boolInt(on)
		for j, cs := range s.Conditions[i] {
			f.Aux[fmt.Sprintf("rules.%d.%d.quantity", i, j)] = cs.Quantity
			f.Aux[fmt.Sprintf("rules.%d.%d.value", i, j)] = cs.Value
		}
	}
}

func (b *tourney) Restore(f *Fixture) {
	if f.Rules == nil {
		return
	}
	if b.revert.Running() {
		b.revert.Stop()
		f.SetHue(b.original)
	}
	n, ok := f.Aux["rules.count"]
	if !ok {
		return
	}
	s := rules.State{
		Version:    f.Aux["rules.version"],
		Active:     make([]bool, n),
		Conditions: make([][]rules.ConditionState, n),
	}
	for i := 0; i < n; i++ {
		s.Active[i] = f.Aux[fmt.Sprintf("rules.%d.active", i)] != 0
		for j := 0; ; j++ {
			q, ok := f.Aux[fmt.Sprintf("rules.%d.%d.quantity", i, j)]
			if !ok {
				break
			}
			s.Conditions[i] = append(s.Conditions[i], rules.ConditionState{
				Quantity: q,
				Value:    f.Aux[fmt.Sprintf("rules.%d.%d.value", i, j)],
			})
		}
	}
	f.Rules.Apply(s)
}

// teleporter moves the user to the linked partner fixture.
type teleporter struct{}

func (teleporter) Use(f *Fixture, c *Component, m *model.Mobile) {
	partner := f.reg.Fixture(f.Link)
	if partner == nil || partner.Preview || !partner.m.Valid() {
		f.reg.Actors.Message(m, "The teleporter is not linked.")
		return
	}
	if err := f.reg.Actors.MoveMobile(m, partner.m, partner.pos); err != nil {
		f.reg.Log.Printf("fixture %d: teleport: %v", f.Serial, err)
		f.reg.Actors.Message(m, "The teleporter is not linked.")
		return
	}
	f.reg.Actors.Sound(partner.m, partner.pos, soundTeleport)
}

func (teleporter) Save(*Fixture)    {}
func (teleporter) Restore(*Fixture) {}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
