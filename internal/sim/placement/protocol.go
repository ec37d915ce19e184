// Package placement runs the deed placement workflow: a deed is used, one or
// two points are targeted, the would-be fixture is fit-checked, and on
// success it stands in the world as a preview until it is confirmed or
// rolled back.
package placement

import (
	"errors"
	"fmt"
	"log"

	"fixturecraft.ai/internal/sim/fit"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/sched"
	"fixturecraft.ai/internal/sim/tuning"
)

type State int

const (
	Idle State = iota
	Targeting
	Validating
	Previewing
	Placed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Targeting:
		return "TARGETING"
	case Validating:
		return "VALIDATING"
	case Previewing:
		return "PREVIEWING"
	case Placed:
		return "PLACED"
	case RolledBack:
		return "ROLLED_BACK"
	}
	return "IDLE"
}

var (
	ErrNotDeed        = errors.New("not a deed")
	ErrNotInPack      = errors.New("deed must be in your pack")
	ErrAlreadyPlacing = errors.New("already placing another fixture")
	ErrNotTargeting   = errors.New("not targeting")
	ErrOutOfRange     = errors.New("target out of range")
	ErrZone           = errors.New("zone forbids building")
	ErrInternal       = errors.New("placement aborted")
)

// FitError reports a failed fit check; the deed is kept.
type FitError struct {
	Result fit.Result
}

func (e *FitError) Error() string { return "fit: " + e.Result.String() }

type Config struct {
	PollInterval    uint64
	MaxPolls        int
	MaxRange        int
	ConfirmOnExpiry bool
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		PollInterval:    t.Ticks(t.Preview.PollIntervalMs),
		MaxPolls:        t.Preview.MaxPolls,
		MaxRange:        t.Preview.MaxRange,
		ConfirmOnExpiry: t.Preview.ConfirmOnExpiry,
	}
}

type EventKind string

const (
	EventPreview  EventKind = "preview"
	EventPlaced   EventKind = "placed"
	EventRollback EventKind = "rolled_back"
	EventRejected EventKind = "rejected"
	EventSwept    EventKind = "swept"
)

// Event is emitted on every terminal or notable transition.
type Event struct {
	Tick    uint64
	Kind    EventKind
	Mobile  model.Serial
	Fixture model.Serial
	DefID   string
	Map     model.MapID
	Pos     model.Vec3i
	Reason  string
}

type Deps struct {
	Sched    *sched.Scheduler
	Registry *fixture.Registry
	Actors   host.Actors
	Items    host.Items
	Zones    host.Zones
	Fit      fit.Validator
	Log      *log.Logger
	// OnEvent, when set, observes placement events.
	OnEvent func(Event)
}

// Session is one mobile's progress through the workflow.
type Session struct {
	Mobile  model.Serial
	Deed    model.Serial
	DefID   string
	State   State
	Map     model.MapID
	Targets []model.Vec3i
	Fixture model.Serial
	Polls   int

	timer *sched.Timer
}

type Protocol struct {
	Deps
	cfg      Config
	previews *PreviewRegistry
	sessions map[model.Serial]*Session
}

func New(cfg Config, deps Deps) *Protocol {
	if deps.Log == nil {
		deps.Log = log.Default()
	}
	p := &Protocol{
		Deps:     deps,
		cfg:      cfg,
		previews: NewPreviewRegistry(),
		sessions: map[model.Serial]*Session{},
	}
	deps.Registry.OnDelete(p.fixtureDeleted)
	deps.Registry.OnPreviewChop(func(f *fixture.Fixture) bool { return p.Rollback(f.Serial) })
	return p
}

func (p *Protocol) Previews() *PreviewRegistry { return p.previews }

// Session returns the mobile's current session, if any.
func (p *Protocol) Session(m model.Serial) *Session { return p.sessions[m] }

// CanPlace reports whether m may start a placement: nothing of theirs may be
// awaiting confirmation.
func (p *Protocol) CanPlace(m *model.Mobile) bool {
	for _, e := range p.previews.ByMobile(m.Serial) {
		if f := p.Registry.Fixture(e.Fixture); f != nil && f.Preview {
			return false
		}
	}
	return true
}

// UseDeed starts targeting for a deed in m's pack.
func (p *Protocol) UseDeed(m *model.Mobile, deed *model.Item) error {
	if !m.Valid() {
		return ErrNotInPack
	}
	if !deed.Valid() || deed.Deed == nil {
		return ErrNotDeed
	}
	if !p.Items.InPack(m, deed) {
		p.Actors.Message(m, "That must be in your pack for you to use it.")
		return ErrNotInPack
	}
	if !p.CanPlace(m) {
		p.Actors.Message(m, "You are already placing something. Confirm or cancel it first.")
		return ErrAlreadyPlacing
	}
	def, ok := p.Registry.Catalogs.Fixtures.ByID[deed.Deed.FixtureID]
	if !ok {
		p.Log.Printf("placement: deed %d names unknown fixture %q", deed.Serial, deed.Deed.FixtureID)
		return fmt.Errorf("%w: %w", ErrInternal, fixture.ErrUnknownFixture)
	}
	p.sessions[m.Serial] = &Session{
		Mobile: m.Serial,
		Deed:   deed.Serial,
		DefID:  def.ID,
		State:  Targeting,
	}
	if def.TargetCount() == 2 {
		p.Actors.Message(m, "Target the first location.")
	} else {
		p.Actors.Message(m, "Where do you wish to place this?")
	}
	return nil
}

// Cancel abandons targeting. Previews are not affected.
func (p *Protocol) Cancel(m *model.Mobile) {
	s := p.sessions[m.Serial]
	if s == nil || s.State != Targeting {
		return
	}
	delete(p.sessions, m.Serial)
}

// Target supplies the next placement point. Targeting one's own tile asks
// for a new target; paired deeds collect two points before validating.
func (p *Protocol) Target(m *model.Mobile, mapID model.MapID, at model.Vec3i) error {
	s := p.sessions[m.Serial]
	if s == nil || s.State != Targeting {
		return ErrNotTargeting
	}
	deed := p.Items.Item(s.Deed)
	if !deed.Valid() || !p.Items.InPack(m, deed) {
		delete(p.sessions, m.Serial)
		p.Actors.Message(m, "That must be in your pack for you to use it.")
		return ErrNotInPack
	}
	if at.X == m.Pos.X && at.Y == m.Pos.Y && mapID == m.Map {
		p.Actors.Message(m, "You are standing there. Step aside and choose the location again.")
		return nil
	}
	if mapID != m.Map || !model.InRange(m.Pos, at, p.cfg.MaxRange) {
		p.Actors.Message(m, "That is too far away.")
		return ErrOutOfRange
	}
	def := p.Registry.Catalogs.Fixtures.ByID[s.DefID]
	s.Map = mapID
	s.Targets = append(s.Targets, at)
	if len(s.Targets) < def.TargetCount() {
		p.Actors.Message(m, "Target the second location.")
		return nil
	}
	return p.validate(m, s, deed)
}

func (p *Protocol) validate(m *model.Mobile, s *Session, deed *model.Item) error {
	s.State = Validating

	fixtures := make([]*fixture.Fixture, 0, len(s.Targets))
	discard := func() {
		for _, f := range fixtures {
			f.Delete()
		}
		delete(p.sessions, m.Serial)
	}
	for range s.Targets {
		f, err := p.Registry.FromDeed(deed)
		if err != nil {
			p.Log.Printf("placement: deed %d: %v", deed.Serial, err)
			discard()
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
		fixtures = append(fixtures, f)
	}

	var house *model.House
	for i, f := range fixtures {
		at := s.Targets[i]
		if p.Zones != nil {
			if ok, reason := p.Zones.BuildAllowed(m, s.Map, at, s.DefID); !ok {
				if reason != "" {
					p.Actors.Message(m, reason)
				}
				p.emit(EventRejected, m.Serial, f, s.Map, at, "zone")
				discard()
				return ErrZone
			}
		}
		res, h := f.CouldFit(p.Fit, at, s.Map, m)
		if res != fit.Valid {
			p.Actors.Message(m, res.Message())
			p.emit(EventRejected, m.Serial, f, s.Map, at, res.String())
			discard()
			return &FitError{Result: res}
		}
		if f.IsDoor() && h == nil && !m.AccessLevel.Elevated() {
			p.Log.Printf("placement: door fixture %s at %v resolved no house", s.DefID, at)
			discard()
			return ErrInternal
		}
		if i == 0 {
			house = h
		}
	}

	if len(fixtures) == 2 {
		fixtures[0].Link = fixtures[1].Serial
		fixtures[1].Link = fixtures[0].Serial
	}
	for i, f := range fixtures {
		f.Preview = true
		p.previews.Add(f.Serial, m.Serial)
		f.MoveToWorld(s.Targets[i], s.Map)
		if house != nil && house.Contains(s.Map, s.Targets[i]) {
			f.HouseID = house.ID
			house.AddFixture(f.Serial)
		}
		p.emit(EventPreview, m.Serial, f, s.Map, s.Targets[i], "")
	}
	p.Items.DeleteItem(deed)

	primary := fixtures[0]
	s.State = Previewing
	s.Fixture = primary.Serial
	s.Deed = 0
	s.timer = p.Sched.Every(p.cfg.PollInterval, "placement.confirm", func(t *sched.Timer) {
		p.poll(s, t)
	})
	serial := primary.Serial
	p.Actors.Confirm(m, fmt.Sprintf("Keep the %s here?", primary.Name()), func(ok bool) {
		if ok {
			p.Confirm(serial)
		} else {
			p.Rollback(serial)
		}
	})
	return nil
}

func (p *Protocol) poll(s *Session, t *sched.Timer) {
	f := p.Registry.Fixture(s.Fixture)
	if f == nil {
		t.Stop()
		p.previews.Remove(s.Fixture)
		p.finish(s, RolledBack)
		return
	}
	if !f.Preview {
		t.Stop()
		p.finish(s, Placed)
		return
	}
	m := p.Actors.Mobile(s.Mobile)
	switch {
	case m == nil, !m.Alive, !m.Connected:
		p.Rollback(f.Serial)
		return
	case m.Map != f.Map(), !model.InRange(m.Pos, f.Location(), p.cfg.MaxRange):
		p.Rollback(f.Serial)
		return
	}
	s.Polls++
	if s.Polls >= p.cfg.MaxPolls {
		if p.cfg.ConfirmOnExpiry {
			p.Confirm(f.Serial)
		} else {
			p.Rollback(f.Serial)
		}
	}
}

// Confirm keeps a previewed fixture (and its partner). It reports whether
// anything was confirmed.
func (p *Protocol) Confirm(serial model.Serial) bool {
	f := p.Registry.Fixture(serial)
	if f == nil || !f.Preview {
		return false
	}
	e, _ := p.previews.Get(serial)
	for _, g := range p.group(f) {
		g.EndPreview()
		p.previews.Remove(g.Serial)
		p.emit(EventPlaced, e.Mobile, g, g.Map(), g.Location(), "")
	}
	if s := p.sessionFor(serial); s != nil {
		s.timer.Stop()
		p.finish(s, Placed)
	}
	if m := p.Actors.Mobile(e.Mobile); m != nil {
		p.Actors.Message(m, fmt.Sprintf("The %s has been placed.", f.Name()))
	}
	return true
}

// Rollback deletes a previewed fixture and returns one deed for it to the
// placer. Rolling back something already gone is a no-op that reports false.
func (p *Protocol) Rollback(serial model.Serial) bool {
	e, _ := p.previews.Get(serial)
	f := p.Registry.Fixture(serial)
	if f == nil || !f.Preview {
		p.previews.Remove(serial)
		return false
	}
	group := p.group(f)
	for _, g := range group {
		if ge, ok := p.previews.Get(g.Serial); ok && e.Mobile == 0 {
			e = ge
		}
		p.previews.Remove(g.Serial)
	}
	if s := p.sessionFor(serial); s != nil {
		s.timer.Stop()
		p.finish(s, RolledBack)
	}

	m := p.Actors.Mobile(e.Mobile)
	mapID, at := f.Map(), f.Location()
	deed := f.Redeed()
	for _, g := range group {
		p.emit(EventRollback, e.Mobile, g, g.Map(), g.Location(), "")
		g.Delete()
	}
	p.Actors.Deliver(m, deed, mapID, at)
	return true
}

// group is f plus its linked partner, if any.
func (p *Protocol) group(f *fixture.Fixture) []*fixture.Fixture {
	out := []*fixture.Fixture{f}
	if partner := p.Registry.Fixture(f.Link); partner != nil {
		out = append(out, partner)
	}
	return out
}

func (p *Protocol) sessionFor(serial model.Serial) *Session {
	for _, s := range p.sessions {
		if s.State != Previewing {
			continue
		}
		if s.Fixture == serial {
			return s
		}
		if f := p.Registry.Fixture(s.Fixture); f != nil && f.Link == serial {
			return s
		}
	}
	return nil
}

func (p *Protocol) finish(s *Session, st State) {
	s.State = st
	if cur := p.sessions[s.Mobile]; cur == s {
		delete(p.sessions, s.Mobile)
	}
}

// fixtureDeleted keeps the registry consistent when a preview disappears
// by any other route (chop, admin delete, partner cascade).
func (p *Protocol) fixtureDeleted(f *fixture.Fixture) {
	if !p.previews.Remove(f.Serial) {
		return
	}
	if s := p.sessionFor(f.Serial); s != nil {
		s.timer.Stop()
		p.finish(s, RolledBack)
	}
}

func (p *Protocol) emit(kind EventKind, m model.Serial, f *fixture.Fixture, mapID model.MapID, at model.Vec3i, reason string) {
	p.publish(Event{
		Tick:    p.Sched.Now(),
		Kind:    kind,
		Mobile:  m,
		Fixture: f.Serial,
		DefID:   f.Def.ID,
		Map:     mapID,
		Pos:     at,
		Reason:  reason,
	})
}

func (p *Protocol) publish(ev Event) {
	if p.OnEvent != nil {
		p.OnEvent(ev)
	}
}
