package fixture

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/rules"
	"fixturecraft.ai/internal/sim/sched"
	"fixturecraft.ai/internal/sim/tuning"
)

var (
	ErrUnknownFixture = errors.New("unknown fixture definition")
	ErrNotDeed        = errors.New("item is not a deed")
	ErrDropRejected   = errors.New("drop rejected")
)

// UseRange is how close an actor must stand to use a component.
const UseRange = 2

type Config struct {
	MaterializeDelay uint64
	ChopRange        int

	TourneyFailHue int
	TourneyPassHue int
	TourneyRevert  uint64

	BurnInterval    uint64
	FuelPerKindling int
	BellowsRelock   uint64
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		MaterializeDelay: t.Ticks(t.Fixtures.MaterializeDelayMs),
		ChopRange:        t.Fixtures.ChopRange,
		TourneyFailHue:   t.Tourney.FailHue,
		TourneyPassHue:   t.Tourney.PassHue,
		TourneyRevert:    t.Ticks(t.Tourney.RevertMs),
		BurnInterval:     t.Ticks(t.Fireplace.BurnIntervalMs),
		FuelPerKindling:  t.Fireplace.FuelPerKindling,
		BellowsRelock:    t.Ticks(t.Bellows.RelockMs),
	}
}

type Deps struct {
	Sched    *sched.Scheduler
	Serials  host.Serials
	Items    host.Items
	Actors   host.Actors
	Owners   host.Ownership
	Hands    rules.Hands
	Catalogs *catalogs.Catalogs
	Log      *log.Logger
}

// Registry owns every live fixture and component. Components refer to their
// fixture by serial and resolve it here.
type Registry struct {
	Deps
	cfg   Config
	sched *sched.Scheduler

	fixtures   map[model.Serial]*Fixture
	components map[model.Serial]*Component
	onDelete   []func(*Fixture)
	onNotice   []func(Notice)
	// chopPreview returns a chopped preview to its placer as a deed.
	chopPreview func(*Fixture) bool
}

type NoticeKind string

const (
	NoticeRedeemed    NoticeKind = "CHOP_REDEEM"
	NoticeDestroyed   NoticeKind = "CHOP_DESTROY"
	NoticeDropped     NoticeKind = "DROP_CONVERT"
	NoticeRulesPassed NoticeKind = "RULES_PASS"
	NoticeRulesFailed NoticeKind = "RULES_FAIL"
)

// Notice reports a player-visible outcome worth recording. Fixture may
// already be deleted when the notice is delivered; Mobile is nil for drops
// onto the ground or into a container.
type Notice struct {
	Kind    NoticeKind
	Fixture *Fixture
	Mobile  *model.Mobile
	Detail  string
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = log.Default()
	}
	return &Registry{
		Deps:       deps,
		cfg:        cfg,
		sched:      deps.Sched,
		fixtures:   map[model.Serial]*Fixture{},
		components: map[model.Serial]*Component{},
	}
}

func (r *Registry) Config() Config { return r.cfg }

// OnDelete registers fn to run after any fixture is deleted.
func (r *Registry) OnDelete(fn func(*Fixture)) {
	r.onDelete = append(r.onDelete, fn)
}

// OnPreviewChop sets the handler that takes back a fixture chopped while
// still in preview. It must delete the fixture and hand its placer exactly
// one deed, and report false when it did nothing.
func (r *Registry) OnPreviewChop(fn func(*Fixture) bool) {
	r.chopPreview = fn
}

// OnNotice registers fn to receive chop, drop and rule-check outcomes.
func (r *Registry) OnNotice(fn func(Notice)) {
	r.onNotice = append(r.onNotice, fn)
}

func (r *Registry) notify(n Notice) {
	for _, fn := range r.onNotice {
		fn(n)
	}
}

func (r *Registry) Fixture(s model.Serial) *Fixture {
	f := r.fixtures[s]
	if f == nil || f.deleted {
		return nil
	}
	return f
}

func (r *Registry) Component(s model.Serial) *Component {
	c := r.components[s]
	if c == nil || c.deleted {
		return nil
	}
	return c
}

// All returns live fixtures ordered by serial.
func (r *Registry) All() []*Fixture {
	out := make([]*Fixture, 0, len(r.fixtures))
	for _, f := range r.fixtures {
		if !f.deleted {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// ComponentsAt lists materialized components standing on column (x, y).
func (r *Registry) ComponentsAt(m model.MapID, x, y int) []*Component {
	var out []*Component
	for _, c := range r.components {
		if c.deleted || c.m != m || c.pos.X != x || c.pos.Y != y {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Obstacles reports the components standing on (x, y) as impassable tiles,
// for the host's collision checks.
func (r *Registry) Obstacles(m model.MapID, x, y int) []host.StaticTile {
	var out []host.StaticTile
	for _, c := range r.ComponentsAt(m, x, y) {
		out = append(out, host.StaticTile{
			ItemID: c.ItemID(),
			Z:      c.pos.Z,
			Height: c.Height,
			Flags:  host.FlagImpassable,
		})
	}
	return out
}

// Create builds a fixture off world from its definition. Components are
// attached through AddComponent and so materialize after the usual delay.
func (r *Registry) Create(defID, orientation, resource string) (*Fixture, error) {
	def, ok := r.Catalogs.Fixtures.ByID[defID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFixture, defID)
	}
	layout, err := def.Layout(orientation)
	if err != nil {
		return nil, err
	}
	f := r.newFixture(r.Serials.Next(), def, orientation, resource)
	for _, cd := range layout {
		c := r.newComponent(r.Serials.Next(), f, cd)
		off := model.FromArray(cd.Offset)
		f.AddComponent(c, off.X, off.Y, off.Z)
	}
	return f, nil
}

func (r *Registry) newFixture(s model.Serial, def catalogs.FixtureDef, orientation, resource string) *Fixture {
	f := &Fixture{
		Serial:      s,
		Def:         def,
		Orientation: orientation,
		Resource:    resource,
		ShareHue:    def.ShareHue,
		Redeemable:  def.Redeemable,
		Movable:     def.Movable,
		Decorative:  def.Decorative,
		Aux:         map[string]int{},
		hue:         def.Hue,
		m:           model.MapInternal,
		reg:         r,
	}
	f.behavior = r.newBehavior(f)
	r.fixtures[s] = f
	return f
}

func (r *Registry) newComponent(s model.Serial, f *Fixture, cd catalogs.ComponentDef) *Component {
	c := &Component{
		Serial:    s,
		Kind:      cd.Kind,
		Name:      cd.Name,
		Height:    cd.Height,
		Secondary: cd.Secondary,
		Primary:   cd.Primary,
		Graphics:  [2]int{cd.ItemID, cd.ActiveItemID},
		hue:       cd.Hue,
		reg:       r,
	}
	if c.Name == "" {
		c.Name = r.Catalogs.Items.Name(cd.Kind)
	}
	if f.ShareHue && !c.Secondary && f.hue != 0 {
		c.hue = f.hue
	}
	return c
}

// FromDeed produces one new fixture from a deed's payload. Every call yields
// an independent fixture.
func (r *Registry) FromDeed(deed *model.Item) (*Fixture, error) {
	if !deed.Valid() || deed.Deed == nil {
		return nil, ErrNotDeed
	}
	d := deed.Deed
	f, err := r.Create(d.FixtureID, d.Orientation, d.Resource)
	if err != nil {
		return nil, err
	}
	f.Redeemable = d.Redeemable
	for k, v := range d.Aux {
		f.Aux[k] = v
	}
	if d.Hue != 0 {
		f.SetHue(d.Hue)
	}
	if f.behavior != nil {
		f.behavior.Restore(f)
	}
	return f, nil
}

// Redeed produces a fresh deed carrying the fixture's construction payload
// and auxiliary state. Each call creates a new item.
func (f *Fixture) Redeed() *model.Item {
	if f.behavior != nil {
		f.behavior.Save(f)
	}
	it := f.reg.Items.NewItem(model.KindDeed)
	it.Name = deedName(f.Def)
	it.Hue = f.hue
	it.Deed = (&model.DeedData{
		FixtureID:   f.Def.ID,
		Orientation: f.Orientation,
		Resource:    f.Resource,
		Redeemable:  f.Redeemable,
		Hue:         f.hue,
		Aux:         f.Aux,
	}).Clone()
	return it
}

func deedName(def catalogs.FixtureDef) string {
	if def.DeedName != "" {
		return def.DeedName
	}
	return def.Name + " deed"
}

type ChopResult int

const (
	ChopNothing ChopResult = iota
	ChopTooFar
	ChopDenied
	ChopRedeemed
	ChopDestroyed
)

func (c ChopResult) String() string {
	switch c {
	case ChopTooFar:
		return "too_far"
	case ChopDenied:
		return "denied"
	case ChopRedeemed:
		return "redeemed"
	case ChopDestroyed:
		return "destroyed"
	}
	return "nothing"
}

// OnChop removes the fixture on behalf of m: redeemable fixtures come back
// as a deed, the rest are destroyed. A preview always comes back as the
// deed that was spent on it.
func (f *Fixture) OnChop(m *model.Mobile) ChopResult {
	if f.Deleted() || !m.Valid() {
		return ChopNothing
	}
	r := f.reg
	if m.Map != f.m || !f.withinReach(m.Pos, r.cfg.ChopRange) {
		r.Actors.Message(m, "That is too far away.")
		return ChopTooFar
	}
	if !f.MayRemove(m) {
		r.Actors.Message(m, "You may only remove fixtures from a house you own.")
		return ChopDenied
	}
	m0, at := f.m, f.pos
	if f.Preview && r.chopPreview != nil && r.chopPreview(f) {
		r.notify(Notice{Kind: NoticeRedeemed, Fixture: f, Mobile: m, Detail: "preview"})
		return ChopRedeemed
	}
	if !f.Redeemable && !f.Preview {
		f.Delete()
		r.notify(Notice{Kind: NoticeDestroyed, Fixture: f, Mobile: m})
		return ChopDestroyed
	}
	deed := f.Redeed()
	f.Delete()
	switch r.Actors.Deliver(m, deed, m0, at) {
	case host.DeliveredToPack:
		r.Actors.Message(m, "A deed for the fixture has been placed in your backpack.")
	default:
		r.Actors.Message(m, "Your backpack is full; the deed lies at your feet.")
	}
	r.notify(Notice{Kind: NoticeRedeemed, Fixture: f, Mobile: m, Detail: fmt.Sprintf("deed %d", deed.Serial)})
	return ChopRedeemed
}

func (f *Fixture) withinReach(p model.Vec3i, rng int) bool {
	if model.InRange(p, f.pos, rng) {
		return true
	}
	for _, c := range f.components {
		if model.InRange(p, c.pos, rng) {
			return true
		}
	}
	return false
}

// MayRemove reports whether m may chop or pack up the fixture: staff always,
// otherwise the owner of the house it stands in, or the township mayor.
func (f *Fixture) MayRemove(m *model.Mobile) bool {
	if m.AccessLevel.Elevated() {
		return true
	}
	r := f.reg
	if h := r.Owners.HouseAt(f.m, f.pos); h != nil {
		return h.IsOwner(m)
	}
	if t := r.Owners.TownshipAt(f.m, f.pos); t != nil {
		return t.IsOwner(m)
	}
	return false
}

// Drop turns a movable, redeemable fixture into its deed at target. Either
// the deed lands and the fixture is gone, or nothing changes.
func (r *Registry) Drop(f *Fixture, target host.DropTarget) (*model.Item, error) {
	if f.Deleted() {
		return nil, fmt.Errorf("%w: fixture deleted", ErrDropRejected)
	}
	if !f.Movable || !f.Redeemable {
		return nil, fmt.Errorf("%w: %s cannot be packed up", ErrDropRejected, f.Name())
	}
	deed := f.Redeed()
	if err := r.Items.Place(deed, target); err != nil {
		r.Items.DeleteItem(deed)
		return nil, fmt.Errorf("%w: %w", ErrDropRejected, err)
	}
	f.Delete()
	r.notify(Notice{Kind: NoticeDropped, Fixture: f, Mobile: target.Mobile, Detail: fmt.Sprintf("deed %d", deed.Serial)})
	return deed, nil
}

type UseResult int

const (
	UseIgnored UseResult = iota
	UseTooFar
	UseHandled
)

// Use routes a double-click on a component to its fixture's behavior.
func (r *Registry) Use(c *Component, m *model.Mobile) UseResult {
	f := c.Parent()
	if c.Deleted() || f == nil || !m.Valid() {
		return UseIgnored
	}
	if f.Decorative || f.Preview || f.behavior == nil {
		return UseIgnored
	}
	if m.Map != c.m || !model.InRange(m.Pos, c.pos, UseRange) {
		r.Actors.Message(m, "I can't reach that.")
		return UseTooFar
	}
	f.behavior.Use(f, c, m)
	return UseHandled
}

func (r *Registry) forget(f *Fixture) {
	delete(r.fixtures, f.Serial)
	f.syncHouseDoor()
	if f.HouseID != "" && r.Owners != nil {
		if h := r.Owners.HouseByID(f.HouseID); h != nil {
			h.RemoveFixture(f.Serial)
		}
	}
	for _, fn := range r.onDelete {
		fn(f)
	}
}
