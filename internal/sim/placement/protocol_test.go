package placement

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/fit"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/sched"
	"fixturecraft.ai/internal/sim/world"
)

const fel = model.MapID("felucca")

var testConfig = Config{PollInterval: 4, MaxPolls: 30, MaxRange: 13}

type harness struct {
	w      *world.World
	s      *sched.Scheduler
	reg    *fixture.Registry
	p      *Protocol
	owner  *model.Mobile
	house  *model.House
	events []Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	require.NoError(t, err)

	w := world.New(cats, nil)
	w.AddMap(fel, 128, 128, 0)
	s := sched.New(nil)
	reg := fixture.NewRegistry(fixture.Config{MaterializeDelay: 3, ChopRange: 3}, fixture.Deps{
		Sched:    s,
		Serials:  w,
		Items:    w,
		Actors:   w,
		Owners:   w,
		Hands:    w,
		Catalogs: cats,
	})
	w.SetObstacles(reg.Obstacles)

	h := &harness{w: w, s: s, reg: reg}
	h.p = New(cfg, Deps{
		Sched:    s,
		Registry: reg,
		Actors:   w,
		Items:    w,
		Zones:    w,
		Fit:      fit.Validator{Spatial: w, Owners: w},
		OnEvent:  func(ev Event) { h.events = append(h.events, ev) },
	})
	h.owner = w.AddMobile("owner", fel, model.Vec3i{X: 10, Y: 10}, model.AccessPlayer)
	h.house = &model.House{ID: "h1", Map: fel, Owner: h.owner.Serial, Areas: []model.Rect{{X1: 0, Y1: 0, X2: 40, Y2: 40}}, MaxZ: 60}
	require.NoError(t, w.AddHouse(h.house))
	return h
}

func (h *harness) deed(t *testing.T, m *model.Mobile, defID, orientation string) *model.Item {
	t.Helper()
	d, err := h.w.NewDeed(defID, orientation)
	require.NoError(t, err)
	m.Backpack.Add(d)
	return d
}

func (h *harness) advance(ticks int) {
	for i := 0; i < ticks; i++ {
		h.s.Advance()
	}
}

func (h *harness) polls(n int) { h.advance(n * int(testConfig.PollInterval)) }

func deedsIn(m *model.Mobile, defID string) int {
	n := 0
	for _, it := range m.Backpack.Items {
		if it.Valid() && it.Deed != nil && it.Deed.FixtureID == defID {
			n++
		}
	}
	return n
}

// startPreview takes a bench deed through to Previewing at (12, 10).
func (h *harness) startPreview(t *testing.T) *fixture.Fixture {
	t.Helper()
	return h.startPreviewAt(t, model.Vec3i{X: 12, Y: 10})
}

func (h *harness) startPreviewAt(t *testing.T, at model.Vec3i) *fixture.Fixture {
	t.Helper()
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))
	require.NoError(t, h.p.Target(h.owner, fel, at))
	s := h.p.Session(h.owner.Serial)
	require.NotNil(t, s)
	require.Equal(t, Previewing, s.State)
	f := h.reg.Fixture(s.Fixture)
	require.NotNil(t, f)
	return f
}

func TestUseDeedMustBeInPack(t *testing.T) {
	h := newHarness(t, testConfig)
	d, err := h.w.NewDeed("bench", "east")
	require.NoError(t, err)

	err = h.p.UseDeed(h.owner, d)
	assert.ErrorIs(t, err, ErrNotInPack)
	assert.Nil(t, h.p.Session(h.owner.Serial))
	assert.Contains(t, h.w.LastMessage(h.owner.Serial), "pack")

	assert.ErrorIs(t, h.p.UseDeed(h.owner, h.w.NewItem("Bandage")), ErrNotDeed)
}

func TestSimplePlacementConfirmsOnExpiry(t *testing.T) {
	cfg := testConfig
	cfg.ConfirmOnExpiry = true
	h := newHarness(t, cfg)
	f := h.startPreview(t)

	assert.True(t, f.Preview)
	assert.Equal(t, model.Vec3i{X: 12, Y: 10}, f.Location())
	assert.Equal(t, 0, deedsIn(h.owner, "bench"), "deed consumed on preview")
	assert.Equal(t, 1, h.p.Previews().Len())
	assert.True(t, h.house.Fixtures[f.Serial])

	h.polls(cfg.MaxPolls)
	assert.False(t, f.Preview)
	assert.False(t, f.Deleted())
	assert.Equal(t, 0, h.p.Previews().Len())
	assert.Nil(t, h.p.Session(h.owner.Serial))
	assert.Equal(t, EventPlaced, h.events[len(h.events)-1].Kind)
}

func TestExpiryRollsBackByDefault(t *testing.T) {
	h := newHarness(t, testConfig)
	f := h.startPreview(t)

	h.polls(testConfig.MaxPolls - 1)
	require.True(t, f.Preview)
	h.polls(1)
	assert.True(t, f.Deleted())
	assert.Equal(t, 1, deedsIn(h.owner, "bench"))
	assert.Equal(t, 0, h.p.Previews().Len())
	assert.False(t, h.house.Fixtures[f.Serial])
}

func TestDialogAnswers(t *testing.T) {
	h := newHarness(t, testConfig)
	f := h.startPreview(t)
	require.True(t, h.w.Answer(h.owner.Serial, true))
	assert.False(t, f.Preview)
	assert.Equal(t, 0, h.p.Previews().Len())

	h.polls(testConfig.MaxPolls + 1)
	assert.False(t, f.Deleted(), "confirmed fixture must survive the old timer")

	g := h.startPreviewAt(t, model.Vec3i{X: 8, Y: 10})
	require.True(t, h.w.Answer(h.owner.Serial, false))
	assert.True(t, g.Deleted())
	assert.Equal(t, 1, deedsIn(h.owner, "bench"))
}

func TestOnePreviewPerMobile(t *testing.T) {
	h := newHarness(t, testConfig)
	h.startPreview(t)
	assert.False(t, h.p.CanPlace(h.owner))

	second := h.deed(t, h.owner, "market_stall", "south")
	assert.ErrorIs(t, h.p.UseDeed(h.owner, second), ErrAlreadyPlacing)
	assert.Equal(t, Previewing, h.p.Session(h.owner.Serial).State)
}

func TestDisconnectRollsBack(t *testing.T) {
	h := newHarness(t, testConfig)
	f := h.startPreview(t)

	h.polls(2)
	require.True(t, f.Preview)
	h.w.SetConnected(h.owner, false)
	h.polls(1)

	assert.True(t, f.Deleted())
	assert.Equal(t, 1, deedsIn(h.owner, "bench"))
	_, ok := h.p.Previews().Get(f.Serial)
	assert.False(t, ok)
}

func TestCancelConditions(t *testing.T) {
	cases := map[string]func(h *harness){
		"death":    func(h *harness) { h.w.Kill(h.owner) },
		"distance": func(h *harness) { h.owner.Pos = model.Vec3i{X: 40, Y: 40} },
		"map":      func(h *harness) { h.owner.Map = "trammel" },
	}
	for name, act := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testConfig)
			f := h.startPreview(t)
			act(h)
			h.polls(1)
			assert.True(t, f.Deleted())
			assert.Equal(t, 1, deedsIn(h.owner, "bench"))
		})
	}
}

func TestRollbackDropsWhenPlacerGone(t *testing.T) {
	h := newHarness(t, testConfig)
	f := h.startPreview(t)
	at := f.Location()
	h.owner.Deleted = true

	require.True(t, h.p.Rollback(f.Serial))
	var found bool
	for _, it := range h.w.WorldItems() {
		if it.Deed != nil && it.Pos == at {
			found = true
		}
	}
	assert.True(t, found, "deed must be dropped where the fixture stood")
}

func TestRollbackIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig)
	f := h.startPreview(t)

	assert.True(t, h.p.Rollback(f.Serial))
	assert.False(t, h.p.Rollback(f.Serial))
	h.polls(2)
	assert.Equal(t, 1, deedsIn(h.owner, "bench"))
}

func TestChopDuringPreviewYieldsOneDeed(t *testing.T) {
	h := newHarness(t, testConfig)
	f := h.startPreview(t)

	assert.Equal(t, fixture.ChopRedeemed, f.OnChop(h.owner))
	assert.Equal(t, 0, h.p.Previews().Len())
	assert.False(t, h.p.Rollback(f.Serial))
	h.polls(testConfig.MaxPolls)
	assert.Equal(t, 1, deedsIn(h.owner, "bench"))
	assert.True(t, h.p.CanPlace(h.owner))
}

func TestChopNonRedeemablePreviewReturnsDeed(t *testing.T) {
	h := newHarness(t, testConfig)
	d := h.deed(t, h.owner, "tourney_stone", "south")
	require.NoError(t, h.p.UseDeed(h.owner, d))
	require.NoError(t, h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10}))
	f := h.reg.Fixture(h.p.Session(h.owner.Serial).Fixture)
	require.NotNil(t, f)
	require.False(t, f.Redeemable)
	assert.Equal(t, 0, deedsIn(h.owner, "tourney_stone"))

	assert.Equal(t, fixture.ChopRedeemed, f.OnChop(h.owner))
	assert.True(t, f.Deleted())
	h.polls(testConfig.MaxPolls + 10)
	assert.Equal(t, 1, deedsIn(h.owner, "tourney_stone"))
	assert.Equal(t, 0, h.p.Previews().Len())
	assert.True(t, h.p.CanPlace(h.owner))
}

func TestOpenDoorBlocksPlacement(t *testing.T) {
	h := newHarness(t, testConfig)
	h.house.Doors = []*model.Door{{Serial: h.w.Next(), Pos: model.Vec3i{X: 13, Y: 10}, Height: 20, Open: true}}
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))

	err := h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10})
	var fe *FitError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fit.DoorsNotClosed, fe.Result)
	assert.Equal(t, fit.DoorsNotClosed.Message(), h.w.LastMessage(h.owner.Serial))
	assert.True(t, h.w.InPack(h.owner, d), "deed kept")
	assert.Empty(t, h.reg.All(), "speculative fixture discarded")
	assert.Nil(t, h.p.Session(h.owner.Serial))

	h.house.Doors[0].Open = false
	require.NoError(t, h.p.UseDeed(h.owner, d))
	err = h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10})
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, fit.DoorTooClose, fe.Result)
	assert.Empty(t, h.reg.All())
}

func TestPlacedGateCountsAsHouseDoor(t *testing.T) {
	h := newHarness(t, testConfig)
	gd := h.deed(t, h.owner, "garden_gate", "south")
	require.NoError(t, h.p.UseDeed(h.owner, gd))
	require.NoError(t, h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 12}))
	gate := h.reg.Fixture(h.p.Session(h.owner.Serial).Fixture)
	require.NotNil(t, gate)
	assert.Empty(t, h.house.Doors, "previews are not house doors")
	require.True(t, h.p.Confirm(gate.Serial))
	require.Len(t, h.house.Doors, 1)
	h.advance(3)

	var panel *fixture.Component
	for _, c := range gate.Components() {
		if c.Primary {
			panel = c
		}
	}
	require.NotNil(t, panel)
	require.Equal(t, fixture.UseHandled, h.reg.Use(panel, h.owner))
	require.True(t, gate.Open())
	assert.True(t, h.house.Door(panel.Serial).Open)

	bench := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, bench))
	var fe *FitError
	require.True(t, errors.As(h.p.Target(h.owner, fel, model.Vec3i{X: 20, Y: 20}), &fe))
	assert.Equal(t, fit.DoorsNotClosed, fe.Result)

	other := h.deed(t, h.owner, "garden_gate", "south")
	require.NoError(t, h.p.UseDeed(h.owner, other))
	require.True(t, errors.As(h.p.Target(h.owner, fel, model.Vec3i{X: 16, Y: 12}), &fe))
	assert.Equal(t, fit.DoorsNotClosed, fe.Result)
	h.p.Cancel(h.owner)

	h.reg.Use(panel, h.owner)
	require.False(t, h.house.Door(panel.Serial).Open)
	require.NoError(t, h.p.UseDeed(h.owner, bench))
	require.True(t, errors.As(h.p.Target(h.owner, fel, model.Vec3i{X: 13, Y: 12}), &fe))
	assert.Equal(t, fit.DoorTooClose, fe.Result)

	assert.Equal(t, fixture.ChopRedeemed, gate.OnChop(h.owner))
	assert.Empty(t, h.house.Doors)
}

func TestCollisionReportedBeforeDoor(t *testing.T) {
	h := newHarness(t, testConfig)
	h.house.Doors = []*model.Door{{Serial: h.w.Next(), Pos: model.Vec3i{X: 13, Y: 10}, Height: 20, Open: true}}
	h.w.AddWall(fel, [2]int{12, 11}, [2]int{12, 11}, 0, 20, 1)
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))

	var fe *FitError
	require.True(t, errors.As(h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10}), &fe))
	assert.Equal(t, fit.Blocked, fe.Result)
}

func TestNotInHouse(t *testing.T) {
	h := newHarness(t, testConfig)
	h.owner.Pos = model.Vec3i{X: 50, Y: 50}
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))

	var fe *FitError
	require.True(t, errors.As(h.p.Target(h.owner, fel, model.Vec3i{X: 52, Y: 50}), &fe))
	assert.Equal(t, fit.NotInHouse, fe.Result)
	assert.True(t, h.w.InPack(h.owner, d))
}

func TestZoneRulesComeFirst(t *testing.T) {
	h := newHarness(t, testConfig)
	mayor := h.w.AddMobile("mayor", fel, model.Vec3i{}, model.AccessPlayer)
	h.w.AddTownship(&model.Township{ID: "t", Map: fel, Area: model.Rect{X1: 45, Y1: 45, X2: 90, Y2: 90}, Mayor: mayor.Serial})
	h.owner.Pos = model.Vec3i{X: 50, Y: 50}
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))

	assert.ErrorIs(t, h.p.Target(h.owner, fel, model.Vec3i{X: 52, Y: 50}), ErrZone)
	assert.Contains(t, h.w.LastMessage(h.owner.Serial), "township")
	assert.True(t, h.w.InPack(h.owner, d))
	assert.Empty(t, h.reg.All())
}

func TestTargetingSelfAndRange(t *testing.T) {
	h := newHarness(t, testConfig)
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))

	require.NoError(t, h.p.Target(h.owner, fel, h.owner.Pos))
	assert.Equal(t, Targeting, h.p.Session(h.owner.Serial).State)
	assert.Contains(t, h.w.LastMessage(h.owner.Serial), "Step aside")

	assert.ErrorIs(t, h.p.Target(h.owner, fel, model.Vec3i{X: 30, Y: 30}), ErrOutOfRange)
	assert.Equal(t, Targeting, h.p.Session(h.owner.Serial).State)

	h.p.Cancel(h.owner)
	assert.ErrorIs(t, h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10}), ErrNotTargeting)
}

func TestDeedRemovedWhileTargeting(t *testing.T) {
	h := newHarness(t, testConfig)
	d := h.deed(t, h.owner, "bench", "east")
	require.NoError(t, h.p.UseDeed(h.owner, d))
	h.w.DeleteItem(d)
	assert.ErrorIs(t, h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10}), ErrNotInPack)
}

func TestPairedDeed(t *testing.T) {
	h := newHarness(t, testConfig)
	d := h.deed(t, h.owner, "teleporter_pair", "south")
	require.NoError(t, h.p.UseDeed(h.owner, d))

	require.NoError(t, h.p.Target(h.owner, fel, model.Vec3i{X: 12, Y: 10}))
	assert.Equal(t, Targeting, h.p.Session(h.owner.Serial).State)
	require.NoError(t, h.p.Target(h.owner, fel, model.Vec3i{X: 16, Y: 14}))

	s := h.p.Session(h.owner.Serial)
	require.Equal(t, Previewing, s.State)
	a := h.reg.Fixture(s.Fixture)
	b := h.reg.Fixture(a.Link)
	require.NotNil(t, b)
	assert.Equal(t, a.Serial, b.Link)
	assert.Equal(t, 2, h.p.Previews().Len())

	require.True(t, h.p.Rollback(b.Serial))
	assert.True(t, a.Deleted())
	assert.True(t, b.Deleted())
	assert.Equal(t, 1, deedsIn(h.owner, "teleporter_pair"))
	assert.Equal(t, 0, h.p.Previews().Len())
}

type memStore struct{ entries []Entry }

func (m *memStore) SavePreviews(_ context.Context, es []Entry) error {
	m.entries = append([]Entry(nil), es...)
	return nil
}

func (m *memStore) LoadPreviews(context.Context) ([]Entry, error) {
	return append([]Entry(nil), m.entries...), nil
}

func TestRestartSweep(t *testing.T) {
	h := newHarness(t, testConfig)
	other := h.w.AddMobile("other", fel, model.Vec3i{X: 20, Y: 20}, model.AccessPlayer)
	gone := h.w.AddMobile("gone", fel, model.Vec3i{X: 30, Y: 30}, model.AccessPlayer)

	live := h.startPreview(t)
	orphaned, err := h.reg.Create("lamp_post", "south", "")
	require.NoError(t, err)
	orphaned.Preview = true
	orphaned.MoveToWorld(model.Vec3i{X: 30, Y: 31}, fel)
	ghost := h.w.Next()

	store := &memStore{entries: []Entry{
		{Fixture: live.Serial, Mobile: h.owner.Serial},
		{Fixture: orphaned.Serial, Mobile: gone.Serial},
		{Fixture: ghost, Mobile: other.Serial},
	}}
	gone.Deleted = true

	// A fresh protocol stands in for the restarted process.
	restarted := New(testConfig, h.p.Deps)
	rep, err := restarted.Startup(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{RolledBack: 1, Stale: 2}, rep)
	assert.True(t, live.Deleted())
	assert.True(t, orphaned.Deleted())
	assert.Equal(t, 1, deedsIn(h.owner, "bench"))
	assert.Empty(t, store.entries)
	assert.Equal(t, 0, restarted.Previews().Len())
}

func TestSweepDeletesUnlistedPreviews(t *testing.T) {
	h := newHarness(t, testConfig)
	f, err := h.reg.Create("bench", "south", "")
	require.NoError(t, err)
	f.Preview = true

	rep := h.p.Sweep(nil)
	assert.Equal(t, 1, rep.Orphans)
	assert.True(t, f.Deleted())
}
