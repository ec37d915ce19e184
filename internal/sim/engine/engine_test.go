package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecraft.ai/internal/persistence/snapshot"
	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/placement"
	"fixturecraft.ai/internal/sim/world"
)

var testCfg = Config{
	WorldID:    "test",
	TickRateHz: 4,
	Fixture:    fixture.Config{MaterializeDelay: 3, ChopRange: 3},
	Placement:  placement.Config{PollInterval: 4, MaxPolls: 30, MaxRange: 13},
}

func testLayout() world.Layout {
	l := world.Layout{
		Maps: []world.MapSpec{{ID: "felucca", Width: 128, Height: 128}},
		Mobiles: []world.MobileSpec{
			{Name: "owner", Map: "felucca", Pos: [3]int{10, 10, 0}, Pack: []world.ItemSpec{{Deed: "bench", Orientation: "east"}}},
			{Name: "guest", Map: "felucca", Pos: [3]int{90, 90, 0}},
		},
		Houses: []world.HouseSpec{{
			ID: "h1", Map: "felucca", Owner: "owner",
			Areas: [][4]int{{0, 0, 40, 40}},
			Doors: []world.DoorSpec{{Pos: [3]int{20, 41, 0}}},
		}},
	}
	l.Normalize()
	return l
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	require.NoError(t, err)
	e, err := New(testCfg, testLayout(), cats, nil)
	require.NoError(t, err)
	return e
}

type client struct {
	id  string
	out chan []byte
}

func join(t *testing.T, e *Engine, name string, observer bool) (client, JoinResponse) {
	t.Helper()
	c := client{out: make(chan []byte, 64)}
	req := JoinRequest{Name: name, Observer: observer, Out: c.out, Resp: make(chan JoinResponse, 1)}
	e.StepOnce([]JoinRequest{req}, nil, nil)
	resp := <-req.Resp
	c.id = resp.ClientID
	return c, resp
}

func act(e *Engine, c client, reqs ...protocol.ActionReq) {
	e.StepOnce(nil, nil, []ActionEnvelope{{
		ClientID: c.id,
		Act:      protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Actions: reqs},
	}})
}

// drain decodes everything queued for c.
func drain(t *testing.T, c client) (acks []protocol.AckMsg, events []protocol.Event) {
	t.Helper()
	for {
		select {
		case b := <-c.out:
			base, err := protocol.DecodeBase(b)
			require.NoError(t, err)
			switch base.Type {
			case protocol.TypeAck:
				var a protocol.AckMsg
				require.NoError(t, json.Unmarshal(b, &a))
				acks = append(acks, a)
			case protocol.TypeEvent:
				var m protocol.EventMsg
				require.NoError(t, json.Unmarshal(b, &m))
				events = append(events, m.Events...)
			}
		default:
			return acks, events
		}
	}
}

func eventTypes(evs []protocol.Event) []string {
	var out []string
	for _, ev := range evs {
		out = append(out, ev["type"].(string))
	}
	return out
}

func deedOf(m *model.Mobile, defID string) *model.Item {
	for _, it := range m.Backpack.Items {
		if it.Valid() && it.Deed != nil && it.Deed.FixtureID == defID {
			return it
		}
	}
	return nil
}

// preview joins as owner and takes the bench deed to a preview at (12, 10).
func preview(t *testing.T, e *Engine) (client, *fixture.Fixture) {
	t.Helper()
	c, resp := join(t, e, "owner", false)
	require.Empty(t, resp.Code)
	owner := e.World().MobileByName("owner")
	deed := deedOf(owner, "bench")
	require.NotNil(t, deed)

	act(e, c,
		protocol.ActionReq{ID: "a1", Type: protocol.ActUseDeed, Item: uint64(deed.Serial)},
		protocol.ActionReq{ID: "a2", Type: protocol.ActTarget, Map: "felucca", Pos: [3]int{12, 10, 0}},
	)
	acks, _ := drain(t, c)
	require.Len(t, acks, 2)
	for _, a := range acks {
		require.True(t, a.Accepted, "%s: %s", a.AckFor, a.Message)
	}
	s := e.Placement().Session(owner.Serial)
	require.NotNil(t, s)
	f := e.Registry().Fixture(s.Fixture)
	require.NotNil(t, f)
	require.True(t, f.Preview)
	return c, f
}

type memStore struct{ entries []placement.Entry }

func (s *memStore) SavePreviews(_ context.Context, es []placement.Entry) error {
	s.entries = append([]placement.Entry(nil), es...)
	return nil
}

func (s *memStore) LoadPreviews(context.Context) ([]placement.Entry, error) {
	return append([]placement.Entry(nil), s.entries...), nil
}

type recorder struct {
	ticks  []TickLogEntry
	audits []AuditEntry
}

func (r *recorder) WriteTick(e TickLogEntry) error { r.ticks = append(r.ticks, e); return nil }
func (r *recorder) WriteAudit(e AuditEntry) error  { r.audits = append(r.audits, e); return nil }

func TestNewStartsDisconnected(t *testing.T) {
	e := newTestEngine(t)
	for _, m := range e.World().Mobiles() {
		assert.False(t, m.Connected, m.Name)
	}
}

func TestJoinBindsMobileByName(t *testing.T) {
	e := newTestEngine(t)

	c, resp := join(t, e, "owner", false)
	require.Empty(t, resp.Code)
	assert.Equal(t, "C1", c.id)
	owner := e.World().MobileByName("owner")
	assert.Equal(t, uint64(owner.Serial), resp.Welcome.Mobile)
	assert.Equal(t, [3]int{10, 10, 0}, resp.Welcome.Pos)
	assert.Equal(t, "test", resp.Welcome.WorldID)
	assert.Equal(t, 13, resp.Welcome.WorldParams.MaxRange)
	assert.NotEmpty(t, resp.Welcome.Catalogs.FixturesDigest)
	assert.True(t, owner.Connected)

	_, busy := join(t, e, "owner", false)
	assert.Equal(t, protocol.ErrMobileBusy, busy.Code)

	_, unknown := join(t, e, "nobody", false)
	assert.Equal(t, protocol.ErrUnknownMobile, unknown.Code)

	obs, resp := join(t, e, "", true)
	require.Empty(t, resp.Code)
	assert.Zero(t, resp.Welcome.Mobile)
	assert.NotEqual(t, c.id, obs.id)

	e.StepOnce(nil, []string{c.id}, nil)
	assert.False(t, owner.Connected)
	again, resp := join(t, e, "owner", false)
	require.Empty(t, resp.Code)
	assert.NotEqual(t, c.id, again.id)
}

func TestPlaceAndConfirmThroughActions(t *testing.T) {
	e := newTestEngine(t)
	c, f := preview(t, e)
	owner := e.World().MobileByName("owner")
	_, ok := e.World().PendingPrompt(owner.Serial)
	require.True(t, ok)

	act(e, c, protocol.ActionReq{ID: "a3", Type: protocol.ActAnswer, Accept: true})
	acks, evs := drain(t, c)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted)
	assert.Contains(t, eventTypes(evs), protocol.EventPlaced)

	assert.False(t, f.Preview)
	assert.Zero(t, e.Placement().Previews().Len())
	assert.Nil(t, deedOf(owner, "bench"))
	assert.True(t, e.World().HouseByID("h1").Fixtures[f.Serial])

	// Nothing left to answer.
	act(e, c, protocol.ActionReq{ID: "a4", Type: protocol.ActAnswer, Accept: true})
	acks, _ = drain(t, c)
	require.Len(t, acks, 1)
	assert.Equal(t, protocol.ErrStale, acks[0].Code)
}

func TestDropPacksFixtureIntoPack(t *testing.T) {
	e := newTestEngine(t)
	c, f := preview(t, e)
	act(e, c, protocol.ActionReq{ID: "a3", Type: protocol.ActAnswer, Accept: true})
	drain(t, c)

	act(e, c, protocol.ActionReq{ID: "d1", Type: protocol.ActDrop, Fixture: uint64(f.Serial)})
	acks, _ := drain(t, c)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted, acks[0].Message)
	assert.True(t, f.Deleted())
	assert.NotNil(t, deedOf(e.World().MobileByName("owner"), "bench"))
}

func TestLeaveRollsBackPreview(t *testing.T) {
	e := newTestEngine(t)
	c, f := preview(t, e)
	owner := e.World().MobileByName("owner")

	e.StepOnce(nil, []string{c.id}, nil)
	for i := 0; i < int(testCfg.Placement.PollInterval); i++ {
		e.StepOnce(nil, nil, nil)
	}
	assert.True(t, f.Deleted())
	assert.Zero(t, e.Placement().Previews().Len())
	assert.NotNil(t, deedOf(owner, "bench"))
}

func TestActionErrorsMapToCodes(t *testing.T) {
	e := newTestEngine(t)
	c, _ := join(t, e, "guest", false)

	owner := e.World().MobileByName("owner")
	act(e, c,
		protocol.ActionReq{ID: "x1", Type: "SING"},
		protocol.ActionReq{ID: "x2", Type: protocol.ActUseDeed, Item: uint64(deedOf(owner, "bench").Serial)},
		protocol.ActionReq{ID: "x3", Type: protocol.ActTarget, Pos: [3]int{1, 1, 0}},
		protocol.ActionReq{ID: "x4", Type: protocol.ActChop, Fixture: 999999},
		protocol.ActionReq{ID: "x5", Type: protocol.ActMove, Map: "trammel", Pos: [3]int{1, 1, 0}},
		protocol.ActionReq{ID: "x6", Type: protocol.ActMove, Pos: [3]int{11, 10, 0}},
	)
	acks, _ := drain(t, c)
	require.Len(t, acks, 6)
	assert.Equal(t, protocol.ErrBadRequest, acks[0].Code)
	assert.Equal(t, protocol.ErrInvalidTarget, acks[1].Code)
	assert.Equal(t, protocol.ErrStale, acks[2].Code)
	assert.Equal(t, protocol.ErrInvalidTarget, acks[3].Code)
	assert.Equal(t, protocol.ErrInvalidTarget, acks[4].Code)
	assert.True(t, acks[5].Accepted)
	for _, a := range acks {
		assert.True(t, protocol.IsKnownCode(a.Code), a.Code)
	}
	assert.Equal(t, model.Vec3i{X: 11, Y: 10}, e.World().MobileByName("guest").Pos)
}

func TestChopNeedsOwnership(t *testing.T) {
	e := newTestEngine(t)
	c, f := preview(t, e)
	act(e, c, protocol.ActionReq{ID: "a3", Type: protocol.ActAnswer, Accept: true})
	drain(t, c)

	g, _ := join(t, e, "guest", false)
	act(e, g, protocol.ActionReq{ID: "c1", Type: protocol.ActChop, Fixture: uint64(f.Serial)})
	acks, _ := drain(t, g)
	require.Len(t, acks, 1)
	assert.Equal(t, protocol.ErrOutOfRange, acks[0].Code)

	act(e, g,
		protocol.ActionReq{ID: "m1", Type: protocol.ActMove, Pos: [3]int{13, 11, 0}},
		protocol.ActionReq{ID: "c2", Type: protocol.ActChop, Fixture: uint64(f.Serial)},
	)
	acks, _ = drain(t, g)
	require.Len(t, acks, 2)
	assert.Equal(t, protocol.ErrNoPermission, acks[1].Code)
	assert.False(t, f.Deleted())

	act(e, c, protocol.ActionReq{ID: "c3", Type: protocol.ActChop, Fixture: uint64(f.Serial)})
	acks, _ = drain(t, c)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted)
	assert.True(t, f.Deleted())
}

func TestObserverSeesEverythingAndCannotAct(t *testing.T) {
	e := newTestEngine(t)
	obs, _ := join(t, e, "", true)
	preview(t, e)

	_, evs := drain(t, obs)
	types := eventTypes(evs)
	assert.Contains(t, types, protocol.EventPreview)
	assert.Contains(t, types, protocol.EventAudit)

	act(e, obs, protocol.ActionReq{ID: "o1", Type: protocol.ActMove, Pos: [3]int{1, 1, 0}})
	acks, _ := drain(t, obs)
	assert.Empty(t, acks)
}

func TestLoggersRecordInputAndAudits(t *testing.T) {
	e := newTestEngine(t)
	rec := &recorder{}
	e.SetTickLogger(rec)
	e.SetAuditLogger(rec)

	c, _ := preview(t, e)
	act(e, c, protocol.ActionReq{ID: "a3", Type: protocol.ActAnswer, Accept: true})

	require.NotEmpty(t, rec.ticks)
	assert.Len(t, rec.ticks[0].Joins, 1)
	assert.Equal(t, "owner", rec.ticks[0].Joins[0].Name)

	var actions []string
	for _, a := range rec.audits {
		actions = append(actions, a.Action)
	}
	assert.Contains(t, actions, "PLACE_PREVIEW")
	assert.Contains(t, actions, "PLACE")
}

func TestCheckpointSavesPreviewsAndSnapshot(t *testing.T) {
	e := newTestEngine(t)
	store := &memStore{}
	sink := make(chan snapshot.SnapshotV1, 1)
	e.SetPreviewStore(store)
	e.SetSnapshotSink(sink)
	_, f := preview(t, e)

	require.NoError(t, e.checkpoint(context.Background(), e.CurrentTick()))
	require.Len(t, store.entries, 1)
	assert.Equal(t, f.Serial, store.entries[0].Fixture)

	snap := <-sink
	assert.Equal(t, e.CurrentTick(), snap.Header.Tick)
	require.Len(t, snap.Fixtures, 1)
	assert.True(t, snap.Fixtures[0].Preview)
}

func TestCheckpointKeepsPreviewsWhenSinkFull(t *testing.T) {
	e := newTestEngine(t)
	store := &memStore{}
	sink := make(chan snapshot.SnapshotV1, 1)
	sink <- snapshot.SnapshotV1{}
	e.SetPreviewStore(store)
	e.SetSnapshotSink(sink)
	preview(t, e)

	require.Error(t, e.checkpoint(context.Background(), e.CurrentTick()))
	assert.Empty(t, store.entries, "previews saved without a matching snapshot")

	<-sink
	require.NoError(t, e.checkpoint(context.Background(), e.CurrentTick()))
	assert.Len(t, store.entries, 1)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	c, f := preview(t, e)
	act(e, c, protocol.ActionReq{ID: "a3", Type: protocol.ActAnswer, Accept: true})
	e.World().HouseByID("h1").Doors[0].Open = true
	snap := e.Snapshot()

	r := newTestEngine(t)
	require.NoError(t, r.Restore(snap))
	assert.Equal(t, e.CurrentTick(), r.CurrentTick())
	assert.Equal(t, e.World().NextSerial(), r.World().NextSerial())

	got := r.Registry().Fixture(f.Serial)
	require.NotNil(t, got)
	assert.Equal(t, f.Location(), got.Location())
	assert.False(t, got.Preview)
	assert.True(t, r.World().HouseByID("h1").Fixtures[f.Serial])
	assert.True(t, r.World().HouseByID("h1").Doors[0].Open)

	owner := r.World().MobileByName("owner")
	require.NotNil(t, owner)
	assert.False(t, owner.Connected)
	assert.Equal(t, owner.Serial, r.World().HouseByID("h1").Owner)

	assert.Error(t, r.Restore(snap), "restoring twice")
}

func TestStartupSweepsRestoredPreview(t *testing.T) {
	e := newTestEngine(t)
	store := &memStore{}
	_, f := preview(t, e)
	require.NoError(t, e.Placement().Save(context.Background(), store))
	snap := e.Snapshot()

	r := newTestEngine(t)
	require.NoError(t, r.Restore(snap))
	rep, err := r.Startup(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RolledBack)
	assert.Nil(t, r.Registry().Fixture(f.Serial))
	assert.NotNil(t, deedOf(r.World().MobileByName("owner"), "bench"))
	assert.Empty(t, store.entries)
}
