package world

import (
	"errors"
	"path/filepath"
	"testing"

	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
)

const fel = model.MapID("felucca")

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	c, err := catalogs.Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return c
}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := New(loadCatalogs(t), nil)
	w.AddMap(fel, 64, 64, 0)
	return w
}

func TestBuildRepoLayout(t *testing.T) {
	l, err := LoadLayout(filepath.Join("..", "..", "..", "configs", "world.yaml"))
	if err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}
	w, err := Build(l, loadCatalogs(t), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rowan := w.MobileByName("Rowan")
	if rowan == nil {
		t.Fatalf("Rowan missing")
	}
	h := w.HouseAt(fel, rowan.Pos)
	if h == nil || !h.IsOwner(rowan) {
		t.Fatalf("Rowan should own the house at the spawn point: %+v", h)
	}
	deeds := 0
	for _, it := range rowan.Backpack.Items {
		if it.Deed != nil {
			deeds++
		}
	}
	if deeds != 3 {
		t.Fatalf("deeds=%d want 3", deeds)
	}
	if w.MobileByName("Warden").AccessLevel != model.AccessGameMaster {
		t.Fatalf("Warden access not parsed")
	}
}

func TestLayoutValidateRejectsUnknownOwner(t *testing.T) {
	l := Layout{
		Maps:   []MapSpec{{ID: "felucca", Width: 10, Height: 10}},
		Houses: []HouseSpec{{ID: "h", Map: "felucca", Owner: "Nobody", Areas: [][4]int{{0, 0, 1, 1}}}},
	}
	if err := l.Validate(); err == nil {
		t.Fatalf("expected unknown mobile error")
	}
}

func TestCanFit(t *testing.T) {
	w := newTestWorld(t)
	w.AddStatic(fel, 5, 5, host.StaticTile{Z: 0, Height: 6, Flags: host.FlagImpassable | host.FlagSurface})
	w.AddWall(fel, [2]int{0, 10}, [2]int{3, 10}, 0, 20, 1)

	cases := []struct {
		name    string
		p       model.Vec3i
		h       int
		surface bool
		want    bool
	}{
		{"open ground", model.Vec3i{X: 1, Y: 1}, 10, true, true},
		{"inside table", model.Vec3i{X: 5, Y: 5}, 10, false, false},
		{"on table top", model.Vec3i{X: 5, Y: 5, Z: 6}, 4, true, true},
		{"floating", model.Vec3i{X: 1, Y: 1, Z: 4}, 4, true, false},
		{"floating allowed", model.Vec3i{X: 1, Y: 1, Z: 4}, 4, false, true},
		{"wall", model.Vec3i{X: 2, Y: 10}, 5, false, false},
		{"out of bounds", model.Vec3i{X: 64, Y: 1}, 1, false, false},
	}
	for _, tc := range cases {
		if got := w.CanFit(fel, tc.p, tc.h, tc.surface); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
	if w.CanFit(model.MapInternal, model.Vec3i{}, 1, false) {
		t.Fatalf("internal map must never fit")
	}
	if n := len(w.StaticsAt(fel, 3, 10)); n != 1 {
		t.Fatalf("wall end statics=%d want 1", n)
	}
}

func TestObstaclesBlock(t *testing.T) {
	w := newTestWorld(t)
	w.SetObstacles(func(m model.MapID, x, y int) []host.StaticTile {
		if x == 2 && y == 2 {
			return []host.StaticTile{{Z: 0, Height: 8, Flags: host.FlagImpassable}}
		}
		return nil
	})
	if w.CanFit(fel, model.Vec3i{X: 2, Y: 2}, 1, true) {
		t.Fatalf("obstacle ignored")
	}
}

func TestDeliverFallsBackWhenPackFull(t *testing.T) {
	w := newTestWorld(t)
	w.PackLimit = 1
	m := w.AddMobile("a", fel, model.Vec3i{X: 3, Y: 3}, model.AccessPlayer)

	first := w.NewItem("Bandage")
	if got := w.Deliver(m, first, fel, model.Vec3i{}); got != host.DeliveredToPack {
		t.Fatalf("first delivery=%v", got)
	}
	second := w.NewItem("Bandage")
	if got := w.Deliver(m, second, fel, model.Vec3i{}); got != host.DroppedAtFeet {
		t.Fatalf("second delivery=%v", got)
	}
	if second.Map != fel || second.Pos != m.Pos {
		t.Fatalf("second item at %s %v", second.Map, second.Pos)
	}

	w.DeleteItem(m.Backpack)
	m.Deleted = true
	third := w.NewItem("Bandage")
	if got := w.Deliver(m, third, fel, model.Vec3i{X: 9, Y: 9}); got != host.DroppedAtFallback {
		t.Fatalf("third delivery=%v", got)
	}
	if third.Pos != (model.Vec3i{X: 9, Y: 9}) {
		t.Fatalf("third at %v", third.Pos)
	}
}

func TestPlaceContainerRejectsWithoutChange(t *testing.T) {
	w := newTestWorld(t)
	m := w.AddMobile("a", fel, model.Vec3i{}, model.AccessPlayer)
	pouch := w.NewItem("Pouch")
	m.Backpack.Add(pouch)

	if err := w.Place(m.Backpack, host.DropTarget{Kind: host.DropContainer, Container: pouch}); !errors.Is(err, ErrBadContainer) {
		t.Fatalf("placing a pack into its own pouch: %v", err)
	}
	if m.Backpack == nil || !m.Backpack.Contains(pouch) {
		t.Fatalf("failed place changed state")
	}

	it := w.NewItem("Bandage")
	if err := w.Place(it, host.DropTarget{Kind: host.DropContainer, Container: pouch}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if !w.InPack(m, it) {
		t.Fatalf("nested item should be in pack")
	}
	w.DeleteItem(pouch)
	if w.Item(it.Serial) != nil || !it.Deleted {
		t.Fatalf("deleting a container must delete its contents")
	}
	if len(m.Backpack.Items) != 0 {
		t.Fatalf("pouch not detached from pack")
	}
}

func TestConfirmAnswer(t *testing.T) {
	w := newTestWorld(t)
	m := w.AddMobile("a", fel, model.Vec3i{}, model.AccessPlayer)
	var got []bool
	w.Confirm(m, "first?", func(ok bool) { got = append(got, ok) })
	w.Confirm(m, "second?", func(ok bool) { got = append(got, !ok) })
	if text, ok := w.PendingPrompt(m.Serial); !ok || text != "second?" {
		t.Fatalf("prompt=%q ok=%v", text, ok)
	}
	if !w.Answer(m.Serial, false) {
		t.Fatalf("Answer reported no prompt")
	}
	if w.Answer(m.Serial, true) {
		t.Fatalf("prompt answered twice")
	}
	if len(got) != 1 || got[0] != true {
		t.Fatalf("responses=%v", got)
	}
}

func TestClearHandReturnsToPack(t *testing.T) {
	w := newTestWorld(t)
	m := w.AddMobile("a", fel, model.Vec3i{}, model.AccessPlayer)
	it := w.NewItem("Longsword")
	w.Hold(m, it)
	w.ClearHand(m)
	if m.Holding != nil || !w.InPack(m, it) {
		t.Fatalf("hand not cleared into pack")
	}
}

func TestBuildAllowedTownship(t *testing.T) {
	w := newTestWorld(t)
	mayor := w.AddMobile("mayor", fel, model.Vec3i{}, model.AccessPlayer)
	stranger := w.AddMobile("stranger", fel, model.Vec3i{}, model.AccessPlayer)
	gm := w.AddMobile("gm", fel, model.Vec3i{}, model.AccessGameMaster)
	w.AddTownship(&model.Township{
		ID:     "t",
		Map:    fel,
		Area:   model.Rect{X1: 0, Y1: 0, X2: 20, Y2: 20},
		Mayor:  mayor.Serial,
		Banned: map[string]bool{"teleporter_pair": true},
	})
	p := model.Vec3i{X: 4, Y: 4}
	if ok, _ := w.BuildAllowed(mayor, fel, p, "bench"); !ok {
		t.Fatalf("mayor may build")
	}
	if ok, reason := w.BuildAllowed(stranger, fel, p, "bench"); ok || reason == "" {
		t.Fatalf("stranger may not build: ok=%v reason=%q", ok, reason)
	}
	if ok, _ := w.BuildAllowed(mayor, fel, p, "teleporter_pair"); ok {
		t.Fatalf("banned fixture allowed")
	}
	if ok, _ := w.BuildAllowed(gm, fel, p, "teleporter_pair"); !ok {
		t.Fatalf("staff bypass township rules")
	}
	if ok, _ := w.BuildAllowed(stranger, fel, model.Vec3i{X: 40, Y: 40}, "bench"); !ok {
		t.Fatalf("outside any township building is allowed")
	}
}
