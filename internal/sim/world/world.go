// Package world is an in-memory host for the fixture subsystem: facets with
// static geometry, houses and townships, mobiles with their packs, and the
// message and prompt plumbing actors are reached through.
package world

import (
	"fmt"
	"log"
	"sort"

	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
)

// DefaultPackLimit is how many top-level entries a backpack holds.
const DefaultPackLimit = 125

// maxMessages bounds the per-mobile message history.
const maxMessages = 64

var flagNames = map[string]host.StaticFlags{
	"impassable": host.FlagImpassable,
	"surface":    host.FlagSurface,
	"wall":       host.FlagWall,
}

var accessNames = map[string]model.AccessLevel{
	"":              model.AccessPlayer,
	"player":        model.AccessPlayer,
	"counselor":     model.AccessCounselor,
	"gamemaster":    model.AccessGameMaster,
	"game_master":   model.AccessGameMaster,
	"admin":         model.AccessAdministrator,
	"administrator": model.AccessAdministrator,
}

type EventKind string

const (
	EventMessage EventKind = "message"
	EventSound   EventKind = "sound"
	EventPrompt  EventKind = "prompt"
)

// Event is something an actor or observer should be told about.
type Event struct {
	Kind   EventKind
	Mobile model.Serial
	Text   string
	Map    model.MapID
	Pos    model.Vec3i
	Sound  int
	Prompt uint64
}

type facet struct {
	id      model.MapID
	width   int
	height  int
	groundZ int
	statics map[[2]int][]host.StaticTile
}

type prompt struct {
	id      uint64
	text    string
	respond func(bool)
}

type World struct {
	cats    *catalogs.Catalogs
	log     *log.Logger
	serials *model.Serials

	maps       map[model.MapID]*facet
	houses     []*model.House
	housesByID map[string]*model.House
	townships  []*model.Township

	mobiles map[model.Serial]*model.Mobile
	byName  map[string]*model.Mobile
	items   map[model.Serial]*model.Item

	prompts    map[model.Serial]*prompt
	nextPrompt uint64
	messages   map[model.Serial][]string

	obstacles func(m model.MapID, x, y int) []host.StaticTile

	// OnEvent, when set, receives every message, sound and prompt.
	OnEvent   func(Event)
	PackLimit int
}

func New(cats *catalogs.Catalogs, logger *log.Logger) *World {
	if logger == nil {
		logger = log.Default()
	}
	return &World{
		cats:       cats,
		log:        logger,
		serials:    model.NewSerials(1),
		maps:       map[model.MapID]*facet{},
		housesByID: map[string]*model.House{},
		mobiles:    map[model.Serial]*model.Mobile{},
		byName:     map[string]*model.Mobile{},
		items:      map[model.Serial]*model.Item{},
		prompts:    map[model.Serial]*prompt{},
		messages:   map[model.Serial][]string{},
		PackLimit:  DefaultPackLimit,
	}
}

// Build creates a world from a validated layout.
func Build(l Layout, cats *catalogs.Catalogs, logger *log.Logger) (*World, error) {
	w := New(cats, logger)
	for _, m := range l.Maps {
		w.AddMap(model.MapID(m.ID), m.Width, m.Height, m.GroundZ)
	}
	for _, s := range l.Statics {
		var flags host.StaticFlags
		for _, f := range s.Flags {
			flags |= flagNames[f]
		}
		w.AddStatic(model.MapID(s.Map), s.X, s.Y, host.StaticTile{ItemID: s.ItemID, Z: s.Z, Height: s.Height, Flags: flags})
	}
	for _, ws := range l.Walls {
		w.AddWall(model.MapID(ws.Map), ws.From, ws.To, ws.Z, ws.Height, ws.ItemID)
	}
	for _, ms := range l.Mobiles {
		m := w.AddMobile(ms.Name, model.MapID(ms.Map), model.FromArray(ms.Pos), accessNames[ms.Access])
		for k, v := range ms.Props {
			m.Props[k] = v
		}
		for _, is := range ms.Pack {
			it, err := w.buildItem(is)
			if err != nil {
				return nil, fmt.Errorf("mobile %s: %w", ms.Name, err)
			}
			m.Backpack.Add(it)
		}
	}
	for _, hs := range l.Houses {
		h := &model.House{
			ID:       hs.ID,
			Map:      model.MapID(hs.Map),
			Owner:    w.byName[hs.Owner].Serial,
			CoOwners: map[model.Serial]bool{},
			MinZ:     hs.MinZ,
			MaxZ:     hs.MaxZ,
		}
		for _, c := range hs.CoOwners {
			h.CoOwners[w.byName[c].Serial] = true
		}
		for _, a := range hs.Areas {
			h.Areas = append(h.Areas, model.Rect{X1: a[0], Y1: a[1], X2: a[2], Y2: a[3]})
		}
		for _, d := range hs.Doors {
			h.Doors = append(h.Doors, &model.Door{
				Serial: w.serials.Next(),
				Pos:    model.FromArray(d.Pos),
				Height: d.Height,
				Open:   d.Open,
			})
		}
		if err := w.AddHouse(h); err != nil {
			return nil, err
		}
	}
	for _, ts := range l.Townships {
		t := &model.Township{
			ID:         ts.ID,
			Map:        model.MapID(ts.Map),
			Area:       model.Rect{X1: ts.Area[0], Y1: ts.Area[1], X2: ts.Area[2], Y2: ts.Area[3]},
			Mayor:      w.byName[ts.Mayor].Serial,
			Members:    map[model.Serial]bool{},
			AllowBuild: ts.AllowBuild,
			Banned:     map[string]bool{},
		}
		for _, n := range ts.Members {
			t.Members[w.byName[n].Serial] = true
		}
		for _, id := range ts.Banned {
			t.Banned[id] = true
		}
		w.AddTownship(t)
	}
	return w, nil
}

func (w *World) buildItem(is ItemSpec) (*model.Item, error) {
	if is.Deed != "" {
		return w.NewDeed(is.Deed, is.Orientation)
	}
	if _, ok := w.cats.Items.ByKind[is.Kind]; !ok {
		return nil, fmt.Errorf("unknown item kind %q", is.Kind)
	}
	it := w.NewItem(is.Kind)
	if is.Amount > 0 {
		it.Amount = is.Amount
	}
	if len(is.Props) > 0 {
		it.Props = map[string]int{}
		for k, v := range is.Props {
			it.Props[k] = v
		}
	}
	for _, cs := range is.Items {
		child, err := w.buildItem(cs)
		if err != nil {
			return nil, err
		}
		it.Add(child)
	}
	return it, nil
}

// Next implements host.Serials.
func (w *World) Next() model.Serial { return w.serials.Next() }

// NextSerial is the value the allocator will hand out next.
func (w *World) NextSerial() uint64 { return w.serials.Peek() }

// SetNextSerial resumes the allocator after a snapshot load. It never moves
// backwards.
func (w *World) SetNextSerial(next uint64) {
	if next > w.serials.Peek() {
		w.serials = model.NewSerials(next)
	}
}

func (w *World) Catalogs() *catalogs.Catalogs { return w.cats }

func (w *World) emit(ev Event) {
	if w.OnEvent != nil {
		w.OnEvent(ev)
	}
}

// Messages returns the recent messages sent to a mobile, oldest first.
func (w *World) Messages(s model.Serial) []string {
	return append([]string(nil), w.messages[s]...)
}

// LastMessage is the newest message sent to a mobile, or "".
func (w *World) LastMessage(s model.Serial) string {
	msgs := w.messages[s]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (w *World) Mobiles() []*model.Mobile {
	out := make([]*model.Mobile, 0, len(w.mobiles))
	for _, m := range w.mobiles {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

func sortItems(items []*model.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Serial < items[j].Serial })
}
