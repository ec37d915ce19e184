package engine

import (
	"context"
	"errors"
	"fmt"

	"fixturecraft.ai/internal/persistence/snapshot"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/placement"
)

// ExportSnapshot captures mobiles, loose items, house door state and every
// fixture, previews included. Restarting from it must be followed by Startup
// so the previews are swept.
func (e *Engine) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: e.cfg.WorldID,
			Tick:    tick,
		},
		TickRate:   e.cfg.TickRateHz,
		NextSerial: e.world.NextSerial(),
	}
	for _, m := range e.world.Mobiles() {
		if m.Deleted {
			continue
		}
		snap.Mobiles = append(snap.Mobiles, exportMobile(m))
	}
	for _, it := range e.world.WorldItems() {
		snap.Items = append(snap.Items, exportItem(it))
	}
	for _, h := range e.world.Houses() {
		hv := snapshot.HouseV1{ID: h.ID}
		for _, d := range h.Doors {
			if d.Open {
				hv.OpenDoors = append(hv.OpenDoors, uint64(d.Serial))
			}
		}
		snap.Houses = append(snap.Houses, hv)
	}
	for _, f := range e.reg.All() {
		snap.Fixtures = append(snap.Fixtures, exportFixture(f.Record()))
	}
	return snap
}

// Restore replaces the entities of a freshly built engine with the content
// of snap. Map geometry, houses and townships come from the layout; owners
// and members are re-resolved by name.
func (e *Engine) Restore(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("restore: unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != e.cfg.WorldID {
		return fmt.Errorf("restore: snapshot is for world %q, not %q", snap.Header.WorldID, e.cfg.WorldID)
	}
	if len(e.reg.All()) > 0 || e.sched.Pending() > 0 {
		return errors.New("restore: engine already has state")
	}

	e.world.ResetEntities()
	for _, mv := range snap.Mobiles {
		e.world.AdoptMobile(importMobile(mv))
	}
	for _, iv := range snap.Items {
		e.world.AdoptItem(importItem(iv))
	}
	e.world.Rebind(e.layout)
	e.world.SetNextSerial(snap.NextSerial)

	open := map[string]map[uint64]bool{}
	for _, hv := range snap.Houses {
		set := map[uint64]bool{}
		for _, s := range hv.OpenDoors {
			set[s] = true
		}
		open[hv.ID] = set
	}
	for _, h := range e.world.Houses() {
		set, ok := open[h.ID]
		if !ok {
			continue
		}
		for _, d := range h.Doors {
			d.Open = set[uint64(d.Serial)]
		}
	}

	e.sched.SetNow(snap.Header.Tick)
	e.tick.Store(snap.Header.Tick)

	for _, fv := range snap.Fixtures {
		if _, err := e.reg.Load(importFixture(fv)); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	e.disconnectAll()
	e.log.Printf("engine: restored tick %d: %d mobiles, %d fixtures", snap.Header.Tick, len(snap.Mobiles), len(snap.Fixtures))
	return nil
}

// Startup sweeps previews left over from before the restart. It must run
// before the loop accepts input.
func (e *Engine) Startup(ctx context.Context, store placement.Store) (placement.SweepReport, error) {
	if store == nil {
		store = e.store
	}
	if store == nil {
		rep := e.proto.Sweep(nil)
		e.flushEvents(e.sched.Now())
		return rep, nil
	}
	rep, err := e.proto.Startup(ctx, store)
	e.flushEvents(e.sched.Now())
	return rep, err
}

func exportMobile(m *model.Mobile) snapshot.MobileV1 {
	mv := snapshot.MobileV1{
		Serial:    uint64(m.Serial),
		Name:      m.Name,
		Map:       string(m.Map),
		Pos:       m.Pos.ToArray(),
		Access:    int(m.AccessLevel),
		Alive:     m.Alive,
		Connected: m.Connected,
		Props:     copyProps(m.Props),
	}
	if m.Backpack.Valid() {
		bp := exportItem(m.Backpack)
		mv.Backpack = &bp
	}
	for _, it := range m.Equipped {
		if it.Valid() {
			mv.Equipped = append(mv.Equipped, exportItem(it))
		}
	}
	if m.Holding.Valid() {
		h := exportItem(m.Holding)
		mv.Holding = &h
	}
	return mv
}

func importMobile(mv snapshot.MobileV1) *model.Mobile {
	m := &model.Mobile{
		Serial:      model.Serial(mv.Serial),
		Name:        mv.Name,
		Map:         model.MapID(mv.Map),
		Pos:         model.FromArray(mv.Pos),
		AccessLevel: model.AccessLevel(mv.Access),
		Alive:       mv.Alive,
		Connected:   mv.Connected,
		Props:       copyProps(mv.Props),
	}
	if m.Props == nil {
		m.Props = map[string]int{}
	}
	if mv.Backpack != nil {
		m.Backpack = importItem(*mv.Backpack)
	}
	for _, iv := range mv.Equipped {
		m.Equipped = append(m.Equipped, importItem(iv))
	}
	if mv.Holding != nil {
		m.Holding = importItem(*mv.Holding)
	}
	return m
}

func exportItem(it *model.Item) snapshot.ItemV1 {
	iv := snapshot.ItemV1{
		Serial:    uint64(it.Serial),
		Kind:      it.Kind,
		Name:      it.Name,
		Amount:    it.Amount,
		Hue:       it.Hue,
		Container: it.Container,
		Props:     copyProps(it.Props),
	}
	if it.Parent == 0 && it.Map.Valid() {
		iv.Map = string(it.Map)
		iv.Pos = it.Pos.ToArray()
	}
	if d := it.Deed; d != nil {
		iv.Deed = &snapshot.DeedV1{
			FixtureID:   d.FixtureID,
			Orientation: d.Orientation,
			Resource:    d.Resource,
			Redeemable:  d.Redeemable,
			Hue:         d.Hue,
			Aux:         copyProps(d.Aux),
		}
	}
	for _, c := range it.Items {
		if c.Valid() {
			iv.Items = append(iv.Items, exportItem(c))
		}
	}
	return iv
}

func importItem(iv snapshot.ItemV1) *model.Item {
	it := &model.Item{
		Serial:    model.Serial(iv.Serial),
		Kind:      iv.Kind,
		Name:      iv.Name,
		Amount:    iv.Amount,
		Hue:       iv.Hue,
		Container: iv.Container,
		Props:     copyProps(iv.Props),
	}
	if iv.Map != "" {
		it.Map = model.MapID(iv.Map)
		it.Pos = model.FromArray(iv.Pos)
	}
	if d := iv.Deed; d != nil {
		it.Deed = &model.DeedData{
			FixtureID:   d.FixtureID,
			Orientation: d.Orientation,
			Resource:    d.Resource,
			Redeemable:  d.Redeemable,
			Hue:         d.Hue,
			Aux:         copyProps(d.Aux),
		}
	}
	for _, cv := range iv.Items {
		it.Add(importItem(cv))
	}
	return it
}

func exportFixture(rec fixture.Record) snapshot.FixtureV1 {
	fv := snapshot.FixtureV1{
		Serial:      uint64(rec.Serial),
		DefID:       rec.DefID,
		Orientation: rec.Orientation,
		Resource:    rec.Resource,
		Map:         string(rec.Map),
		Pos:         rec.Pos.ToArray(),
		Hue:         rec.Hue,
		ShareHue:    rec.ShareHue,
		Redeemable:  rec.Redeemable,
		Movable:     rec.Movable,
		Preview:     rec.Preview,
		Link:        uint64(rec.Link),
		HouseID:     rec.HouseID,
		Aux:         copyProps(rec.Aux),
	}
	for _, c := range rec.Components {
		fv.Components = append(fv.Components, snapshot.ComponentV1{
			Serial:    uint64(c.Serial),
			Kind:      c.Kind,
			Name:      c.Name,
			Offset:    c.Offset.ToArray(),
			Height:    c.Height,
			Secondary: c.Secondary,
			Primary:   c.Primary,
			Graphics:  c.Graphics,
			State:     int(c.State),
			Hue:       c.Hue,
		})
	}
	return fv
}

func importFixture(fv snapshot.FixtureV1) fixture.Record {
	rec := fixture.Record{
		Serial:      model.Serial(fv.Serial),
		DefID:       fv.DefID,
		Orientation: fv.Orientation,
		Resource:    fv.Resource,
		Map:         model.MapID(fv.Map),
		Pos:         model.FromArray(fv.Pos),
		Hue:         fv.Hue,
		ShareHue:    fv.ShareHue,
		Redeemable:  fv.Redeemable,
		Movable:     fv.Movable,
		Preview:     fv.Preview,
		Link:        model.Serial(fv.Link),
		HouseID:     fv.HouseID,
		Aux:         copyProps(fv.Aux),
	}
	for _, c := range fv.Components {
		rec.Components = append(rec.Components, fixture.ComponentRecord{
			Serial:    model.Serial(c.Serial),
			Kind:      c.Kind,
			Name:      c.Name,
			Offset:    model.FromArray(c.Offset),
			Height:    c.Height,
			Secondary: c.Secondary,
			Primary:   c.Primary,
			Graphics:  c.Graphics,
			State:     fixture.Visual(c.State),
			Hue:       c.Hue,
		})
	}
	return rec
}

func copyProps(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
