package placement

import (
	"context"
	"fmt"

	"fixturecraft.ai/internal/sim/model"
)

type SweepReport struct {
	RolledBack int
	Stale      int
	Orphans    int
}

// Save writes the preview registry to its store.
func (p *Protocol) Save(ctx context.Context, store Store) error {
	if err := store.SavePreviews(ctx, p.previews.Entries()); err != nil {
		return fmt.Errorf("save previews: %w", err)
	}
	return nil
}

// Startup loads the saved registry and sweeps it. It must run before any
// player input is accepted.
func (p *Protocol) Startup(ctx context.Context, store Store) (SweepReport, error) {
	entries, err := store.LoadPreviews(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("load previews: %w", err)
	}
	rep := p.Sweep(entries)
	if err := p.Save(ctx, store); err != nil {
		return rep, err
	}
	return rep, nil
}

// Sweep force-rolls-back every saved preview whose fixture and mobile both
// still exist. Entries with a missing side are dropped; a fixture left
// without its placer is deleted without a deed. Any other fixture still
// flagged as a preview is deleted too: nothing stays in preview across a
// restart.
func (p *Protocol) Sweep(entries []Entry) SweepReport {
	var rep SweepReport
	handled := map[model.Serial]bool{}
	for _, e := range entries {
		if handled[e.Fixture] {
			continue
		}
		handled[e.Fixture] = true
		f := p.Registry.Fixture(e.Fixture)
		m := p.Actors.Mobile(e.Mobile)
		switch {
		case f != nil && m != nil:
			handled[f.Link] = true
			f.Preview = true
			p.previews.Add(f.Serial, m.Serial)
			mapID, at := f.Map(), f.Location()
			if p.Rollback(f.Serial) {
				rep.RolledBack++
				p.publish(Event{Tick: p.Sched.Now(), Kind: EventSwept, Mobile: m.Serial, Fixture: e.Fixture, DefID: f.Def.ID, Map: mapID, Pos: at})
			}
		case f != nil:
			handled[f.Link] = true
			p.Log.Printf("placement: sweep: fixture %d has no placer (mobile %d); deleting", e.Fixture, e.Mobile)
			f.Delete()
			rep.Stale++
		default:
			rep.Stale++
		}
		p.previews.Remove(e.Fixture)
	}
	for _, f := range p.Registry.All() {
		if !f.Preview || handled[f.Serial] || f.Deleted() {
			continue
		}
		p.Log.Printf("placement: sweep: orphaned preview fixture %d deleted", f.Serial)
		handled[f.Link] = true
		f.Delete()
		rep.Orphans++
	}
	return rep
}
