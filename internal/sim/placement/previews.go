package placement

import (
	"context"
	"sort"

	"fixturecraft.ai/internal/sim/model"
)

// Entry pairs an unconfirmed fixture with the mobile placing it.
type Entry struct {
	Fixture model.Serial
	Mobile  model.Serial
}

// PreviewRegistry holds every fixture that is waiting for confirmation.
type PreviewRegistry struct {
	entries map[model.Serial]Entry
}

func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{entries: map[model.Serial]Entry{}}
}

func (r *PreviewRegistry) Add(fixture, mobile model.Serial) {
	r.entries[fixture] = Entry{Fixture: fixture, Mobile: mobile}
}

// Remove reports whether an entry was present. Removing twice is harmless.
func (r *PreviewRegistry) Remove(fixture model.Serial) bool {
	if _, ok := r.entries[fixture]; !ok {
		return false
	}
	delete(r.entries, fixture)
	return true
}

func (r *PreviewRegistry) Get(fixture model.Serial) (Entry, bool) {
	e, ok := r.entries[fixture]
	return e, ok
}

func (r *PreviewRegistry) Len() int { return len(r.entries) }

// ByMobile lists the fixtures a mobile has in preview.
func (r *PreviewRegistry) ByMobile(m model.Serial) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.Mobile == m {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// Entries returns every entry ordered by fixture serial.
func (r *PreviewRegistry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Fixture < es[j].Fixture })
}

// Store is the dedicated save file for the preview registry.
type Store interface {
	SavePreviews(ctx context.Context, entries []Entry) error
	LoadPreviews(ctx context.Context) ([]Entry, error)
}
