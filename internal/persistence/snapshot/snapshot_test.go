package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func sample(tick uint64) SnapshotV1 {
	return SnapshotV1{
		Header:     Header{WorldID: "test", Tick: tick},
		TickRate:   10,
		NextSerial: 42,
		Mobiles: []MobileV1{{
			Serial: 1,
			Name:   "Rowan",
			Map:    "felucca",
			Pos:    [3]int{10, 10, 0},
			Alive:  true,
			Backpack: &ItemV1{
				Serial:    2,
				Kind:      "Backpack",
				Container: true,
				Items: []ItemV1{{
					Serial: 3,
					Kind:   "deed",
					Amount: 1,
					Deed:   &DeedV1{FixtureID: "fireplace", Orientation: "south", Redeemable: true, Aux: map[string]int{"fuel": 7}},
				}},
			},
		}},
		Houses: []HouseV1{{ID: "h1", OpenDoors: []uint64{9}}},
		Fixtures: []FixtureV1{{
			Serial:      20,
			DefID:       "bench",
			Orientation: "east",
			Map:         "felucca",
			Pos:         [3]int{12, 10, 0},
			Preview:     true,
			Components: []ComponentV1{
				{Serial: 21, Kind: "BenchSeat", Offset: [3]int{0, 0, 0}, Height: 6, Graphics: [2]int{2860, 0}},
			},
		}},
	}
}

func TestWriteReadSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, 120)
	if err := WriteSnapshot(path, sample(120)); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.Version != Version || h.Tick != 120 || h.WorldID != "test" {
		t.Fatalf("header: got %+v", h)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.NextSerial != 42 {
		t.Fatalf("next serial: got %d want 42", got.NextSerial)
	}
	if len(got.Mobiles) != 1 || got.Mobiles[0].Backpack == nil || len(got.Mobiles[0].Backpack.Items) != 1 {
		t.Fatalf("mobiles: got %+v", got.Mobiles)
	}
	deed := got.Mobiles[0].Backpack.Items[0].Deed
	if deed == nil || deed.Aux["fuel"] != 7 {
		t.Fatalf("deed aux lost: %+v", deed)
	}
	if len(got.Fixtures) != 1 || !got.Fixtures[0].Preview || got.Fixtures[0].Components[0].Graphics[0] != 2860 {
		t.Fatalf("fixtures: got %+v", got.Fixtures)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestLatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	if got := Latest(dir); got != "" {
		t.Fatalf("empty dir: got %q", got)
	}
	for _, tick := range []uint64{5, 300, 40} {
		if err := WriteSnapshot(Path(dir, tick), sample(tick)); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	// Unrelated files are ignored.
	_ = os.WriteFile(filepath.Join(dir, "snapshots", "notes.txt"), []byte("x"), 0o644)

	if got, want := Latest(dir), Path(dir, 300); got != want {
		t.Fatalf("latest: got %q want %q", got, want)
	}

	removed, err := Prune(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed: got %d want 1", removed)
	}
	if _, err := os.Stat(Path(dir, 5)); !os.IsNotExist(err) {
		t.Fatalf("oldest snapshot should be gone")
	}
	if _, err := os.Stat(Path(dir, 40)); err != nil {
		t.Fatalf("snapshot 40 should remain: %v", err)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
