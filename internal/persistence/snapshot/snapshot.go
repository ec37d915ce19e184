package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

// Suffix is the file suffix of every snapshot written by Path.
const Suffix = ".snap.zst"

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate   int    `json:"tick_rate_hz"`
	NextSerial uint64 `json:"next_serial"`

	Mobiles  []MobileV1  `json:"mobiles"`
	Items    []ItemV1    `json:"items"`
	Houses   []HouseV1   `json:"houses"`
	Fixtures []FixtureV1 `json:"fixtures"`
}

type MobileV1 struct {
	Serial    uint64         `json:"serial"`
	Name      string         `json:"name"`
	Map       string         `json:"map"`
	Pos       [3]int         `json:"pos"`
	Access    int            `json:"access"`
	Alive     bool           `json:"alive"`
	Connected bool           `json:"connected"`
	Props     map[string]int `json:"props,omitempty"`

	Backpack *ItemV1  `json:"backpack,omitempty"`
	Equipped []ItemV1 `json:"equipped,omitempty"`
	Holding  *ItemV1  `json:"holding,omitempty"`
}

// ItemV1 is an item with its contents nested. Loose world items carry Map
// and Pos; nested items leave them empty.
type ItemV1 struct {
	Serial    uint64         `json:"serial"`
	Kind      string         `json:"kind"`
	Name      string         `json:"name,omitempty"`
	Amount    int            `json:"amount"`
	Hue       int            `json:"hue,omitempty"`
	Container bool           `json:"container,omitempty"`
	Map       string         `json:"map,omitempty"`
	Pos       [3]int         `json:"pos"`
	Props     map[string]int `json:"props,omitempty"`
	Deed      *DeedV1        `json:"deed,omitempty"`
	Items     []ItemV1       `json:"items,omitempty"`
}

type DeedV1 struct {
	FixtureID   string         `json:"fixture_id"`
	Orientation string         `json:"orientation"`
	Resource    string         `json:"resource,omitempty"`
	Redeemable  bool           `json:"redeemable"`
	Hue         int            `json:"hue,omitempty"`
	Aux         map[string]int `json:"aux,omitempty"`
}

// HouseV1 is the runtime state of a house declared in the world layout.
type HouseV1 struct {
	ID        string   `json:"id"`
	OpenDoors []uint64 `json:"open_doors,omitempty"`
}

type FixtureV1 struct {
	Serial      uint64 `json:"serial"`
	DefID       string `json:"def_id"`
	Orientation string `json:"orientation"`
	Resource    string `json:"resource,omitempty"`
	Map         string `json:"map"`
	Pos         [3]int `json:"pos"`
	Hue         int    `json:"hue,omitempty"`

	ShareHue   bool           `json:"share_hue,omitempty"`
	Redeemable bool           `json:"redeemable,omitempty"`
	Movable    bool           `json:"movable,omitempty"`
	Preview    bool           `json:"preview,omitempty"`
	Link       uint64         `json:"link,omitempty"`
	HouseID    string         `json:"house_id,omitempty"`
	Aux        map[string]int `json:"aux,omitempty"`

	Components []ComponentV1 `json:"components"`
}

type ComponentV1 struct {
	Serial    uint64 `json:"serial"`
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	Offset    [3]int `json:"offset"`
	Height    int    `json:"height"`
	Secondary bool   `json:"secondary,omitempty"`
	Primary   bool   `json:"primary,omitempty"`
	Graphics  [2]int `json:"graphics"`
	State     int    `json:"state"`
	Hue       int    `json:"hue,omitempty"`
}

// Path is where the snapshot of tick lives under worldDir.
func Path(worldDir string, tick uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d%s", tick, Suffix))
}

// Latest returns the newest snapshot under worldDir, or "" when there is none.
func Latest(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, Suffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, Suffix), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Written beside the target and renamed into place.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// Prune removes all but the newest keep snapshots under worldDir.
func Prune(worldDir string, keep int) (removed int, err error) {
	if keep <= 0 {
		return 0, nil
	}
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	type snapFile struct {
		tick uint64
		name string
	}
	var files []snapFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Suffix) {
			continue
		}
		tick, perr := strconv.ParseUint(strings.TrimSuffix(name, Suffix), 10, 64)
		if perr != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, name: name})
	}
	if len(files) <= keep {
		return 0, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick > files[j].tick })
	for _, sf := range files[keep:] {
		if rerr := os.Remove(filepath.Join(dir, sf.name)); rerr != nil {
			err = rerr
			continue
		}
		removed++
	}
	return removed, err
}
