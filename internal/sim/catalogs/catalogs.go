package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"fixturecraft.ai/internal/sim/logic/footprint"
	"fixturecraft.ai/internal/sim/model"
)

//go:embed fixture.schema.json
var fixtureSchemaJSON string

type Catalogs struct {
	Items    ItemCatalog
	Fixtures FixtureCatalog
	Tourney  TourneyCatalog
}

type ItemCatalog struct {
	ByKind map[string]ItemDef
	Digest string
}

type ItemDef struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Height    int    `json:"height"`
	Container bool   `json:"container,omitempty"`
	Stackable bool   `json:"stackable,omitempty"`
}

type FixtureCatalog struct {
	ByID   map[string]FixtureDef
	Digest string
}

// Behaviors a fixture definition may attach.
const (
	BehaviorNone       = ""
	BehaviorDoor       = "door"
	BehaviorFireplace  = "fireplace"
	BehaviorBellows    = "bellows"
	BehaviorTourney    = "tourney"
	BehaviorTeleporter = "teleporter"
)

type FixtureDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DeedName string `json:"deed_name,omitempty"`
	Behavior string `json:"behavior,omitempty"`

	ShareHue    bool `json:"share_hue,omitempty"`
	Redeemable  bool `json:"redeemable,omitempty"`
	Movable     bool `json:"movable,omitempty"`
	BlocksDoors bool `json:"blocks_doors,omitempty"`
	NeedsWall   bool `json:"needs_wall,omitempty"`
	Decorative  bool `json:"decorative,omitempty"`

	// Targets is how many placement points the deed asks for (1 or 2).
	Targets int `json:"targets,omitempty"`
	Hue     int `json:"hue,omitempty"`

	Components []ComponentDef            `json:"components"`
	Variants   map[string][]ComponentDef `json:"variants,omitempty"`
}

type ComponentDef struct {
	Kind         string `json:"kind"`
	Name         string `json:"name,omitempty"`
	ItemID       int    `json:"item_id"`
	ActiveItemID int    `json:"active_item_id,omitempty"`
	Offset       [3]int `json:"offset"`
	Height       int    `json:"height,omitempty"`
	Hue          int    `json:"hue,omitempty"`
	Secondary    bool   `json:"secondary,omitempty"`
	Primary      bool   `json:"primary,omitempty"`
}

// Layout returns the component list for an orientation. An explicit variant
// wins; otherwise the authored components are rotated.
func (d FixtureDef) Layout(orientation string) ([]ComponentDef, error) {
	key := strings.ToLower(strings.TrimSpace(orientation))
	if v, ok := d.Variants[key]; ok && len(v) > 0 {
		return v, nil
	}
	rot, ok := footprint.ParseOrientation(key)
	if !ok {
		return nil, fmt.Errorf("fixture %s: unknown orientation %q", d.ID, orientation)
	}
	out := make([]ComponentDef, len(d.Components))
	for i, c := range d.Components {
		off := footprint.RotateOffset(model.FromArray(c.Offset), rot)
		c.Offset = off.ToArray()
		out[i] = c
	}
	return out, nil
}

func (d FixtureDef) TargetCount() int {
	if d.Targets <= 1 {
		return 1
	}
	return 2
}

type TourneyCatalog struct {
	Version int       `yaml:"version"`
	Rules   []RuleDef `yaml:"rules"`
	Digest  string    `yaml:"-"`
}

type RuleDef struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Active      bool           `yaml:"active"`
	Conditions  []ConditionDef `yaml:"conditions"`
}

type ConditionDef struct {
	Type         string `yaml:"type"`
	Item         string `yaml:"item,omitempty"`
	Property     string `yaml:"property,omitempty"`
	Compare      string `yaml:"compare,omitempty"`
	Quantity     int    `yaml:"quantity,omitempty"`
	Value        int    `yaml:"value,omitempty"`
	Configurable bool   `yaml:"configurable,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadFixtures(filepath.Join(configDir, "fixtures"), &c.Items, &c.Fixtures); err != nil {
		return nil, err
	}
	if err := LoadTourney(filepath.Join(configDir, "tourney_rules.yaml"), &c.Tourney); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.ByKind = map[string]ItemDef{}
	for _, d := range defs {
		if d.Kind == "" {
			return fmt.Errorf("items.json: empty kind")
		}
		if _, dup := out.ByKind[d.Kind]; dup {
			return fmt.Errorf("items.json: duplicate kind %s", d.Kind)
		}
		out.ByKind[d.Kind] = d
	}
	return nil
}

func compileFixtureSchema() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("fixture.schema.json", fixtureSchemaJSON)
}

func loadFixtures(dir string, items *ItemCatalog, out *FixtureCatalog) error {
	out.ByID = map[string]FixtureDef{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	schema, err := compileFixtureSchema()
	if err != nil {
		return fmt.Errorf("fixture schema: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		def, err := ParseFixture(schema, b)
		if err != nil {
			return fmt.Errorf("fixture %s: %w", filepath.Base(p), err)
		}
		if _, dup := out.ByID[def.ID]; dup {
			return fmt.Errorf("fixture %s: duplicate id %s", filepath.Base(p), def.ID)
		}
		fillHeights(&def, items)
		out.ByID[def.ID] = def
	}
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

// ParseFixture validates raw against the fixture schema and decodes it.
func ParseFixture(schema *jsonschema.Schema, raw []byte) (FixtureDef, error) {
	var def FixtureDef
	if schema != nil {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return def, err
		}
		if err := schema.Validate(doc); err != nil {
			return def, err
		}
	}
	if err := json.Unmarshal(raw, &def); err != nil {
		return def, err
	}
	if def.ID == "" {
		return def, fmt.Errorf("missing id")
	}
	if len(def.Components) == 0 {
		return def, fmt.Errorf("no components")
	}
	if def.Behavior == BehaviorDoor {
		primaries := 0
		for _, c := range def.Components {
			if c.Primary {
				primaries++
			}
		}
		if primaries != 1 {
			return def, fmt.Errorf("door fixture needs exactly one primary component, has %d", primaries)
		}
	}
	return def, nil
}

func fillHeights(def *FixtureDef, items *ItemCatalog) {
	fill := func(cs []ComponentDef) {
		for i := range cs {
			if cs[i].Height > 0 {
				continue
			}
			if d, ok := items.ByKind[cs[i].Kind]; ok {
				cs[i].Height = d.Height
			}
		}
	}
	fill(def.Components)
	for _, v := range def.Variants {
		fill(v)
	}
}

// LoadTourney reads the declarative tourney rule set. A missing file yields
// an empty rule set, which always passes.
func LoadTourney(path string, out *TourneyCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("tourney_rules.yaml: %w", err)
	}
	for i, r := range out.Rules {
		if len(r.Conditions) == 0 {
			return fmt.Errorf("tourney_rules.yaml: rule %d (%s) has no conditions", i, r.ID)
		}
	}
	return nil
}

// Height returns the tile height of an item kind, or zero when unknown.
func (c ItemCatalog) Height(kind string) int {
	return c.ByKind[kind].Height
}

// Name returns a display name for an item kind.
func (c ItemCatalog) Name(kind string) string {
	if d, ok := c.ByKind[kind]; ok && d.Name != "" {
		return d.Name
	}
	return kind
}
