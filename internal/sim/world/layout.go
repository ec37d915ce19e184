package world

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Layout is the declarative content of a world: facets, static geometry,
// houses, townships and the mobiles that start in it.
type Layout struct {
	Maps      []MapSpec      `yaml:"maps"`
	Statics   []StaticSpec   `yaml:"statics,omitempty"`
	Walls     []WallSpec     `yaml:"walls,omitempty"`
	Mobiles   []MobileSpec   `yaml:"mobiles,omitempty"`
	Houses    []HouseSpec    `yaml:"houses,omitempty"`
	Townships []TownshipSpec `yaml:"townships,omitempty"`
}

type MapSpec struct {
	ID      string `yaml:"id"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	GroundZ int    `yaml:"ground_z"`
}

type StaticSpec struct {
	Map    string   `yaml:"map"`
	X      int      `yaml:"x"`
	Y      int      `yaml:"y"`
	Z      int      `yaml:"z"`
	Height int      `yaml:"height"`
	ItemID int      `yaml:"item_id"`
	Flags  []string `yaml:"flags,omitempty"`
}

// WallSpec is a straight run of wall tiles from one corner to another,
// inclusive.
type WallSpec struct {
	Map    string `yaml:"map"`
	From   [2]int `yaml:"from"`
	To     [2]int `yaml:"to"`
	Z      int    `yaml:"z"`
	Height int    `yaml:"height"`
	ItemID int    `yaml:"item_id,omitempty"`
}

type MobileSpec struct {
	Name   string         `yaml:"name"`
	Map    string         `yaml:"map"`
	Pos    [3]int         `yaml:"pos"`
	Access string         `yaml:"access,omitempty"`
	Props  map[string]int `yaml:"props,omitempty"`
	Pack   []ItemSpec     `yaml:"pack,omitempty"`
}

// ItemSpec is either a plain item (Kind) or a deed (Deed names a fixture).
type ItemSpec struct {
	Kind        string         `yaml:"kind,omitempty"`
	Amount      int            `yaml:"amount,omitempty"`
	Props       map[string]int `yaml:"props,omitempty"`
	Deed        string         `yaml:"deed,omitempty"`
	Orientation string         `yaml:"orientation,omitempty"`
	Items       []ItemSpec     `yaml:"items,omitempty"`
}

type HouseSpec struct {
	ID       string     `yaml:"id"`
	Map      string     `yaml:"map"`
	Owner    string     `yaml:"owner"`
	CoOwners []string   `yaml:"co_owners,omitempty"`
	Areas    [][4]int   `yaml:"areas"`
	MinZ     int        `yaml:"min_z"`
	MaxZ     int        `yaml:"max_z"`
	Doors    []DoorSpec `yaml:"doors,omitempty"`
}

type DoorSpec struct {
	Pos    [3]int `yaml:"pos"`
	Height int    `yaml:"height"`
	Open   bool   `yaml:"open,omitempty"`
}

type TownshipSpec struct {
	ID         string   `yaml:"id"`
	Map        string   `yaml:"map"`
	Area       [4]int   `yaml:"area"`
	Mayor      string   `yaml:"mayor"`
	Members    []string `yaml:"members,omitempty"`
	AllowBuild bool     `yaml:"allow_build"`
	Banned     []string `yaml:"banned,omitempty"`
}

func LoadLayout(path string) (Layout, error) {
	l := defaultLayout()
	if strings.TrimSpace(path) == "" {
		return l, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	l = Layout{}
	if err := yaml.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("world.yaml: %w", err)
	}
	l.Normalize()
	if err := l.Validate(); err != nil {
		return l, fmt.Errorf("world.yaml: %w", err)
	}
	return l, nil
}

func defaultLayout() Layout {
	return Layout{Maps: []MapSpec{{ID: "felucca", Width: 1024, Height: 1024}}}
}

func (l *Layout) Normalize() {
	for i := range l.Maps {
		l.Maps[i].ID = strings.TrimSpace(l.Maps[i].ID)
	}
	for i := range l.Mobiles {
		l.Mobiles[i].Name = strings.TrimSpace(l.Mobiles[i].Name)
		l.Mobiles[i].Access = strings.ToLower(strings.TrimSpace(l.Mobiles[i].Access))
	}
	for i := range l.Walls {
		if l.Walls[i].Height <= 0 {
			l.Walls[i].Height = 20
		}
	}
	for i := range l.Houses {
		if l.Houses[i].MaxZ == 0 {
			l.Houses[i].MaxZ = 127
		}
		for j := range l.Houses[i].Doors {
			if l.Houses[i].Doors[j].Height <= 0 {
				l.Houses[i].Doors[j].Height = 20
			}
		}
	}
}

func (l Layout) Validate() error {
	if len(l.Maps) == 0 {
		return fmt.Errorf("no maps defined")
	}
	maps := map[string]bool{}
	for _, m := range l.Maps {
		if m.ID == "" {
			return fmt.Errorf("map id is required")
		}
		if maps[m.ID] {
			return fmt.Errorf("duplicate map id: %s", m.ID)
		}
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("map %s: width and height must be > 0", m.ID)
		}
		maps[m.ID] = true
	}
	needMap := func(what, id string) error {
		if !maps[id] {
			return fmt.Errorf("%s: unknown map %q", what, id)
		}
		return nil
	}
	for i, s := range l.Statics {
		if err := needMap(fmt.Sprintf("statics[%d]", i), s.Map); err != nil {
			return err
		}
		for _, f := range s.Flags {
			if _, ok := flagNames[f]; !ok {
				return fmt.Errorf("statics[%d]: unknown flag %q", i, f)
			}
		}
	}
	for i, w := range l.Walls {
		if err := needMap(fmt.Sprintf("walls[%d]", i), w.Map); err != nil {
			return err
		}
		if w.From[0] != w.To[0] && w.From[1] != w.To[1] {
			return fmt.Errorf("walls[%d]: wall must be horizontal or vertical", i)
		}
	}
	names := map[string]bool{}
	for _, m := range l.Mobiles {
		if m.Name == "" {
			return fmt.Errorf("mobile name is required")
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate mobile: %s", m.Name)
		}
		if err := needMap("mobile "+m.Name, m.Map); err != nil {
			return err
		}
		if _, ok := accessNames[m.Access]; !ok {
			return fmt.Errorf("mobile %s: unknown access level %q", m.Name, m.Access)
		}
		names[m.Name] = true
	}
	needMobile := func(what, name string) error {
		if !names[name] {
			return fmt.Errorf("%s: unknown mobile %q", what, name)
		}
		return nil
	}
	houses := map[string]bool{}
	for _, h := range l.Houses {
		if h.ID == "" || houses[h.ID] {
			return fmt.Errorf("house id missing or duplicate: %q", h.ID)
		}
		houses[h.ID] = true
		if err := needMap("house "+h.ID, h.Map); err != nil {
			return err
		}
		if err := needMobile("house "+h.ID, h.Owner); err != nil {
			return err
		}
		for _, c := range h.CoOwners {
			if err := needMobile("house "+h.ID, c); err != nil {
				return err
			}
		}
		if len(h.Areas) == 0 {
			return fmt.Errorf("house %s: at least one area is required", h.ID)
		}
	}
	for _, t := range l.Townships {
		if err := needMap("township "+t.ID, t.Map); err != nil {
			return err
		}
		if err := needMobile("township "+t.ID, t.Mayor); err != nil {
			return err
		}
		for _, m := range t.Members {
			if err := needMobile("township "+t.ID, m); err != nil {
				return err
			}
		}
	}
	return nil
}
