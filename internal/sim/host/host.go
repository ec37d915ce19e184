// Package host declares what the fixture subsystem needs from the world it
// runs in. The in-memory world in internal/sim/world implements all of it;
// a production server would adapt its own map, housing and networking.
package host

import "fixturecraft.ai/internal/sim/model"

// StaticFlags describe a static tile's collision behaviour.
type StaticFlags uint8

const (
	FlagImpassable StaticFlags = 1 << iota
	FlagSurface
	FlagWall
)

type StaticTile struct {
	ItemID int
	Z      int
	Height int
	Flags  StaticFlags
}

func (s StaticTile) Is(f StaticFlags) bool { return s.Flags&f != 0 }

// Top is the elevation of the tile's upper surface.
func (s StaticTile) Top() int { return s.Z + s.Height }

// Spatial answers collision questions about a map.
type Spatial interface {
	// CanFit reports whether an object of the given height can occupy p.
	// With requireSurface the object must also rest on a walkable surface.
	CanFit(m model.MapID, p model.Vec3i, height int, requireSurface bool) bool
	StaticsAt(m model.MapID, x, y int) []StaticTile
}

// Ownership resolves houses and townships.
type Ownership interface {
	HouseAt(m model.MapID, p model.Vec3i) *model.House
	HouseByID(id string) *model.House
	TownshipAt(m model.MapID, p model.Vec3i) *model.Township
}

// Delivery says where an item handed to a mobile ended up.
type Delivery int

const (
	DeliveredToPack Delivery = iota + 1
	DroppedAtFeet
	DroppedAtFallback
)

// Actors is the actor I/O surface.
type Actors interface {
	Mobile(s model.Serial) *model.Mobile
	Message(m *model.Mobile, text string)
	Sound(m model.MapID, at model.Vec3i, soundID int)
	// MoveMobile puts m at p on mapID; it fails for a map the host lacks.
	MoveMobile(m *model.Mobile, mapID model.MapID, p model.Vec3i) error
	// Confirm asks m a yes/no question; respond runs on the tick the answer
	// arrives. It may never run.
	Confirm(m *model.Mobile, prompt string, respond func(accepted bool))
	// Deliver puts it in m's backpack, or on the ground at m when the pack is
	// unavailable. With m nil or deleted it drops at fallback.
	Deliver(m *model.Mobile, it *model.Item, fallbackMap model.MapID, fallback model.Vec3i) Delivery
}

type DropKind int

const (
	DropWorld DropKind = iota + 1
	DropContainer
	DropMobile
)

// DropTarget is a destination for a dropped item.
type DropTarget struct {
	Kind      DropKind
	Map       model.MapID
	Pos       model.Vec3i
	Container *model.Item
	Mobile    *model.Mobile
}

// Items are the entity placement primitives.
type Items interface {
	NewItem(kind string) *model.Item
	Item(s model.Serial) *model.Item
	DeleteItem(it *model.Item)
	// Place moves it to target, detaching it from wherever it was. On error
	// nothing changes.
	Place(it *model.Item, target DropTarget) error
	// InPack reports whether it is inside m's backpack, at any depth.
	InPack(m *model.Mobile, it *model.Item) bool
}

// Serials allocates entity identities.
type Serials interface {
	Next() model.Serial
}

// Zones applies township and other zone build rules ahead of fit checks.
type Zones interface {
	// BuildAllowed reports whether m may place the fixture definition defID
	// at p; reason is shown to m when it may not.
	BuildAllowed(m *model.Mobile, mapID model.MapID, p model.Vec3i, defID string) (ok bool, reason string)
}
