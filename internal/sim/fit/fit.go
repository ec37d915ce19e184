// Package fit decides whether a composite fixture may occupy a footprint.
package fit

import (
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/logic/footprint"
	"fixturecraft.ai/internal/sim/model"
)

type Result int

const (
	Valid Result = iota
	Blocked
	NotInHouse
	DoorTooClose
	NoWall
	DoorsNotClosed
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "VALID"
	case Blocked:
		return "BLOCKED"
	case NotInHouse:
		return "NOT_IN_HOUSE"
	case DoorTooClose:
		return "DOOR_TOO_CLOSE"
	case NoWall:
		return "NO_WALL"
	case DoorsNotClosed:
		return "DOORS_NOT_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Message is the player-facing explanation of a result.
func (r Result) Message() string {
	switch r {
	case Valid:
		return ""
	case Blocked:
		return "The deed cannot be placed there; something is in the way."
	case NotInHouse:
		return "That location is not in your house."
	case DoorTooClose:
		return "You cannot build that near a door."
	case NoWall:
		return "This must be placed against a wall."
	case DoorsNotClosed:
		return "You must close all house doors before placing this."
	default:
		return "You cannot place that there."
	}
}

// Part is one rigid piece of a candidate footprint.
type Part struct {
	Offset model.Vec3i
	Height int
}

// Candidate is anything with a multi-part footprint.
type Candidate interface {
	Deleted() bool
	Parts() []Part
	BlocksDoors() bool
	NeedsWall() bool
	// Rotation is the quarter-turn facing; the wall is checked behind it.
	Rotation() int
}

// DoorCandidate is implemented by fixtures whose primary part is a door.
type DoorCandidate interface {
	Candidate
	PrimaryPart() Part
}

type Validator struct {
	Spatial host.Spatial
	Owners  host.Ownership
}

// DoorRange is how close (in tiles) a part may come to a house door.
const DoorRange = 1

// CouldFit checks collision, then house membership, then wall support, then
// that every house door is closed, then door proximity. The first violated
// rule is reported. The resolved house is returned even for actors with
// elevated access, who skip the membership rule.
func (v Validator) CouldFit(c Candidate, p model.Vec3i, m model.MapID, actor *model.Mobile) (Result, *model.House) {
	if c == nil || c.Deleted() || !m.Valid() {
		return Blocked, nil
	}
	parts := c.Parts()
	if len(parts) == 0 {
		return Blocked, nil
	}

	for _, part := range parts {
		at := p.Add(part.Offset)
		if !v.Spatial.CanFit(m, at, part.Height, part.Offset.Z == 0) {
			return Blocked, nil
		}
	}

	var house *model.House
	for _, part := range parts {
		h, ok := v.checkHouse(actor, m, p.Add(part.Offset))
		if !ok {
			return NotInHouse, nil
		}
		if h != nil {
			house = h
		}
	}

	if c.NeedsWall() {
		behind := footprint.RotateOffset(model.Vec3i{Y: -1}, c.Rotation())
		for _, part := range parts {
			if !v.hasWall(m, p.Add(part.Offset), behind, part.Height) {
				return NoWall, house
			}
		}
	}

	if house != nil && c.BlocksDoors() {
		for _, d := range house.Doors {
			if d != nil && d.Open {
				return DoorsNotClosed, house
			}
		}
		for _, d := range house.Doors {
			if d == nil {
				continue
			}
			for _, part := range parts {
				at := p.Add(part.Offset)
				if footprint.Near(d.Pos, at, DoorRange) && footprint.SpansOverlap(at.Z, part.Height, d.Pos.Z, d.Height) {
					return DoorTooClose, house
				}
			}
		}
	}
	return Valid, house
}

// CouldFitDoor is the single-footprint variant used by door fixtures:
// collision of the primary part, house membership, and no open house doors.
func (v Validator) CouldFitDoor(c DoorCandidate, p model.Vec3i, m model.MapID, actor *model.Mobile) (Result, *model.House) {
	if c == nil || c.Deleted() || !m.Valid() {
		return Blocked, nil
	}
	part := c.PrimaryPart()
	at := p.Add(part.Offset)
	if !v.Spatial.CanFit(m, at, part.Height, false) {
		return Blocked, nil
	}
	house, ok := v.checkHouse(actor, m, at)
	if !ok {
		return NotInHouse, nil
	}
	if house != nil {
		for _, d := range house.Doors {
			if d != nil && d.Open {
				return DoorsNotClosed, house
			}
		}
	}
	return Valid, house
}

func (v Validator) checkHouse(actor *model.Mobile, m model.MapID, at model.Vec3i) (*model.House, bool) {
	var h *model.House
	if v.Owners != nil {
		h = v.Owners.HouseAt(m, at)
	}
	if actor != nil && actor.AccessLevel.Elevated() {
		return h, true
	}
	if h == nil || !h.IsOwner(actor) {
		return nil, false
	}
	return h, true
}

func (v Validator) hasWall(m model.MapID, at, behind model.Vec3i, height int) bool {
	cell := at.Add(behind)
	for _, s := range v.Spatial.StaticsAt(m, cell.X, cell.Y) {
		if s.Is(host.FlagWall) && footprint.SpansOverlap(at.Z, height, s.Z, s.Height) {
			return true
		}
	}
	return false
}
