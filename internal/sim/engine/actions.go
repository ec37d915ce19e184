package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/placement"
	"fixturecraft.ai/internal/sim/world"
)

// actionError carries a protocol code back to the acting client.
type actionError struct {
	code string
	msg  string
}

func (e *actionError) Error() string { return e.code + ": " + e.msg }

func reject(code, format string, args ...any) error {
	return &actionError{code: code, msg: fmt.Sprintf(format, args...)}
}

// applyAct runs every action of one ACT in order and acknowledges each.
func (e *Engine) applyAct(c *clientState, act protocol.ActMsg) []protocol.AckMsg {
	m := e.world.Mobile(c.mobile)
	acks := make([]protocol.AckMsg, 0, len(act.Actions))
	for _, a := range act.Actions {
		var err error
		switch {
		case act.ProtocolVersion != "" && act.ProtocolVersion != protocol.Version:
			err = reject(protocol.ErrProtoBadRequest, "unsupported protocol version %q", act.ProtocolVersion)
		case m == nil:
			err = reject(protocol.ErrUnknownMobile, "mobile %d is gone", c.mobile)
		default:
			err = e.applyAction(m, a)
		}
		ack := protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          a.ID,
			Accepted:        err == nil,
			ServerTick:      e.sched.Now(),
		}
		if err != nil {
			ack.Code, ack.Message = ackCode(err), err.Error()
		}
		acks = append(acks, ack)
		if b, jerr := json.Marshal(ack); jerr == nil {
			sendLatest(c.out, b)
		}
	}
	return acks
}

func (e *Engine) applyAction(m *model.Mobile, a protocol.ActionReq) error {
	switch a.Type {
	case protocol.ActUseDeed:
		return e.proto.UseDeed(m, e.world.Item(model.Serial(a.Item)))

	case protocol.ActTarget:
		mapID := m.Map
		if a.Map != "" {
			mapID = model.MapID(a.Map)
		}
		return e.proto.Target(m, mapID, model.FromArray(a.Pos))

	case protocol.ActCancel:
		if s := e.proto.Session(m.Serial); s == nil || s.State != placement.Targeting {
			return placement.ErrNotTargeting
		}
		e.proto.Cancel(m)
		return nil

	case protocol.ActAnswer:
		if _, ok := e.world.PendingPrompt(m.Serial); !ok {
			return reject(protocol.ErrStale, "nothing to answer")
		}
		e.world.Answer(m.Serial, a.Accept)
		return nil

	case protocol.ActChop:
		f := e.reg.Fixture(model.Serial(a.Fixture))
		if f == nil {
			return reject(protocol.ErrInvalidTarget, "no fixture %d", a.Fixture)
		}
		switch f.OnChop(m) {
		case fixture.ChopTooFar:
			return reject(protocol.ErrOutOfRange, "fixture %d is too far away", a.Fixture)
		case fixture.ChopDenied:
			return reject(protocol.ErrNoPermission, "you may not remove fixture %d", a.Fixture)
		case fixture.ChopNothing:
			return reject(protocol.ErrInvalidTarget, "fixture %d cannot be chopped", a.Fixture)
		}
		return nil

	case protocol.ActUse:
		c := e.reg.Component(model.Serial(a.Component))
		if c == nil {
			return reject(protocol.ErrInvalidTarget, "no component %d", a.Component)
		}
		switch e.reg.Use(c, m) {
		case fixture.UseTooFar:
			return reject(protocol.ErrOutOfRange, "component %d is out of reach", a.Component)
		case fixture.UseIgnored:
			return reject(protocol.ErrInvalidTarget, "component %d does nothing", a.Component)
		}
		return nil

	case protocol.ActDrop:
		return e.drop(m, a)

	case protocol.ActMove:
		mapID := m.Map
		if a.Map != "" {
			mapID = model.MapID(a.Map)
		}
		return e.world.MoveMobile(m, mapID, model.FromArray(a.Pos))
	}
	return reject(protocol.ErrBadRequest, "unknown action type %q", a.Type)
}

// drop packs a fixture up into its deed: into a container in m's pack, onto
// the ground at Map/Pos, or straight into m's pack.
func (e *Engine) drop(m *model.Mobile, a protocol.ActionReq) error {
	f := e.reg.Fixture(model.Serial(a.Fixture))
	if f == nil || f.Preview {
		return reject(protocol.ErrInvalidTarget, "no fixture %d", a.Fixture)
	}
	if m.Map != f.Map() || !model.InRange(m.Pos, f.Location(), e.cfg.Fixture.ChopRange) {
		return reject(protocol.ErrOutOfRange, "fixture %d is too far away", a.Fixture)
	}
	if !f.MayRemove(m) {
		return reject(protocol.ErrNoPermission, "you may not remove fixture %d", a.Fixture)
	}
	target := host.DropTarget{Kind: host.DropMobile, Mobile: m}
	switch {
	case a.Container != 0:
		box := e.world.Item(model.Serial(a.Container))
		if box == nil || !box.Container || (box != m.Backpack && !e.world.InPack(m, box)) {
			return reject(protocol.ErrInvalidTarget, "container %d is not in your pack", a.Container)
		}
		target = host.DropTarget{Kind: host.DropContainer, Container: box, Mobile: m}
	case a.Map != "":
		at := model.FromArray(a.Pos)
		if model.MapID(a.Map) != m.Map || !model.InRange(m.Pos, at, e.cfg.Fixture.ChopRange) {
			return reject(protocol.ErrOutOfRange, "drop location is too far away")
		}
		target = host.DropTarget{Kind: host.DropWorld, Map: model.MapID(a.Map), Pos: at, Mobile: m}
	}
	_, err := e.reg.Drop(f, target)
	return err
}

// ackCode maps an action error to its protocol code.
func ackCode(err error) string {
	var ae *actionError
	if errors.As(err, &ae) {
		return ae.code
	}
	var fe *placement.FitError
	if errors.As(err, &fe) {
		return protocol.ErrBlocked
	}
	switch {
	case errors.Is(err, placement.ErrNotDeed), errors.Is(err, fixture.ErrNotDeed):
		return protocol.ErrBadRequest
	case errors.Is(err, placement.ErrNotInPack):
		return protocol.ErrInvalidTarget
	case errors.Is(err, placement.ErrAlreadyPlacing):
		return protocol.ErrConflict
	case errors.Is(err, placement.ErrNotTargeting):
		return protocol.ErrStale
	case errors.Is(err, placement.ErrOutOfRange):
		return protocol.ErrOutOfRange
	case errors.Is(err, placement.ErrZone):
		return protocol.ErrNoPermission
	case errors.Is(err, fixture.ErrDropRejected):
		return protocol.ErrBlocked
	case errors.Is(err, world.ErrBadMap):
		return protocol.ErrInvalidTarget
	case errors.Is(err, placement.ErrInternal):
		return protocol.ErrInternal
	}
	return protocol.ErrInternal
}
