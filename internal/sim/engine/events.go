package engine

import (
	"encoding/json"

	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/fixture"
	"fixturecraft.ai/internal/sim/model"
	"fixturecraft.ai/internal/sim/placement"
	"fixturecraft.ai/internal/sim/world"
)

// HearingRange is how far from its source a sound reaches a mobile.
const HearingRange = 18

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry records the input applied on one tick.
type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []uint64         `json:"leaves,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
}

type RecordedJoin struct {
	Mobile uint64 `json:"mobile"`
	Name   string `json:"name"`
}

type RecordedAction struct {
	Mobile uint64          `json:"mobile"`
	Act    protocol.ActMsg `json:"act"`
}

func (t TickLogEntry) Empty() bool {
	return len(t.Joins) == 0 && len(t.Leaves) == 0 && len(t.Actions) == 0
}

// AuditEntry is one durable record of a placement, chop, drop or rule check.
type AuditEntry struct {
	Tick    uint64 `json:"tick"`
	Actor   uint64 `json:"actor,omitempty"`
	Action  string `json:"action"` // e.g. "PLACE"
	Fixture uint64 `json:"fixture,omitempty"`
	DefID   string `json:"def_id,omitempty"`
	Map     string `json:"map,omitempty"`
	Pos     [3]int `json:"pos"`
	Reason  string `json:"reason,omitempty"`
}

var placementActions = map[placement.EventKind]string{
	placement.EventPreview:  "PLACE_PREVIEW",
	placement.EventPlaced:   "PLACE",
	placement.EventRollback: "ROLLBACK",
	placement.EventRejected: "PLACE_REJECT",
	placement.EventSwept:    "SWEEP",
}

var placementEvents = map[placement.EventKind]string{
	placement.EventPreview:  protocol.EventPreview,
	placement.EventPlaced:   protocol.EventPlaced,
	placement.EventRollback: protocol.EventRollback,
	placement.EventRejected: protocol.EventRejected,
	placement.EventSwept:    protocol.EventSwept,
}

// pendingEvent waits for the end of the tick. A zero mobile means the event
// is located (sounds) or only of interest to observers.
type pendingEvent struct {
	mobile model.Serial
	ev     protocol.Event
	mapID  model.MapID
	pos    model.Vec3i
	// located events reach every mobile within HearingRange.
	located bool
}

func (e *Engine) onWorld(ev world.Event) {
	switch ev.Kind {
	case world.EventMessage:
		e.pending = append(e.pending, pendingEvent{
			mobile: ev.Mobile,
			ev:     protocol.Event{"type": protocol.EventMessage, "mobile": uint64(ev.Mobile), "text": ev.Text},
		})
	case world.EventPrompt:
		e.pending = append(e.pending, pendingEvent{
			mobile: ev.Mobile,
			ev:     protocol.Event{"type": protocol.EventPrompt, "mobile": uint64(ev.Mobile), "prompt": ev.Prompt, "text": ev.Text},
		})
	case world.EventSound:
		e.pending = append(e.pending, pendingEvent{
			ev:      protocol.Event{"type": protocol.EventSound, "sound": ev.Sound, "map": string(ev.Map), "pos": ev.Pos.ToArray()},
			mapID:   ev.Map,
			pos:     ev.Pos,
			located: true,
		})
	}
}

func (e *Engine) onPlacement(ev placement.Event) {
	ent := AuditEntry{
		Tick:    ev.Tick,
		Actor:   uint64(ev.Mobile),
		Action:  placementActions[ev.Kind],
		Fixture: uint64(ev.Fixture),
		DefID:   ev.DefID,
		Map:     string(ev.Map),
		Pos:     ev.Pos.ToArray(),
		Reason:  ev.Reason,
	}
	e.audits = append(e.audits, ent)
	out := protocol.Event{
		"type":    placementEvents[ev.Kind],
		"mobile":  uint64(ev.Mobile),
		"fixture": uint64(ev.Fixture),
		"def_id":  ev.DefID,
		"map":     string(ev.Map),
		"pos":     ev.Pos.ToArray(),
	}
	if ev.Reason != "" {
		out["reason"] = ev.Reason
	}
	e.pending = append(e.pending, pendingEvent{mobile: ev.Mobile, ev: out})
}

func (e *Engine) onNotice(n fixture.Notice) {
	ent := AuditEntry{
		Tick:   e.sched.Now(),
		Action: string(n.Kind),
		Reason: n.Detail,
	}
	if n.Mobile != nil {
		ent.Actor = uint64(n.Mobile.Serial)
	}
	if f := n.Fixture; f != nil {
		ent.Fixture = uint64(f.Serial)
		ent.DefID = f.Def.ID
		ent.Map = string(f.Map())
		ent.Pos = f.Location().ToArray()
	}
	e.audits = append(e.audits, ent)
}

// flushEvents writes the tick's audit records and hands every client the
// events meant for it.
func (e *Engine) flushEvents(tick uint64) {
	for _, a := range e.audits {
		if e.auditLogger != nil {
			_ = e.auditLogger.WriteAudit(a)
		}
	}
	audits := e.audits
	e.audits = e.audits[:0]
	pending := e.pending
	e.pending = e.pending[:0]
	if len(e.clients) == 0 || (len(pending) == 0 && len(audits) == 0) {
		return
	}

	for _, c := range e.clients {
		var evs []protocol.Event
		var self *model.Mobile
		if !c.observer {
			self = e.world.Mobile(c.mobile)
		}
		for _, p := range pending {
			switch {
			case c.observer:
				evs = append(evs, p.ev)
			case p.located:
				if self != nil && self.Map == p.mapID && model.InRange(self.Pos, p.pos, HearingRange) {
					evs = append(evs, p.ev)
				}
			case p.mobile == c.mobile:
				evs = append(evs, p.ev)
			}
		}
		if c.observer {
			for _, a := range audits {
				evs = append(evs, protocol.Event{
					"type":    protocol.EventAudit,
					"mobile":  a.Actor,
					"fixture": a.Fixture,
					"def_id":  a.DefID,
					"map":     a.Map,
					"pos":     a.Pos,
					"reason":  a.Action,
				})
			}
		}
		if len(evs) == 0 {
			continue
		}
		b, err := json.Marshal(protocol.EventMsg{
			Type:            protocol.TypeEvent,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			Events:          evs,
		})
		if err != nil {
			e.log.Printf("engine: encode events: %v", err)
			continue
		}
		sendLatest(c.out, b)
	}
}

// sendLatest never blocks the tick: when the client's queue is full the
// oldest message is dropped.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
