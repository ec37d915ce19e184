package world

import (
	"fmt"

	"fixturecraft.ai/internal/sim/host"
	"fixturecraft.ai/internal/sim/model"
)

// AddMobile creates a living, connected mobile with an empty backpack.
func (w *World) AddMobile(name string, m model.MapID, p model.Vec3i, access model.AccessLevel) *model.Mobile {
	mob := &model.Mobile{
		Serial:      w.serials.Next(),
		Name:        name,
		Pos:         p,
		Map:         m,
		AccessLevel: access,
		Alive:       true,
		Connected:   true,
		Props:       map[string]int{},
	}
	pack := w.NewItem("Backpack")
	pack.Container = true
	pack.Parent = mob.Serial
	mob.Backpack = pack
	w.mobiles[mob.Serial] = mob
	if name != "" {
		w.byName[name] = mob
	}
	return mob
}

// AdoptMobile registers a mobile restored from a snapshot, along with every
// item it carries.
func (w *World) AdoptMobile(m *model.Mobile) {
	w.mobiles[m.Serial] = m
	if m.Name != "" {
		w.byName[m.Name] = m
	}
	if m.Backpack != nil {
		m.Backpack.Parent = m.Serial
		w.AdoptItem(m.Backpack)
	}
	for _, it := range m.Equipped {
		it.Parent = m.Serial
		w.AdoptItem(it)
	}
	if m.Holding != nil {
		m.Holding.Parent = m.Serial
		w.AdoptItem(m.Holding)
	}
}

func (w *World) Mobile(s model.Serial) *model.Mobile {
	m := w.mobiles[s]
	if !m.Valid() {
		return nil
	}
	return m
}

func (w *World) MobileByName(name string) *model.Mobile {
	m := w.byName[name]
	if !m.Valid() {
		return nil
	}
	return m
}

func (w *World) SetConnected(m *model.Mobile, on bool) {
	if m == nil {
		return
	}
	m.Connected = on
	if !on {
		delete(w.prompts, m.Serial)
	}
}

func (w *World) Kill(m *model.Mobile) {
	if m == nil {
		return
	}
	m.Alive = false
	delete(w.prompts, m.Serial)
}

func (w *World) Message(m *model.Mobile, text string) {
	if m == nil || text == "" {
		return
	}
	msgs := append(w.messages[m.Serial], text)
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	w.messages[m.Serial] = msgs
	w.emit(Event{Kind: EventMessage, Mobile: m.Serial, Text: text})
}

func (w *World) Sound(m model.MapID, at model.Vec3i, soundID int) {
	w.emit(Event{Kind: EventSound, Map: m, Pos: at, Sound: soundID})
}

// Confirm opens a yes/no prompt. A newer prompt for the same mobile replaces
// the old one, whose callback then never runs.
func (w *World) Confirm(m *model.Mobile, text string, respond func(bool)) {
	if !m.Valid() {
		return
	}
	w.nextPrompt++
	w.prompts[m.Serial] = &prompt{id: w.nextPrompt, text: text, respond: respond}
	w.emit(Event{Kind: EventPrompt, Mobile: m.Serial, Text: text, Prompt: w.nextPrompt})
}

// PendingPrompt returns the open prompt text for a mobile.
func (w *World) PendingPrompt(s model.Serial) (string, bool) {
	p := w.prompts[s]
	if p == nil {
		return "", false
	}
	return p.text, true
}

// Answer delivers a response to the mobile's open prompt. It reports false
// when there is nothing to answer.
func (w *World) Answer(s model.Serial, accepted bool) bool {
	p := w.prompts[s]
	if p == nil {
		return false
	}
	delete(w.prompts, s)
	if p.respond != nil {
		p.respond(accepted)
	}
	return true
}

func (w *World) Deliver(m *model.Mobile, it *model.Item, fallbackMap model.MapID, fallback model.Vec3i) host.Delivery {
	if it == nil {
		return 0
	}
	w.detach(it)
	if m.Valid() {
		if w.packRoom(m.Backpack) {
			m.Backpack.Add(it)
			return host.DeliveredToPack
		}
		if m.Map.Valid() {
			w.dropAt(it, m.Map, m.Pos)
			return host.DroppedAtFeet
		}
	}
	w.dropAt(it, fallbackMap, fallback)
	w.log.Printf("world: item %d dropped at %s %v", it.Serial, fallbackMap, fallback)
	return host.DroppedAtFallback
}

// ClearHand puts whatever is on the cursor back into the pack.
func (w *World) ClearHand(m *model.Mobile) {
	it := m.Holding
	if it == nil {
		return
	}
	m.Holding = nil
	it.Parent = 0
	w.Deliver(m, it, m.Map, m.Pos)
}

// Equip moves it onto m's body.
func (w *World) Equip(m *model.Mobile, it *model.Item) {
	w.detach(it)
	it.Parent = m.Serial
	it.Map = model.MapNone
	m.Equipped = append(m.Equipped, it)
}

// Hold puts it on m's cursor.
func (w *World) Hold(m *model.Mobile, it *model.Item) {
	w.detach(it)
	if m.Holding != nil {
		w.ClearHand(m)
	}
	it.Parent = m.Serial
	it.Map = model.MapNone
	m.Holding = it
}

// MoveMobile puts m at p on mapID.
func (w *World) MoveMobile(m *model.Mobile, mapID model.MapID, p model.Vec3i) error {
	if !m.Valid() {
		return fmt.Errorf("move: no such mobile")
	}
	if !w.HasMap(mapID) {
		return fmt.Errorf("move to %q: %w", mapID, ErrBadMap)
	}
	m.Map, m.Pos = mapID, p
	return nil
}
