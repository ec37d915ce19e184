package engine

import (
	"fmt"

	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/model"
)

func (e *Engine) handleJoin(req JoinRequest) JoinResponse {
	if req.Out == nil {
		return JoinResponse{Code: protocol.ErrProtoBadRequest, Message: "no output channel"}
	}
	var m *model.Mobile
	if !req.Observer {
		m = e.world.MobileByName(req.Name)
		if m == nil {
			return JoinResponse{Code: protocol.ErrUnknownMobile, Message: fmt.Sprintf("no mobile named %q", req.Name)}
		}
		if _, busy := e.byMobile[m.Serial]; busy {
			return JoinResponse{Code: protocol.ErrMobileBusy, Message: fmt.Sprintf("%s is already connected", m.Name)}
		}
	}

	e.nextClient++
	c := &clientState{
		id:       fmt.Sprintf("C%d", e.nextClient),
		observer: req.Observer,
		out:      req.Out,
	}
	e.clients[c.id] = c

	cats := e.world.Catalogs()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		WorldID:         e.cfg.WorldID,
		Tick:            e.sched.Now(),
		WorldParams: protocol.WorldParams{
			TickRateHz: e.cfg.TickRateHz,
			MaxRange:   e.cfg.Placement.MaxRange,
			MaxPolls:   e.cfg.Placement.MaxPolls,
		},
		Catalogs: protocol.CatalogDigests{
			ItemsDigest:    cats.Items.Digest,
			FixturesDigest: cats.Fixtures.Digest,
			TourneyDigest:  cats.Tourney.Digest,
		},
	}
	if m != nil {
		c.mobile = m.Serial
		e.byMobile[m.Serial] = c.id
		e.world.SetConnected(m, true)
		welcome.Mobile = uint64(m.Serial)
		welcome.Name = m.Name
		welcome.Map = string(m.Map)
		welcome.Pos = m.Pos.ToArray()
		e.log.Printf("engine: %s joined as client %s", m.Name, c.id)
	}
	return JoinResponse{ClientID: c.id, Welcome: welcome}
}

// handleLeave unbinds a client. Its mobile goes link-dead, which cancels any
// preview it has open on the next poll.
func (e *Engine) handleLeave(id string) model.Serial {
	c := e.clients[id]
	if c == nil {
		return 0
	}
	delete(e.clients, id)
	if c.observer {
		return 0
	}
	delete(e.byMobile, c.mobile)
	if m := e.world.Mobile(c.mobile); m != nil {
		e.world.SetConnected(m, false)
		e.log.Printf("engine: %s left (client %s)", m.Name, id)
	}
	return c.mobile
}

// disconnectAll marks every mobile link-dead; nobody is bound until they join.
func (e *Engine) disconnectAll() {
	for _, m := range e.world.Mobiles() {
		if _, bound := e.byMobile[m.Serial]; !bound {
			e.world.SetConnected(m, false)
		}
	}
}
