// Package ws is the player transport: one websocket per client, a HELLO
// handshake that binds a mobile, then ACT messages in and ACK/EVENT out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/engine"
)

// Engine is the part of the simulation the transport talks to.
type Engine interface {
	Join() chan<- engine.JoinRequest
	Leave() chan<- string
	Inbox() chan<- engine.ActionEnvelope
}

type Server struct {
	eng Engine
	log *log.Logger

	upgrader websocket.Upgrader
	// JoinTimeout bounds the wait for the engine to answer a HELLO.
	JoinTimeout time.Duration
}

func NewServer(eng Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		eng: eng,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		JoinTimeout: 5 * time.Second,
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID, out, observer := s.handshake(conn)
		if clientID == "" {
			return
		}
		defer s.leave(clientID)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if observer {
				continue
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				nack(out, act, protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			select {
			case s.eng.Inbox() <- engine.ActionEnvelope{ClientID: clientID, Act: act}:
			default:
				nack(out, act, protocol.ErrEngineBusy, "server busy; retry")
			}
		}
	}
}

func (s *Server) leave(clientID string) {
	select {
	case s.eng.Leave() <- clientID:
	case <-time.After(s.JoinTimeout):
		s.log.Printf("ws: leave for %s not delivered", clientID)
	}
}

func (s *Server) releaseLateJoin(respCh <-chan engine.JoinResponse) {
	resp := <-respCh
	if resp.Code != "" || resp.ClientID == "" {
		return
	}
	s.log.Printf("ws: join for %s answered after timeout; releasing", resp.ClientID)
	s.leave(resp.ClientID)
}

func (s *Server) handshake(conn *websocket.Conn) (clientID string, out chan []byte, observer bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return "", nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", nil, false
	}
	observer = hello.Capabilities.Observer
	if !observer && hello.MobileName == "" {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrUnknownMobile+": mobile_name required")
		return "", nil, false
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan engine.JoinResponse, 1)
	req := engine.JoinRequest{Name: hello.MobileName, Observer: observer, Out: out, Resp: respCh}
	select {
	case s.eng.Join() <- req:
	default:
		closeWith(conn, websocket.CloseTryAgainLater, protocol.ErrEngineBusy)
		return "", nil, false
	}
	var resp engine.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(s.JoinTimeout):
		// The request is already queued; a late bind must still be undone.
		go s.releaseLateJoin(respCh)
		closeWith(conn, websocket.CloseTryAgainLater, protocol.ErrEngineBusy)
		return "", nil, false
	}
	if resp.Code != "" {
		closeWith(conn, websocket.ClosePolicyViolation, resp.Code+": "+resp.Message)
		return "", nil, false
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.leave(resp.ClientID)
		return "", nil, false
	}
	return resp.ClientID, out, observer
}

// nack refuses every action of act without involving the engine.
func nack(out chan []byte, act protocol.ActMsg, code, msg string) {
	for _, a := range act.Actions {
		b, _ := json.Marshal(protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          a.ID,
			Code:            code,
			Message:         msg,
		})
		select {
		case out <- b:
		default:
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
