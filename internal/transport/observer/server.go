// Package observer serves operator dashboards on loopback: a bootstrap
// document describing the world, and a read-only websocket that receives
// every event and audit record as it happens.
package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/engine"
)

type Engine interface {
	ID() string
	TickRateHz() int
	CurrentTick() uint64
	Metrics() engine.Metrics
	Join() chan<- engine.JoinRequest
	Leave() chan<- string
}

// BootstrapResponse is what a dashboard reads before subscribing.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	TickRateHz      int            `json:"tick_rate_hz"`
	Metrics         engine.Metrics `json:"metrics"`
}

type Server struct {
	eng Engine
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(e Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		eng: e,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := BootstrapResponse{
			ProtocolVersion: protocol.Version,
			WorldID:         s.eng.ID(),
			Tick:            s.eng.CurrentTick(),
			TickRateHz:      s.eng.TickRateHz(),
			Metrics:         s.eng.Metrics(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// WSHandler streams EVENT messages to the dashboard. Anything the dashboard
// sends is ignored; closing the socket unsubscribes.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := make(chan []byte, 256)
		respCh := make(chan engine.JoinResponse, 1)
		select {
		case s.eng.Join() <- engine.JoinRequest{Observer: true, Out: out, Resp: respCh}:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, protocol.ErrEngineBusy), time.Now().Add(time.Second))
			return
		}
		var resp engine.JoinResponse
		select {
		case resp = <-respCh:
		case <-time.After(5 * time.Second):
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, protocol.ErrEngineBusy), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.eng.Leave() <- resp.ClientID:
			default:
				// Engine is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(resp.Welcome); err != nil {
			return
		}

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: only there to notice the close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
