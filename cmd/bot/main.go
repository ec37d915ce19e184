package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"fixturecraft.ai/internal/protocol"
)

// bot is a scripted player: it binds a mobile, optionally places one deed at
// a fixed spot, answers the confirmation prompt and logs whatever comes back.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "Rowan", "mobile name")
		deed   = flag.Uint64("deed", 0, "serial of a deed in the pack to place (0: just listen)")
		x      = flag.Int("x", 0, "target x")
		y      = flag.Int("y", 0, "target y")
		z      = flag.Int("z", 0, "target z")
		accept = flag.Bool("accept", true, "answer the placement prompt with yes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		MobileName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 16},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	seq := 0
	send := func(reqs ...protocol.ActionReq) {
		for i := range reqs {
			seq++
			reqs[i].ID = fmt.Sprintf("bot_%d", seq)
		}
		if err := conn.WriteJSON(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Actions: reqs}); err != nil {
			logger.Printf("send ACT: %v", err)
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				logger.Printf("closed: %d %s", ce.Code, ce.Text)
			}
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME world=%s mobile=%d %s at %s %v tick_rate=%d", w.WorldID, w.Mobile, w.Name, w.Map, w.Pos, w.WorldParams.TickRateHz)
			if *deed != 0 {
				send(
					protocol.ActionReq{Type: protocol.ActUseDeed, Item: *deed},
					protocol.ActionReq{Type: protocol.ActTarget, Map: w.Map, Pos: [3]int{*x, *y, *z}},
				)
			}

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if a.Accepted {
				logger.Printf("ACK %s ok", a.AckFor)
			} else {
				logger.Printf("ACK %s %s: %s", a.AckFor, a.Code, a.Message)
			}

		case protocol.TypeEvent:
			var ev protocol.EventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			for _, e := range ev.Events {
				logger.Printf("tick=%d %v", ev.Tick, e)
				if e["type"] == protocol.EventPrompt {
					send(protocol.ActionReq{Type: protocol.ActAnswer, Accept: *accept})
				}
			}
		}
	}
}
