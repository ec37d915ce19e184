package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fixturecraft.ai/internal/persistence/indexdb"
	"fixturecraft.ai/internal/sim/engine"
	"fixturecraft.ai/internal/transport/observer"
)

type adminEngine interface {
	ID() string
	CurrentTick() uint64
	Metrics() engine.Metrics
	RequestSnapshot(ctx context.Context) (uint64, error)
}

func metricsHandler(e adminEngine, idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		id := e.ID()
		m := e.Metrics()
		tick := e.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		gauge(rw, "fixturecraft_world_tick", "Current world tick.", id, float64(tick))
		gauge(rw, "fixturecraft_world_fixtures", "Registered fixtures, previews included.", id, float64(m.Fixtures))
		gauge(rw, "fixturecraft_world_previews", "Previews awaiting an answer.", id, float64(m.Previews))
		gauge(rw, "fixturecraft_world_timers", "Pending scheduler timers.", id, float64(m.Timers))
		gauge(rw, "fixturecraft_world_clients", "Connected clients.", id, float64(m.Clients))
		gauge(rw, "fixturecraft_world_inbox_depth", "Action inbox backlog.", id, float64(m.Inbox))
		gauge(rw, "fixturecraft_world_step_ms", "Last tick step duration in milliseconds.", id, m.StepMS)

		if idx == nil {
			return
		}
		s := idx.Stats()
		gauge(rw, "fixturecraft_index_queue_depth", "History index writer backlog.", id, float64(s.QueueDepth))
		gauge(rw, "fixturecraft_index_queue_capacity", "History index writer capacity.", id, float64(s.QueueCapacity))
		fmt.Fprintf(rw, "# HELP fixturecraft_index_dropped_total Index rows dropped because the writer queue was full.\n")
		fmt.Fprintf(rw, "# TYPE fixturecraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "fixturecraft_index_dropped_total{world=%q,kind=%q} %d\n", id, "tick", s.DropTickTotal)
		fmt.Fprintf(rw, "fixturecraft_index_dropped_total{world=%q,kind=%q} %d\n", id, "audit", s.DropAuditTotal)
		fmt.Fprintf(rw, "fixturecraft_index_dropped_total{world=%q,kind=%q} %d\n", id, "snapshot", s.DropSnapshotTotal)
	}
}

func gauge(rw http.ResponseWriter, name, help, world string, v float64) {
	fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
	fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
	fmt.Fprintf(rw, "%s{world=%q} %g\n", name, world, v)
}

// registerAdmin mounts the loopback-only operator endpoints.
func registerAdmin(mux *http.ServeMux, e adminEngine, idx *indexdb.SQLiteIndex) {
	mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, struct {
			WorldID string         `json:"world_id"`
			Tick    uint64         `json:"tick"`
			Metrics engine.Metrics `json:"metrics"`
		}{
			WorldID: e.ID(),
			Tick:    e.CurrentTick(),
			Metrics: e.Metrics(),
		})
	}))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := e.RequestSnapshot(ctx)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
	}))
	mux.HandleFunc("/admin/v1/fixtures/{serial}/history", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if idx == nil {
			http.Error(rw, "history index disabled", http.StatusNotFound)
			return
		}
		serial, err := strconv.ParseUint(r.PathValue("serial"), 10, 64)
		if err != nil || serial == 0 {
			http.Error(rw, "bad serial", http.StatusBadRequest)
			return
		}
		evs, err := idx.History(r.Context(), serial)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		if evs == nil {
			evs = []indexdb.FixtureEvent{}
		}
		writeJSON(rw, http.StatusOK, map[string]any{"fixture": serial, "events": evs})
	}))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
