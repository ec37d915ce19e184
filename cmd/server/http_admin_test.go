package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fixturecraft.ai/internal/persistence/indexdb"
	"fixturecraft.ai/internal/sim/engine"
)

type fakeEngine struct {
	tick     uint64
	snapErr  error
	snapshot int
}

func (f *fakeEngine) ID() string          { return "world_t" }
func (f *fakeEngine) CurrentTick() uint64 { return f.tick }
func (f *fakeEngine) Metrics() engine.Metrics {
	return engine.Metrics{Tick: f.tick, Fixtures: 5, Previews: 2, Clients: 1, StepMS: 0.5}
}
func (f *fakeEngine) RequestSnapshot(context.Context) (uint64, error) {
	f.snapshot++
	return f.tick, f.snapErr
}

func newAdminMux(t *testing.T, f *fakeEngine, idx *indexdb.SQLiteIndex) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metricsHandler(f, idx))
	registerAdmin(mux, f, idx)
	return mux
}

func serve(mux *http.ServeMux, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestMetricsExposition(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	mux := newAdminMux(t, &fakeEngine{tick: 42}, idx)
	rec := serve(mux, http.MethodGet, "/metrics", "203.0.113.9:4000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`fixturecraft_world_tick{world="world_t"} 42`,
		`fixturecraft_world_previews{world="world_t"} 2`,
		`fixturecraft_index_queue_capacity{world="world_t"} 65536`,
		`fixturecraft_index_dropped_total{world="world_t",kind="audit"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestAdminEndpointsAreLoopbackOnly(t *testing.T) {
	f := &fakeEngine{tick: 7}
	mux := newAdminMux(t, f, nil)

	if rec := serve(mux, http.MethodGet, "/admin/v1/state", "198.51.100.4:1234"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote state: status=%d", rec.Code)
	}
	rec := serve(mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("local state: status=%d", rec.Code)
	}
	var state struct {
		WorldID string `json:"world_id"`
		Tick    uint64 `json:"tick"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.WorldID != "world_t" || state.Tick != 7 {
		t.Fatalf("state=%+v", state)
	}

	if rec := serve(mux, http.MethodGet, "/admin/v1/snapshot", "127.0.0.1:1234"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot: status=%d", rec.Code)
	}
	if rec := serve(mux, http.MethodPost, "/admin/v1/snapshot", "127.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("POST snapshot: status=%d", rec.Code)
	}
	if f.snapshot != 1 {
		t.Fatalf("snapshot requests=%d", f.snapshot)
	}

	if rec := serve(mux, http.MethodGet, "/admin/v1/fixtures/9/history", "127.0.0.1:1234"); rec.Code != http.StatusNotFound {
		t.Fatalf("history without index: status=%d", rec.Code)
	}
}

func TestFixtureHistoryEndpoint(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()
	_ = idx.WriteAudit(engine.AuditEntry{Tick: 3, Actor: 1, Action: "PLACE", Fixture: 40, DefID: "bench", Map: "felucca", Pos: [3]int{12, 10, 0}})
	_ = idx.WriteAudit(engine.AuditEntry{Tick: 9, Actor: 1, Action: "CHOP", Fixture: 40, DefID: "bench", Map: "felucca", Pos: [3]int{12, 10, 0}})

	mux := newAdminMux(t, &fakeEngine{}, idx)
	if rec := serve(mux, http.MethodGet, "/admin/v1/fixtures/abc/history", "127.0.0.1:1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad serial: status=%d", rec.Code)
	}

	// The writer batches; poll until both rows are visible.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := serve(mux, http.MethodGet, "/admin/v1/fixtures/40/history", "127.0.0.1:1")
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Fixture uint64                 `json:"fixture"`
			Events  []indexdb.FixtureEvent `json:"events"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Events) == 2 {
			if resp.Events[0].Action != "PLACE" || resp.Events[1].Action != "CHOP" {
				t.Fatalf("events=%+v", resp.Events)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never filled: %+v", resp.Events)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
