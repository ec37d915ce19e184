package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"fixturecraft.ai/internal/persistence/indexdb"
	persistlog "fixturecraft.ai/internal/persistence/log"
	"fixturecraft.ai/internal/persistence/snapshot"
	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/engine"
	"fixturecraft.ai/internal/sim/tuning"
	"fixturecraft.ai/internal/sim/world"
)

func main() {
	var (
		worldDir  = flag.String("world_dir", "", "world data dir containing ticks/ and audit/")
		snapPath  = flag.String("snapshot", "", "path to .snap.zst to start from (default: fresh world from layout)")
		previews  = flag.String("previews", "", "previews.db to sweep at startup (optional)")
		configDir = flag.String("configs", "./configs", "config directory")
		worldID   = flag.String("world", "world_1", "world id (fresh start only)")
		toTick    = flag.Uint64("to_tick", 0, "stop after tick (inclusive, optional)")
	)
	flag.Parse()

	if *worldDir == "" {
		fmt.Fprintln(os.Stderr, "missing -world_dir")
		os.Exit(2)
	}
	res, err := replay(context.Background(), options{
		WorldDir:  *worldDir,
		Snapshot:  *snapPath,
		Previews:  *previews,
		ConfigDir: *configDir,
		WorldID:   *worldID,
		ToTick:    *toTick,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: ticks=%d..%d steps=%d audits=%d\n", res.From, res.To, res.Steps, res.Audits)
}

type options struct {
	WorldDir  string
	Snapshot  string
	Previews  string
	ConfigDir string
	WorldID   string
	ToTick    uint64
}

type result struct {
	From, To uint64
	Steps    uint64
	Audits   int
}

type auditRecorder struct{ entries []engine.AuditEntry }

func (r *auditRecorder) WriteAudit(e engine.AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

// replay rebuilds the engine, steps it through the recorded input and
// compares the audits it produces with the recorded audit log.
func replay(ctx context.Context, opt options) (result, error) {
	cats, err := catalogs.Load(opt.ConfigDir)
	if err != nil {
		return result{}, fmt.Errorf("load catalogs: %w", err)
	}
	tune, err := tuning.Load(filepath.Join(opt.ConfigDir, "tuning.yaml"))
	if err != nil {
		return result{}, fmt.Errorf("load tuning: %w", err)
	}
	layout, err := world.LoadLayout(filepath.Join(opt.ConfigDir, "world.yaml"))
	if err != nil {
		return result{}, fmt.Errorf("load layout: %w", err)
	}

	id := opt.WorldID
	var snap *snapshot.SnapshotV1
	if opt.Snapshot != "" {
		s, err := snapshot.ReadSnapshot(opt.Snapshot)
		if err != nil {
			return result{}, fmt.Errorf("read snapshot: %w", err)
		}
		snap, id = &s, s.Header.WorldID
	}

	cfg := engine.ConfigFromTuning(id, tune)
	cfg.SnapshotEveryTicks = 0
	e, err := engine.New(cfg, layout, cats, log.New(io.Discard, "", 0))
	if err != nil {
		return result{}, err
	}
	if snap != nil {
		if err := e.Restore(*snap); err != nil {
			return result{}, fmt.Errorf("restore: %w", err)
		}
	}
	rec := &auditRecorder{}
	e.SetAuditLogger(rec)

	if opt.Previews != "" {
		store, err := indexdb.OpenPreviewStore(opt.Previews)
		if err != nil {
			return result{}, fmt.Errorf("open previews: %w", err)
		}
		defer store.Close()
		if _, err := e.Startup(ctx, store); err != nil {
			return result{}, fmt.Errorf("startup: %w", err)
		}
	} else if _, err := e.Startup(ctx, nil); err != nil {
		return result{}, err
	}

	from := e.Scheduler().Now()
	res := result{From: from, To: from}
	clients := map[uint64]string{}

	files, err := persistlog.Files(filepath.Join(opt.WorldDir, "ticks"), "ticks")
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no tick logs under %s", opt.WorldDir)
	}

	done := errors.New("stop")
	for i, path := range files {
		// Segments that end before the snapshot hold nothing to replay.
		if i+1 < len(files) {
			if next, ok := persistlog.SegmentStart(files[i+1]); ok && next <= from {
				continue
			}
		}
		err := persistlog.ReadJSONL(path, func(entry engine.TickLogEntry) error {
			if entry.Tick < from {
				return nil
			}
			if opt.ToTick != 0 && entry.Tick > opt.ToTick {
				return done
			}
			// Quiet ticks are not logged but still run timers.
			for e.Scheduler().Now() < entry.Tick {
				e.StepOnce(nil, nil, nil)
				res.Steps++
			}
			if e.Scheduler().Now() != entry.Tick {
				return fmt.Errorf("tick %d is behind the engine (now=%d)", entry.Tick, e.Scheduler().Now())
			}
			if err := stepEntry(e, entry, clients); err != nil {
				return err
			}
			res.Steps++
			res.To = entry.Tick
			return nil
		})
		if errors.Is(err, done) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}

	want, err := recordedAudits(opt.WorldDir, from, res.To)
	if err != nil {
		return res, err
	}
	res.Audits = len(rec.entries)
	if err := compareAudits(want, rec.entries); err != nil {
		return res, err
	}
	return res, nil
}

// stepEntry feeds one logged tick back in. Joins are re-issued by name and
// the resulting client ids are tracked per mobile for later leaves/actions.
// A client only acts after its WELCOME, so every logged action belongs to a
// mobile joined on an earlier tick.
func stepEntry(e *engine.Engine, entry engine.TickLogEntry, clients map[uint64]string) error {
	var leaves []string
	for _, m := range entry.Leaves {
		if id, ok := clients[m]; ok {
			leaves = append(leaves, id)
			delete(clients, m)
		}
	}
	acts := make([]engine.ActionEnvelope, 0, len(entry.Actions))
	for _, ra := range entry.Actions {
		id, ok := clients[ra.Mobile]
		if !ok {
			return fmt.Errorf("tick %d: action from mobile %d with no live client", entry.Tick, ra.Mobile)
		}
		acts = append(acts, engine.ActionEnvelope{ClientID: id, Act: ra.Act})
	}
	joins := make([]engine.JoinRequest, 0, len(entry.Joins))
	resps := make([]chan engine.JoinResponse, 0, len(entry.Joins))
	for _, j := range entry.Joins {
		resp := make(chan engine.JoinResponse, 1)
		joins = append(joins, engine.JoinRequest{Name: j.Name, Out: make(chan []byte, 1), Resp: resp})
		resps = append(resps, resp)
	}

	e.StepOnce(joins, leaves, acts)

	for i, ch := range resps {
		r := <-ch
		if r.Code != "" {
			return fmt.Errorf("tick %d: rejoin %s: %s", entry.Tick, entry.Joins[i].Name, r.Code)
		}
		clients[r.Welcome.Mobile] = r.ClientID
	}
	return nil
}

func recordedAudits(worldDir string, from, to uint64) ([]engine.AuditEntry, error) {
	files, err := persistlog.Files(filepath.Join(worldDir, "audit"), "audit")
	if err != nil {
		return nil, err
	}
	var out []engine.AuditEntry
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(a engine.AuditEntry) error {
			if a.Tick >= from && a.Tick <= to {
				out = append(out, a)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return out, nil
}

// compareAudits only looks at what the simulation decides; Reason text is
// free to change between builds.
func compareAudits(want, got []engine.AuditEntry) error {
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		w, g := want[i], got[i]
		if w.Tick != g.Tick || w.Action != g.Action || w.Fixture != g.Fixture || w.Actor != g.Actor || w.Pos != g.Pos {
			return fmt.Errorf("audit %d diverged: recorded tick=%d %s fixture=%d, replayed tick=%d %s fixture=%d",
				i, w.Tick, w.Action, w.Fixture, g.Tick, g.Action, g.Fixture)
		}
	}
	if len(want) != len(got) {
		return fmt.Errorf("audit count: recorded=%d replayed=%d", len(want), len(got))
	}
	return nil
}
