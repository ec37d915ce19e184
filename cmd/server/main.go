package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fixturecraft.ai/internal/persistence/archive"
	"fixturecraft.ai/internal/persistence/indexdb"
	persistlog "fixturecraft.ai/internal/persistence/log"
	"fixturecraft.ai/internal/persistence/snapshot"
	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/engine"
	"fixturecraft.ai/internal/sim/tuning"
	"fixturecraft.ai/internal/sim/world"
	"fixturecraft.ai/internal/transport/observer"
	"fixturecraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to world.yaml (default: <configs>/world.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the history index (ticks/audits/catalogs/snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load(orDefault(*tuningPath, filepath.Join(*configDir, "tuning.yaml")))
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	layout, err := world.LoadLayout(orDefault(*layoutPath, filepath.Join(*configDir, "world.yaml")))
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	e, err := engine.New(engine.ConfigFromTuning(*worldID, tune), layout, cats, log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(worldDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if err := e.Restore(snap); err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), e.CurrentTick())
	}

	// The preview store is part of the world state; it is never optional.
	previewsPath := filepath.Join(worldDir, "previews.db")
	previews, err := indexdb.OpenPreviewStore(previewsPath)
	if err != nil {
		logger.Fatalf("open preview store: %v", err)
	}
	defer previews.Close()
	e.SetPreviewStore(previews)

	// Optional read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	// One log segment per hour of ticks.
	span := uint64(tune.TickRateHz) * 3600
	tickLog := persistlog.NewTickLogger(worldDir, span)
	auditLog := persistlog.NewAuditLogger(worldDir, span)
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		e.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		e.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})
	} else {
		e.SetTickLogger(tickLog)
		e.SetAuditLogger(auditLog)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Resolve whatever previews the last run left behind before any client
	// can act. The inputs are archived when the sweep changed anything.
	rep, err := e.Startup(ctx, previews)
	if err != nil {
		logger.Fatalf("startup sweep: %v", err)
	}
	logger.Printf("startup sweep: rolled_back=%d stale=%d orphans=%d", rep.RolledBack, rep.Stale, rep.Orphans)
	if dir, ok, err := archive.ArchiveSweep(worldDir, snapshotToLoad, previewsPath, archive.SweepMeta{
		Tick:       e.CurrentTick(),
		RolledBack: rep.RolledBack,
		Stale:      rep.Stale,
		Orphans:    rep.Orphans,
	}); err != nil {
		logger.Printf("archive sweep: %v", err)
	} else if ok {
		logger.Printf("archived sweep inputs to %s", dir)
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	e.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.Path(worldDir, snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if n, err := snapshot.Prune(worldDir, tune.SnapshotKeep); err != nil {
					logger.Printf("snapshot prune: %v", err)
				} else if n > 0 {
					logger.Printf("pruned %d snapshots", n)
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := e.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(e, idx))

	if envBool("FC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, e, idx)
		obsSrv := observer.NewServer(e, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (FC_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("FC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(e, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s tick_rate=%dHz", *addr, *worldID, tune.TickRateHz)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a engine.TickLogger
	b engine.TickLogger
}

func (m multiTickLogger) WriteTick(entry engine.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a engine.AuditLogger
	b engine.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry engine.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
