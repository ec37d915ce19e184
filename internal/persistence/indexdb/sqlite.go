// Package indexdb keeps the server's SQLite files: the preview store that
// placement saves at every checkpoint, and a queryable history index built
// from the tick and audit logs.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fixturecraft.ai/internal/persistence/snapshot"
	"fixturecraft.ai/internal/sim/catalogs"
	"fixturecraft.ai/internal/sim/engine"
	"fixturecraft.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     engine.TickLogEntry
	audit    engine.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick     uint64
	Path     string
	Mobiles  int
	Items    int
	Fixtures int
	Previews int
}

// Stats reports how far the writer has fallen behind.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTickTotal     uint64
	DropAuditTotal    uint64
	DropSnapshotTotal uint64
}

// openDB opens path with a single connection; SQLite serializes writers
// anyway.
func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func execAll(db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// OpenSQLite opens the history index and starts its writer.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := execAll(db, indexSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLiteIndex{
		db: db,
		// Bursts of chops and placements must not stall the tick.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

var indexSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS catalogs (
		name TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS ticks (
		tick INTEGER PRIMARY KEY,
		joins INTEGER NOT NULL,
		leaves INTEGER NOT NULL,
		actions INTEGER NOT NULL,
		raw_json TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS joins (
		tick INTEGER NOT NULL,
		mobile INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (tick, mobile)
	);`,
	`CREATE TABLE IF NOT EXISTS leaves (
		tick INTEGER NOT NULL,
		mobile INTEGER NOT NULL,
		PRIMARY KEY (tick, mobile)
	);`,
	`CREATE TABLE IF NOT EXISTS actions (
		tick INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		mobile INTEGER NOT NULL,
		act_json TEXT NOT NULL,
		PRIMARY KEY (tick, seq)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_actions_mobile_tick ON actions(mobile, tick);`,
	`CREATE TABLE IF NOT EXISTS audits (
		tick INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		actor INTEGER NOT NULL,
		action TEXT NOT NULL,
		fixture INTEGER NOT NULL,
		def_id TEXT NOT NULL,
		map TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		reason TEXT,
		raw_json TEXT NOT NULL,
		PRIMARY KEY (tick, seq)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
	`CREATE INDEX IF NOT EXISTS idx_audits_fixture_tick ON audits(fixture, tick);`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		tick INTEGER PRIMARY KEY,
		path TEXT NOT NULL,
		mobiles INTEGER NOT NULL,
		items INTEGER NOT NULL,
		fixtures INTEGER NOT NULL,
		previews INTEGER NOT NULL
	);`,
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry engine.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// The JSONL logs stay the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry engine.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		Mobiles:  len(snap.Mobiles),
		Items:    len(snap.Items),
		Fixtures: len(snap.Fixtures),
	}
	for _, f := range snap.Fixtures {
		if f.Preview {
			r.Previews++
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertCatalogs stores the catalogs and tuning the server runs with, so the
// history can be read against the definitions that produced it.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "items.json")); err == nil {
			rows = append(rows, kv{name: "items", digest: cats.Items.Digest, json: b})
		}
		if b, err := os.ReadFile(filepath.Join(configDir, "tourney_rules.yaml")); err == nil {
			rows = append(rows, kv{name: "tourney_rules", digest: cats.Tourney.Digest, json: b})
		}
	}
	{
		defs := make([]catalogs.FixtureDef, 0, len(cats.Fixtures.ByID))
		for _, d := range cats.Fixtures.ByID {
			defs = append(defs, d)
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		if b, _ := json.Marshal(defs); len(b) > 0 {
			rows = append(rows, kv{name: "fixtures", digest: cats.Fixtures.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		rows = append(rows, kv{name: "tuning", digest: TuningDigest(tune), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TuningDigest is the sha256 of the canonical JSON of t.
func TuningDigest(t tuning.Tuning) string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FixtureEvent is one audit row for a fixture.
type FixtureEvent struct {
	Tick   uint64
	Actor  uint64
	Action string
	Map    string
	Pos    [3]int
	Reason string
}

// History lists the audited events for fixture, oldest first. Rows still in
// the writer queue are not visible yet.
func (s *SQLiteIndex) History(ctx context.Context, fixture uint64) ([]FixtureEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,actor,action,map,x,y,z,COALESCE(reason,'') FROM audits WHERE fixture=? ORDER BY tick,seq`,
		int64(fixture))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FixtureEvent
	for rows.Next() {
		var (
			ev    FixtureEvent
			tick  int64
			actor int64
		)
		if err := rows.Scan(&tick, &actor, &ev.Action, &ev.Map, &ev.Pos[0], &ev.Pos[1], &ev.Pos[2], &ev.Reason); err != nil {
			return nil, err
		}
		ev.Tick, ev.Actor = uint64(tick), uint64(actor)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared on the db and bound to each batch transaction.
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,joins,leaves,actions,raw_json) VALUES(?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(tick,mobile,name) VALUES(?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(tick,mobile) VALUES(?,?)`)
	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(tick,seq,mobile,act_json) VALUES(?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,fixture,def_id,map,x,y,z,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,mobiles,items,fixtures,previews) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertJoin, insertLeave, insertAction, insertAudit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()

	for {
		var r req
		select {
		case <-flush.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			raw, _ := json.Marshal(t)
			if !exec(insertTick, int64(t.Tick), len(t.Joins), len(t.Leaves), len(t.Actions), string(raw)) {
				continue
			}
			for _, j := range t.Joins {
				if !exec(insertJoin, int64(t.Tick), int64(j.Mobile), j.Name) {
					break
				}
			}
			for _, m := range t.Leaves {
				if !exec(insertLeave, int64(t.Tick), int64(m)) {
					break
				}
			}
			for i, a := range t.Actions {
				actJSON, _ := json.Marshal(a.Act)
				if !exec(insertAction, int64(t.Tick), i, int64(a.Mobile), string(actJSON)) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec(insertAudit,
				int64(a.Tick), seq, int64(a.Actor), a.Action,
				int64(a.Fixture), a.DefID, a.Map,
				a.Pos[0], a.Pos[1], a.Pos[2],
				a.Reason, string(raw),
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Mobiles, sn.Items, sn.Fixtures, sn.Previews)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
