package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd runs canned read-only queries against a world's history index.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	mobile := fs.Uint64("mobile", 0, "actor/mobile filter (audits, actions)")
	action := fs.String("action", "", "audit action filter, e.g. PLACE or ROLLBACK")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,mobiles,items,fixtures,previews FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Path     string `json:"path"`
				Mobiles  int    `json:"mobiles"`
				Items    int    `json:"items"`
				Fixtures int    `json:"fixtures"`
				Previews int    `json:"previews"`
			}
			exitOn("scan", rows.Scan(&r.Tick, &r.Path, &r.Mobiles, &r.Items, &r.Fixtures, &r.Previews))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "audits":
		where, qargs := []string{}, []any{}
		if *mobile != 0 {
			where = append(where, "actor=?")
			qargs = append(qargs, int64(*mobile))
		}
		if a := strings.TrimSpace(*action); a != "" {
			where = append(where, "action=?")
			qargs = append(qargs, strings.ToUpper(a))
		}
		stmt := `SELECT tick,actor,action,fixture,def_id,map,x,y,z,COALESCE(reason,'') FROM audits`
		if len(where) > 0 {
			stmt += " WHERE " + strings.Join(where, " AND ")
		}
		stmt += " ORDER BY tick DESC, seq DESC LIMIT ?"
		qargs = append(qargs, *limit)
		rows, err := db.Query(stmt, qargs...)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Actor   int64  `json:"actor"`
				Action  string `json:"action"`
				Fixture int64  `json:"fixture"`
				DefID   string `json:"def_id"`
				Map     string `json:"map"`
				Pos     [3]int `json:"pos"`
				Reason  string `json:"reason,omitempty"`
			}
			exitOn("scan", rows.Scan(&r.Tick, &r.Actor, &r.Action, &r.Fixture, &r.DefID, &r.Map, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Reason))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "actions":
		stmt := `SELECT tick,seq,mobile,act_json FROM actions ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs := []any{*limit}
		if *mobile != 0 {
			stmt = `SELECT tick,seq,mobile,act_json FROM actions WHERE mobile=? ORDER BY tick DESC, seq DESC LIMIT ?`
			qargs = []any{int64(*mobile), *limit}
		}
		rows, err := db.Query(stmt, qargs...)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64           `json:"tick"`
				Seq    int             `json:"seq"`
				Mobile int64           `json:"mobile"`
				Act    json.RawMessage `json:"act"`
			}
			var raw string
			exitOn("scan", rows.Scan(&r.Tick, &r.Seq, &r.Mobile, &raw))
			r.Act = json.RawMessage(raw)
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		exitOn("query", err)
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			exitOn("scan", rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt))
			printJSON(r)
		}
		exitOn("rows", rows.Err())

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-mobile N] [-action A] snapshots|audits|actions|catalogs")
		os.Exit(2)
	}
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
