package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fixturecraft.ai/internal/persistence/indexdb"
	"fixturecraft.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "previews":
			previewsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "history":
			historyCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func worldDirFlag(fs *flag.FlagSet) func() string {
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	return func() string {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world")
			os.Exit(2)
		}
		return filepath.Join(*dataDir, "worlds", *worldID)
	}
}

// inspectCmd summarizes a snapshot: counts, then every fixture still in
// preview, which a restart will sweep.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	worldDir := worldDirFlag(fs)
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = snapshot.Latest(worldDir())
		if path == "" {
			fmt.Fprintln(os.Stderr, "no snapshots found")
			os.Exit(2)
		}
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d world=%s tick=%d next_serial=%d mobiles=%d items=%d houses=%d fixtures=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.NextSerial,
		len(snap.Mobiles), len(snap.Items), len(snap.Houses), len(snap.Fixtures))

	byDef := map[string]int{}
	for _, f := range snap.Fixtures {
		byDef[f.DefID]++
	}
	defs := make([]string, 0, len(byDef))
	for d := range byDef {
		defs = append(defs, d)
	}
	sort.Strings(defs)
	for _, d := range defs {
		fmt.Printf("  %-20s %d\n", d, byDef[d])
	}
	for _, f := range snap.Fixtures {
		if f.Preview {
			fmt.Printf("  preview serial=%d def=%s at %s %v\n", f.Serial, f.DefID, f.Map, f.Pos)
		}
	}
}

func previewsCmd(args []string) {
	fs := flag.NewFlagSet("previews", flag.ExitOnError)
	worldDir := worldDirFlag(fs)
	_ = fs.Parse(args)

	path := filepath.Join(worldDir(), "previews.db")
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "previews:", err)
		os.Exit(1)
	}
	s, err := indexdb.OpenPreviewStore(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer s.Close()
	entries, err := s.LoadPreviews(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("fixture=%d mobile=%d\n", e.Fixture, e.Mobile)
	}
	fmt.Printf("%d previews\n", len(entries))
}
