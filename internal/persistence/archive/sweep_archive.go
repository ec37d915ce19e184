package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SweepMeta records what a restart sweep did to the world it resumed.
type SweepMeta struct {
	Tick       uint64 `json:"tick"`
	Snapshot   string `json:"snapshot,omitempty"`
	Previews   string `json:"previews,omitempty"`
	CreatedAt  string `json:"created_at"`
	RolledBack int    `json:"rolled_back"`
	Stale      int    `json:"stale"`
	Orphans    int    `json:"orphans"`
}

func (m SweepMeta) Empty() bool { return m.RolledBack == 0 && m.Stale == 0 && m.Orphans == 0 }

// ArchiveSweep copies the snapshot and preview store a restart resumed from
// into `worldDir/archives/sweep_<tick>/` when the sweep changed anything.
// Either path may be empty. It returns the archive directory.
func ArchiveSweep(worldDir, snapshotPath, previewsPath string, meta SweepMeta) (dir string, archived bool, err error) {
	if meta.Empty() {
		return "", false, nil
	}
	dir = filepath.Join(worldDir, "archives", fmt.Sprintf("sweep_%d", meta.Tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	if snapshotPath != "" {
		dst := filepath.Join(dir, filepath.Base(snapshotPath))
		if err := copyFile(snapshotPath, dst); err != nil {
			return "", false, err
		}
		meta.Snapshot = filepath.Base(dst)
	}
	if previewsPath != "" {
		if _, statErr := os.Stat(previewsPath); statErr == nil {
			dst := filepath.Join(dir, filepath.Base(previewsPath))
			if err := copyFile(previewsPath, dst); err != nil {
				return "", false, err
			}
			meta.Previews = filepath.Base(dst)
		}
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return dir, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
