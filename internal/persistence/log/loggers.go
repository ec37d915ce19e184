// Package log writes the tick and audit logs as zstd-compressed JSONL
// segments, each covering a fixed span of ticks.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"fixturecraft.ai/internal/sim/engine"
)

// DefaultSpan is the number of ticks each log segment covers when the
// caller does not choose: an hour at 20 Hz.
const DefaultSpan = 72000

// segmentWriter appends JSON lines to zstd files that each cover a fixed
// span of ticks. A segment is named after its first tick, zero padded, so
// a lexical sort is tick order and a reader can skip whole segments.
type segmentWriter struct {
	dir    string
	prefix string
	span   uint64

	mu    sync.Mutex
	start uint64
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
}

func newSegmentWriter(dir, prefix string, span uint64) *segmentWriter {
	if span == 0 {
		span = DefaultSpan
	}
	return &segmentWriter{dir: dir, prefix: prefix, span: span}
}

// write records v, which belongs to tick. Entries must arrive in tick
// order; a tick from an earlier segment lands in the open one.
func (w *segmentWriter) write(tick uint64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if start := tick - tick%w.span; w.f == nil || start > w.start {
		if err := w.openLocked(start); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.Flush()
}

// openLocked closes the current segment and opens the one starting at
// start, appending a new zstd frame when it already exists.
func (w *segmentWriter) openLocked(start uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(segmentPath(w.dir, w.prefix, start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.start = f, enc, start
	w.buf = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

func (w *segmentWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *segmentWriter) closeLocked() error {
	if w.f == nil {
		return nil
	}
	var err error
	if ferr := w.buf.Flush(); ferr != nil {
		err = ferr
	}
	if cerr := w.enc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := w.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.f, w.enc, w.buf = nil, nil, nil
	return err
}

func segmentPath(dir, prefix string, start uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%012d.jsonl.zst", prefix, start))
}

// SegmentStart parses the first tick out of a segment file name.
func SegmentStart(path string) (uint64, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".jsonl.zst")
	i := strings.LastIndexByte(name, '-')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(name[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TickLogger records the input applied on each tick; replaying it against
// the snapshot it started from reproduces the world.
type TickLogger struct{ w *segmentWriter }

// NewTickLogger writes under worldDir/ticks, one segment per span ticks
// (DefaultSpan when zero).
func NewTickLogger(worldDir string, span uint64) *TickLogger {
	return &TickLogger{w: newSegmentWriter(filepath.Join(worldDir, "ticks"), "ticks", span)}
}

func (l *TickLogger) WriteTick(v engine.TickLogEntry) error { return l.w.write(v.Tick, v) }
func (l *TickLogger) Close() error                          { return l.w.close() }

// AuditLogger records placements, rollbacks, chops, drops and rule checks.
type AuditLogger struct{ w *segmentWriter }

func NewAuditLogger(worldDir string, span uint64) *AuditLogger {
	return &AuditLogger{w: newSegmentWriter(filepath.Join(worldDir, "audit"), "audit", span)}
}

func (l *AuditLogger) WriteAudit(v engine.AuditEntry) error { return l.w.write(v.Tick, v) }
func (l *AuditLogger) Close() error                         { return l.w.close() }

// Files lists the log files under dir written with prefix, oldest first.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadJSONL decodes every line of a compressed JSONL file into a fresh T and
// hands it to fn. It stops at the first error fn returns.
func ReadJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}
