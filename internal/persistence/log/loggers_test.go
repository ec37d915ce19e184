package log

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecraft.ai/internal/protocol"
	"fixturecraft.ai/internal/sim/engine"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir, 0)
	in := []engine.TickLogEntry{
		{Tick: 3, Joins: []engine.RecordedJoin{{Mobile: 1, Name: "Rowan"}}},
		{Tick: 4, Actions: []engine.RecordedAction{{Mobile: 1, Act: protocol.ActMsg{
			Type:    protocol.TypeAct,
			Actions: []protocol.ActionReq{{ID: "a1", Type: protocol.ActTarget, Map: "felucca", Pos: [3]int{104, 102, 0}}},
		}}}},
		{Tick: 9, Leaves: []uint64{1}},
	}
	for _, e := range in {
		require.NoError(t, l.WriteTick(e))
	}
	require.NoError(t, l.Close())

	files, err := Files(filepath.Join(dir, "ticks"), "ticks")
	require.NoError(t, err)
	require.Len(t, files, 1)

	var out []engine.TickLogEntry
	require.NoError(t, ReadJSONL(files[0], func(e engine.TickLogEntry) error {
		out = append(out, e)
		return nil
	}))
	assert.Equal(t, in, out)
}

func TestAuditLoggerAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	first := NewAuditLogger(dir, 0)
	require.NoError(t, first.WriteAudit(engine.AuditEntry{Tick: 1, Action: "PLACE", Fixture: 40}))
	require.NoError(t, first.Close())

	second := NewAuditLogger(dir, 0)
	require.NoError(t, second.WriteAudit(engine.AuditEntry{Tick: 2, Action: "ROLLBACK", Fixture: 41}))
	require.NoError(t, second.Close())

	files, err := Files(filepath.Join(dir, "audit"), "audit")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	var actions []string
	for _, f := range files {
		require.NoError(t, ReadJSONL(f, func(e engine.AuditEntry) error {
			actions = append(actions, e.Action)
			return nil
		}))
	}
	assert.Equal(t, []string{"PLACE", "ROLLBACK"}, actions)
}

func TestSegmentsRollOnTickSpan(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir, 10)
	for _, tick := range []uint64{1, 9, 10, 25, 26} {
		require.NoError(t, l.WriteTick(engine.TickLogEntry{Tick: tick}))
	}
	require.NoError(t, l.Close())

	files, err := Files(filepath.Join(dir, "ticks"), "ticks")
	require.NoError(t, err)
	require.Len(t, files, 3)

	var starts []uint64
	var ticks [][]uint64
	for _, f := range files {
		start, ok := SegmentStart(f)
		require.True(t, ok, f)
		starts = append(starts, start)
		var in []uint64
		require.NoError(t, ReadJSONL(f, func(e engine.TickLogEntry) error {
			in = append(in, e.Tick)
			return nil
		}))
		ticks = append(ticks, in)
	}
	assert.Equal(t, []uint64{0, 10, 20}, starts)
	assert.Equal(t, [][]uint64{{1, 9}, {10}, {25, 26}}, ticks)
}

func TestFilesMissingDir(t *testing.T) {
	files, err := Files(filepath.Join(t.TempDir(), "nope"), "ticks")
	require.NoError(t, err)
	assert.Empty(t, files)
}
