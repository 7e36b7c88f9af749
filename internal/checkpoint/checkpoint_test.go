package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascrawl/atlas/internal/checkpoint"
	"github.com/atlascrawl/atlas/internal/frontier"
	"github.com/atlascrawl/atlas/internal/record"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	state := checkpoint.State{
		Pending: []frontier.Entry{
			{URLKey: "https://a.test/x", OriginalURL: "https://a.test/x", Depth: 1, DiscoveredInMode: record.RenderModeRaw},
		},
		Seen:    map[string]int{"https://a.test/": 0, "https://a.test/x": 1},
		Cursors: map[string]int64{"pages": 1, "edges": 3},
	}

	require.NoError(t, checkpoint.Save(dir, state))

	loaded, err := checkpoint.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, state.Pending, loaded.Pending)
	assert.Equal(t, state.Seen, loaded.Seen)
	assert.Equal(t, state.Cursors, loaded.Cursors)
}

func TestLoadMissingDirYieldsEmptyState(t *testing.T) {
	loaded, err := checkpoint.Load(filepath.Join(t.TempDir(), "never-written"))
	require.NoError(t, err)
	assert.Empty(t, loaded.Pending)
	assert.Empty(t, loaded.Seen)
	assert.Empty(t, loaded.Cursors)
}

func TestTruncatePartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-000.jsonl")
	content := "{\"a\":1}\n{\"b\":2}\n{\"torn\":"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	removed, err := checkpoint.TruncatePartialTrailingLine(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("{\"torn\":")), removed)

	repaired, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(repaired))
}

func TestTruncateWellFormedFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-000.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n"), 0o644))

	removed, err := checkpoint.TruncatePartialTrailingLine(path)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTruncateMissingFileIsNoop(t *testing.T) {
	removed, err := checkpoint.TruncatePartialTrailingLine(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRepairDatasetDirFixesOnlyRawParts(t *testing.T) {
	dir := t.TempDir()
	torn := filepath.Join(dir, "pages-00000.jsonl")
	require.NoError(t, os.WriteFile(torn, []byte("{\"ok\":true}\n{\"torn"), 0o644))
	// Compressed parts were written atomically; repair must leave them alone.
	packed := filepath.Join(dir, "pages-00001.jsonl.zst")
	require.NoError(t, os.WriteFile(packed, []byte("binary-not-ndjson"), 0o644))

	require.NoError(t, checkpoint.RepairDatasetDir(dir))

	repaired, err := os.ReadFile(torn)
	require.NoError(t, err)
	assert.Equal(t, "{\"ok\":true}\n", string(repaired))

	untouched, err := os.ReadFile(packed)
	require.NoError(t, err)
	assert.Equal(t, "binary-not-ndjson", string(untouched))
}

func TestRepairMissingDirIsNoop(t *testing.T) {
	assert.NoError(t, checkpoint.RepairDatasetDir(filepath.Join(t.TempDir(), "absent")))
}
