/*
Package checkpoint persists and restores the durable crawl state a resume
needs: the frontier's pending entries, its seen set, and each dataset
writer's cursor.

Responsibilities
  - Write frontier.json and seen.json atomically alongside the archive's
    staging tree
  - On resume, validate every dataset part file by truncating any partial
    trailing line at the last LF, so a writer reopened mid-part never
    appends after a torn record
*/
package checkpoint

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlascrawl/atlas/internal/frontier"
	"github.com/atlascrawl/atlas/pkg/fileutil"
)

// State is the full durable snapshot written at each checkpoint.
type State struct {
	Pending []frontier.Entry `json:"pending"`
	Seen    map[string]int   `json:"seen"`
	Cursors map[string]int64 `json:"cursors"` // dataset name -> records flushed
}

// Save writes frontier.json, seen.json, and cursors.json into dir
// atomically.
func Save(dir string, state State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	frontierBytes, err := json.Marshal(state.Pending)
	if err != nil {
		return err
	}
	if classified := fileutil.WriteFileAtomic(filepath.Join(dir, "frontier.json"), frontierBytes, 0o644); classified != nil {
		return classified
	}

	seenBytes, err := json.Marshal(state.Seen)
	if err != nil {
		return err
	}
	if classified := fileutil.WriteFileAtomic(filepath.Join(dir, "seen.json"), seenBytes, 0o644); classified != nil {
		return classified
	}

	cursorBytes, err := json.Marshal(state.Cursors)
	if err != nil {
		return err
	}
	if classified := fileutil.WriteFileAtomic(filepath.Join(dir, "cursors.json"), cursorBytes, 0o644); classified != nil {
		return classified
	}

	return nil
}

// Load reads back a previously saved State from dir. Missing files are
// treated as empty rather than an error, so a checkpoint taken before the
// first dataset write still resumes cleanly.
func Load(dir string) (State, error) {
	state := State{Seen: make(map[string]int), Cursors: make(map[string]int64)}

	if err := readJSONIfExists(filepath.Join(dir, "frontier.json"), &state.Pending); err != nil {
		return State{}, err
	}
	if err := readJSONIfExists(filepath.Join(dir, "seen.json"), &state.Seen); err != nil {
		return State{}, err
	}
	if err := readJSONIfExists(filepath.Join(dir, "cursors.json"), &state.Cursors); err != nil {
		return State{}, err
	}

	return state, nil
}

func readJSONIfExists(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, target)
}

// RepairDatasetDir validates every raw NDJSON part left in dir by an
// interrupted crawl, truncating any torn trailing line. Compressed parts
// were written atomically and need no repair.
func RepairDatasetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if _, err := TruncatePartialTrailingLine(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// TruncatePartialTrailingLine validates an NDJSON part file by scanning for
// the last newline and truncating anything written after it, so a torn
// final record left by a crash never corrupts a resumed append. Returns the
// number of bytes removed.
func TruncatePartialTrailingLine(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	reader := bufio.NewReader(f)
	var lastNewlineOffset int64 = -1
	var offset int64
	for {
		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		if b == '\n' {
			lastNewlineOffset = offset
		}
		offset++
	}

	if lastNewlineOffset == size-1 {
		return 0, nil // already well-formed
	}
	if err := f.Truncate(lastNewlineOffset + 1); err != nil {
		return 0, err
	}
	return size - (lastNewlineOffset + 1), nil
}
