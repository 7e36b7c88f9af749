/*
Package dataset implements the streaming NDJSON writers behind each of the
archive's datasets (pages, edges, assets, errors, accessibility).

Responsibilities:
  - Accept one record at a time from worker goroutines and append it as a
    single JSON line, so the archive never needs the full dataset resident
    in memory
  - Rotate to a new part file once the configured size threshold is
    exceeded, so no single part grows unbounded on a large crawl
  - Compress each finished part with zstd (matching the blob store's
    codec) rather than leaving raw NDJSON in the staging tree
  - Track enough bookkeeping (record count, byte count, part paths) to
    populate the archive manifest's per-dataset metadata at finalize
*/
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/atlascrawl/atlas/pkg/fileutil"
)

// Name identifies one of the archive's fixed dataset kinds.
type Name string

const (
	Pages         Name = "pages"
	Edges         Name = "edges"
	Assets        Name = "assets"
	Errors        Name = "errors"
	Accessibility Name = "accessibility"
)

// Metadata is the per-dataset summary folded into the archive manifest.
type Metadata struct {
	Name        Name     `json:"name"`
	Present     bool     `json:"present"`
	RecordCount int64    `json:"recordCount"`
	Parts       []string `json:"parts"`
	BytesRaw    int64    `json:"bytesRaw"`
	BytesPacked int64    `json:"bytesCompressed"`
	SchemaURI   string   `json:"schemaUri"`
}

// DefaultPartSizeBytes is the uncompressed size threshold that triggers
// part rotation; 64 MiB keeps individual zip members and memory use modest
// on large crawls without fragmenting small ones into many tiny parts.
const DefaultPartSizeBytes = 64 * 1024 * 1024

// Writer appends one dataset's records as NDJSON, split across rotating
// part files, each compressed independently with zstd.
type Writer struct {
	name         Name
	dir          string
	partSize     int64
	encoderLevel zstd.EncoderLevel
	schema       *Schema

	mu             sync.Mutex
	buf            bytes.Buffer
	bufRecords     int64
	partIndex      int
	recordCount    int64
	flushedRecords int64
	bytesRaw       int64
	parts          []partInfo
	closed         bool
}

type partInfo struct {
	path        string
	bytesPacked int64
}

// NewWriter constructs a Writer that stages parts under dir (typically
// "<staging>/datasets/<name>"). partSizeBytes <= 0 uses DefaultPartSizeBytes.
func NewWriter(name Name, dir string, partSizeBytes int64, level zstd.EncoderLevel) *Writer {
	if partSizeBytes <= 0 {
		partSizeBytes = DefaultPartSizeBytes
	}
	return &Writer{
		name:         name,
		dir:          dir,
		partSize:     partSizeBytes,
		encoderLevel: level,
		schema:       SchemaFor(name),
	}
}

// Append marshals record as one NDJSON line and appends it to the current
// part, rotating to a new part first if the threshold would be exceeded.
func (w *Writer) Append(record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("dataset %s: marshal record: %w", w.name, err)
	}
	if err := w.schema.Validate(line); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("dataset %s: write after close", w.name)
	}

	if w.buf.Len() > 0 && int64(w.buf.Len()+len(line)+1) > w.partSize {
		if err := w.flushPartLocked(); err != nil {
			return err
		}
	}

	w.buf.Write(line)
	w.buf.WriteByte('\n')
	w.bufRecords++
	w.recordCount++
	w.bytesRaw += int64(len(line)) + 1
	return nil
}

// Finalize flushes any buffered records to a final part and returns the
// dataset's manifest metadata. The writer must not be used after Finalize.
func (w *Writer) Finalize() (Metadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Metadata{}, fmt.Errorf("dataset %s: already finalized", w.name)
	}
	if w.buf.Len() > 0 {
		if err := w.flushPartLocked(); err != nil {
			return Metadata{}, err
		}
	}
	w.closed = true

	paths := make([]string, len(w.parts))
	var bytesPacked int64
	for i, p := range w.parts {
		paths[i] = p.path
		bytesPacked += p.bytesPacked
	}

	return Metadata{
		Name:        w.name,
		Present:     w.recordCount > 0,
		RecordCount: w.recordCount,
		Parts:       paths,
		BytesRaw:    w.bytesRaw,
		BytesPacked: bytesPacked,
		SchemaURI:   SchemaURI(w.name),
	}, nil
}

// Flush forces any buffered records out as a part file, so a checkpoint
// taken right after sees every accepted record on disk. A short part is the
// price of a consistent resume point.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.buf.Len() == 0 {
		return nil
	}
	return w.flushPartLocked()
}

// ResumeWriter reconstructs a Writer over a staging directory left by an
// interrupted crawl: existing part files keep their place and numbering,
// and the record count continues from the checkpointed cursor. Raw byte
// accounting for the pre-crash parts is not recoverable and restarts at
// zero; the manifest's compressed sizes stay exact.
func ResumeWriter(name Name, dir string, partSizeBytes int64, level zstd.EncoderLevel, cursorRecords int64) (*Writer, error) {
	w := NewWriter(name, dir, partSizeBytes, level)
	w.recordCount = cursorRecords
	w.flushedRecords = cursorRecords

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return nil, fmt.Errorf("dataset %s: scan staging dir: %w", name, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl.zst") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		w.parts = append(w.parts, partInfo{
			path:        filepath.Join(dir, entry.Name()),
			bytesPacked: info.Size(),
		})
	}
	sort.Slice(w.parts, func(i, j int) bool { return w.parts[i].path < w.parts[j].path })
	w.partIndex = len(w.parts)
	return w, nil
}

// flushPartLocked compresses the current buffer and writes it as the next
// part file, atomically. Caller must hold w.mu.
func (w *Writer) flushPartLocked() error {
	partName := fmt.Sprintf("%s-%05d.jsonl.zst", w.name, w.partIndex)
	partPath := filepath.Join(w.dir, partName)

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed, zstd.WithEncoderLevel(w.encoderLevel))
	if err != nil {
		return fmt.Errorf("dataset %s: create encoder: %w", w.name, err)
	}
	if _, err := enc.Write(w.buf.Bytes()); err != nil {
		enc.Close()
		return fmt.Errorf("dataset %s: compress part: %w", w.name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("dataset %s: flush encoder: %w", w.name, err)
	}

	if classified := fileutil.WriteFileAtomic(partPath, compressed.Bytes(), 0o644); classified != nil {
		return fmt.Errorf("dataset %s: write part %s: %w", w.name, partName, classified)
	}

	w.parts = append(w.parts, partInfo{path: partPath, bytesPacked: int64(compressed.Len())})
	w.partIndex++
	w.flushedRecords += w.bufRecords
	w.bufRecords = 0
	w.buf.Reset()
	return nil
}

// Cursor returns how many records and parts have been durably flushed so
// far, for checkpoint persistence mid-crawl. Records still sitting in the
// in-memory buffer are excluded: a crash loses them, and a resume must not
// believe they were written.
func (w *Writer) Cursor() (records int64, parts int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushedRecords, len(w.parts)
}

// EnsureDir creates dir (and parents) if missing, so callers can set up a
// dataset's directory before constructing its Writer.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
