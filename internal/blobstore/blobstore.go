/*
Package blobstore is the content-addressed body store backing the archive's
raw HTML and rendered-snapshot payloads.

Responsibilities:
  - Address every blob by the SHA-256 hex digest of its uncompressed bytes
  - Use a cheap BLAKE3 digest as a pre-check before the SHA-256 confirms an
    identical blob is already on disk, so a crawl that revisits the same
    body (mirrors, paginated duplicates) pays one BLAKE3 pass instead of a
    redundant compress+write
  - Store blobs zstd-compressed, sharded two levels deep by hash prefix so
    no single directory holds more than a few hundred thousand entries
  - Write atomically: every blob lands via a temp-file-then-rename so a
    reader never observes a partially written blob
*/
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/atlascrawl/atlas/pkg/failure"
	"github.com/atlascrawl/atlas/pkg/fileutil"
	"github.com/atlascrawl/atlas/pkg/hashutil"
	"github.com/atlascrawl/atlas/pkg/retry"
)

// Stats is the running dedup/size tally for one crawl's blob store,
// embedded in the archive manifest.
type Stats struct {
	BlobsWritten      int64 `json:"totalBlobs"`
	BlobsDeduped      int64 `json:"deduplicationHits"`
	BytesWritten      int64 `json:"bytesCompressed"`
	BytesUncompressed int64 `json:"bytesUncompressed"`
}

// Store is a single crawl's blob store rooted at a "blobs" directory inside
// the archive staging tree.
type Store struct {
	root string

	mu        sync.Mutex
	blake3Idx map[string]string // blake3 digest -> sha256 digest, first-seen cache
	inflight  map[string]*sync.WaitGroup
	stats     Stats

	encoderLevel zstd.EncoderLevel
	retryParam   retry.RetryParam
}

// New constructs a Store rooted at dir (typically "<staging>/blobs"). level
// selects the zstd compression/speed tradeoff; zstd.SpeedDefault is a
// reasonable default for a crawl that must keep up with fetch throughput.
func New(dir string, level zstd.EncoderLevel) *Store {
	return &Store{
		root:         dir,
		blake3Idx:    make(map[string]string),
		inflight:     make(map[string]*sync.WaitGroup),
		encoderLevel: level,
		retryParam: retry.RetryParam{
			MaxAttempts: 2,
		},
	}
}

// Put stores data, returning its SHA-256 hex digest as the blob reference.
// A blob already present (by content) is not rewritten; Stats.BlobsDeduped
// is incremented instead.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	fast, err := hashutil.HashBytes(data, hashutil.HashAlgoBLAKE3)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if sha, ok := s.blake3Idx[fast]; ok {
		s.stats.BlobsDeduped++
		s.mu.Unlock()
		return sha, nil
	}
	s.mu.Unlock()

	sha, err := hashutil.HashBytes(data, hashutil.HashAlgoSHA256)
	if err != nil {
		return "", err
	}

	// Per-hash single-flight around the check-then-write sequence: two
	// workers storing the same body concurrently must produce one write and
	// one dedup hit, not two writes.
	for {
		s.mu.Lock()
		wg, busy := s.inflight[sha]
		if !busy {
			break
		}
		s.mu.Unlock()
		wg.Wait()
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	s.inflight[sha] = wg
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, sha)
		s.mu.Unlock()
		wg.Done()
	}()

	path := s.pathFor(sha)
	if _, statErr := os.Stat(path); statErr == nil {
		s.mu.Lock()
		s.blake3Idx[fast] = sha
		s.stats.BlobsDeduped++
		s.mu.Unlock()
		return sha, nil
	}

	compressed, err := s.compress(data)
	if err != nil {
		return "", err
	}

	result := retry.Retry(s.retryParam, func() (struct{}, failure.ClassifiedError) {
		if werr := fileutil.WriteFileAtomic(path, compressed, 0o644); werr != nil {
			return struct{}{}, werr
		}
		return struct{}{}, nil
	})
	if !result.Ok() {
		return "", result.Err()
	}

	s.mu.Lock()
	s.blake3Idx[fast] = sha
	s.stats.BlobsWritten++
	s.stats.BytesWritten += int64(len(compressed))
	s.stats.BytesUncompressed += int64(len(data))
	s.mu.Unlock()

	return sha, nil
}

// Get decompresses and returns the blob addressed by sha.
func (s *Store) Get(sha string) ([]byte, error) {
	path := s.pathFor(sha)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}

// Snapshot returns a copy of the store's running counters.
func (s *Store) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// BlobRef returns the archive-relative reference recorded on page records
// for a SHA-256 digest: blobs/sha256/<aa>/<bb>/<hash>.zst.
func BlobRef(sha string) string {
	if len(sha) < 4 {
		return "blobs/sha256/" + sha + ".zst"
	}
	return "blobs/sha256/" + sha[0:2] + "/" + sha[2:4] + "/" + sha + ".zst"
}

// pathFor returns the sharded on-disk path for a SHA-256 hex digest:
// <root>/sha256/<aa>/<bb>/<hash>.zst.
func (s *Store) pathFor(sha string) string {
	if len(sha) < 4 {
		return filepath.Join(s.root, "sha256", sha+".zst")
	}
	return filepath.Join(s.root, "sha256", sha[0:2], sha[2:4], sha+".zst")
}

func (s *Store) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(s.encoderLevel))
	if err != nil {
		return nil, fmt.Errorf("blobstore: create encoder: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("blobstore: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("blobstore: flush encoder: %w", err)
	}
	return buf.Bytes(), nil
}
