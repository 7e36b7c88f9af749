/*
Package archive assembles one crawl's blob store, datasets, schemas, and
manifest into the single compressed archive file Atlas produces.

Responsibilities:
  - Own a staging directory ("<out>.staging/<crawlId>/") that blobstore and
    dataset writers populate incrementally during the crawl
  - Write the reader-facing schemas/ documents once at init, generated from
    the same structural gates the dataset writers enforce
  - Build the manifest (mode, capabilities, per-dataset metadata, storage
    and policy parameters, blob store stats, integrity map) once every
    writer has finalized
  - Pack the staging tree into a zip container, storing already-compressed
    members (blobs, dataset parts) uncompressed and deflating the small
    manifest/summary/schema JSON files
  - Finalize atomically: the zip is built at a temp path beside the
    destination and renamed into place, so a reader never observes a
    half-written archive
  - Mark an archive "incomplete" when the crawl is interrupted before a
    clean finalize, so a resume can tell a good archive from a partial one
*/
package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atlascrawl/atlas/internal/blobstore"
	"github.com/atlascrawl/atlas/internal/dataset"
	"github.com/atlascrawl/atlas/internal/build"
	"github.com/atlascrawl/atlas/pkg/fileutil"
)

// Mode mirrors the crawl-wide fetch/render tier recorded in the manifest.
type Mode string

const (
	ModeRaw       Mode = "raw"
	ModePrerender Mode = "prerender"
	ModeFull      Mode = "full"
)

// Capability is one closed-set string describing an optional data surface
// present in this archive, so a reader can detect what it can rely on
// without probing datasets.
type Capability string

const (
	CapSEOCore      Capability = "seo.core"
	CapSEOEnhanced  Capability = "seo.enhanced"
	CapA11yCore     Capability = "a11y.core"
	CapRenderDOM    Capability = "render.dom"
	CapRenderNetlog Capability = "render.netlog"
	CapReplayHTML   Capability = "replay.html"
	CapReplayCSS    Capability = "replay.css"
	CapReplayJS     Capability = "replay.js"
	CapReplayFonts  Capability = "replay.fonts"
	CapReplayImages Capability = "replay.images"
)

// CapabilitiesFor derives the manifest capability set from the crawl mode.
// Every crawl extracts SEO and static accessibility; the render tiers add
// the DOM-snapshot surface, and full mode the network log.
func CapabilitiesFor(mode Mode) []Capability {
	caps := []Capability{CapSEOCore, CapSEOEnhanced, CapA11yCore, CapReplayHTML}
	switch mode {
	case ModePrerender:
		caps = append(caps, CapRenderDOM)
	case ModeFull:
		caps = append(caps, CapRenderDOM, CapRenderNetlog)
	}
	return caps
}

// Compression describes the archive-wide codec parameters.
type Compression struct {
	Algorithm string `json:"algorithm"`
	Level     int    `json:"level"`
}

// Storage is the manifest's storage-parameters block.
type Storage struct {
	Compression Compression `json:"compression"`
	BlobFormat  string      `json:"blobFormat"`
}

// RobotsPolicy records how robots.txt was honored during the crawl.
type RobotsPolicy struct {
	Respect       bool `json:"respect"`
	OverridesUsed bool `json:"overridesUsed"`
}

// PrivacyPolicy records what the crawl scrubbed before archiving.
type PrivacyPolicy struct {
	StripCookies     bool `json:"stripCookies"`
	StripAuthHeaders bool `json:"stripAuthHeaders"`
	RedactInputs     bool `json:"redactInputs"`
	RedactPii        bool `json:"redactPii"`
}

// Integrity maps every archive member (relative path, forward slashes) to
// the SHA-256 hex of its bytes. manifest.json itself is the one member not
// covered, since the map lives inside it.
type Integrity struct {
	Files map[string]string `json:"files"`
}

// Manifest is the archive's self-description, written as manifest.json at
// the root of the zip container.
type Manifest struct {
	AtlasVersion   string                        `json:"atlasVersion"`
	FormatVersion  int                           `json:"formatVersion"`
	CrawlID        string                        `json:"crawlId"`
	CreatedAt      time.Time                     `json:"createdAt"`
	Generator      string                        `json:"generator"`
	Owner          string                        `json:"owner,omitempty"`
	Mode           Mode                          `json:"mode"`
	Seeds          []string                      `json:"seeds"`
	Capabilities   []Capability                  `json:"capabilities"`
	Datasets       map[string]dataset.Metadata   `json:"datasets"`
	Storage        Storage                       `json:"storage"`
	RobotsPolicy   RobotsPolicy                  `json:"robotsPolicy"`
	PrivacyPolicy  PrivacyPolicy                 `json:"privacyPolicy"`
	BlobStats      blobstore.Stats               `json:"blobStats"`
	Integrity      Integrity                     `json:"integrity"`
	Incomplete     bool                          `json:"incomplete"`
	Notes          []string                      `json:"notes,omitempty"`
}

// Summary is the small, human-skimmable summary.json sibling to manifest.json.
type Summary struct {
	CrawlID          string `json:"crawlId"`
	CompletionReason string `json:"completionReason"`
	TotalPages       int64  `json:"totalPages"`
	TotalEdges       int64  `json:"totalEdges"`
	TotalAssets      int64  `json:"totalAssets"`
	TotalErrors      int64  `json:"totalErrors"`
	DurationMs       int64  `json:"durationMs"`
	PeakRssBytes     int64  `json:"peakRssBytes,omitempty"`
}

const formatVersion = 1

// Archive owns one crawl's staging directory and the final packed output.
type Archive struct {
	outPath     string
	stagingRoot string
	crawlID     string

	Blobs *blobstore.Store
}

// New creates the staging directory tree for a crawl writing to outPath
// ("<out>.staging/<crawlId>/blobs", ".../datasets/<name>/", ".../schemas/")
// and writes the dataset schema documents.
func New(outPath, crawlID string) (*Archive, error) {
	stagingRoot := filepath.Join(outPath+".staging", crawlID)
	return newAt(outPath, crawlID, stagingRoot)
}

// Resume attaches to an existing staging directory left by an interrupted
// crawl instead of creating a fresh one; it still re-asserts the directory
// layout and schema documents so a partially initialized tree heals.
func Resume(outPath, crawlID, stagingRoot string) (*Archive, error) {
	return newAt(outPath, crawlID, stagingRoot)
}

func newAt(outPath, crawlID, stagingRoot string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Join(stagingRoot, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create staging dir: %w", err)
	}
	for _, name := range []dataset.Name{dataset.Pages, dataset.Edges, dataset.Assets, dataset.Errors, dataset.Accessibility} {
		if err := os.MkdirAll(filepath.Join(stagingRoot, "datasets", string(name)), 0o755); err != nil {
			return nil, fmt.Errorf("archive: create dataset dir %s: %w", name, err)
		}
	}

	schemasDir := filepath.Join(stagingRoot, "schemas")
	if err := os.MkdirAll(schemasDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create schemas dir: %w", err)
	}
	for _, name := range []dataset.Name{dataset.Pages, dataset.Edges, dataset.Assets, dataset.Errors, dataset.Accessibility} {
		doc, err := dataset.SchemaDocument(name)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(schemasDir, string(name)+".schema.json")
		if classified := fileutil.WriteFileAtomic(path, doc, 0o644); classified != nil {
			return nil, fmt.Errorf("archive: write schema %s: %w", name, classified)
		}
	}

	return &Archive{
		outPath:     outPath,
		stagingRoot: stagingRoot,
		crawlID:     crawlID,
		Blobs:       blobstore.New(filepath.Join(stagingRoot, "blobs"), 3),
	}, nil
}

// StagingRoot returns the directory writers should stage their files under.
func (a *Archive) StagingRoot() string {
	return a.stagingRoot
}

// DatasetDir returns the staging directory for a given dataset name.
func (a *Archive) DatasetDir(name dataset.Name) string {
	return filepath.Join(a.stagingRoot, "datasets", string(name))
}

// Generator is the manifest's generator string.
func Generator() string {
	return "atlas/" + build.Version
}

// WriteIncompleteMarker persists a manifest with Incomplete=true so a
// subsequent resume can recognize this staging tree as partial. It does not
// pack the zip; that only happens on a clean Finalize.
func (a *Archive) WriteIncompleteMarker(m Manifest) error {
	m.Incomplete = true
	a.stampLocked(&m)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(a.stagingRoot, "manifest.json")
	if classified := fileutil.WriteFileAtomic(path, data, 0o644); classified != nil {
		return classified
	}
	return nil
}

func (a *Archive) stampLocked(m *Manifest) {
	m.AtlasVersion = build.Version
	m.FormatVersion = formatVersion
	m.CrawlID = a.crawlID
	m.Generator = Generator()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}

// Finalize writes summary.json, computes the integrity map over every
// staging file, writes manifest.json, packs the whole tree into a zip at a
// temp path beside outPath, and renames it into place. The staging
// directory is removed only after the rename succeeds.
func (a *Archive) Finalize(m Manifest, s Summary) error {
	m.Incomplete = false
	a.stampLocked(&m)

	summaryBytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal summary: %w", err)
	}
	if classified := fileutil.WriteFileAtomic(filepath.Join(a.stagingRoot, "summary.json"), summaryBytes, 0o644); classified != nil {
		return fmt.Errorf("archive: write summary: %w", classified)
	}

	// Stale incomplete marker from a checkpoint would be hashed below and
	// then overwritten; drop it first so the integrity map stays honest.
	os.Remove(filepath.Join(a.stagingRoot, "manifest.json"))

	integrity, err := hashTree(a.stagingRoot)
	if err != nil {
		return fmt.Errorf("archive: compute integrity: %w", err)
	}
	m.Integrity = Integrity{Files: integrity}

	manifestBytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if classified := fileutil.WriteFileAtomic(filepath.Join(a.stagingRoot, "manifest.json"), manifestBytes, 0o644); classified != nil {
		return fmt.Errorf("archive: write manifest: %w", classified)
	}

	tmpPath := a.outPath + ".tmp"
	if err := packZip(a.stagingRoot, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("archive: pack zip: %w", err)
	}
	if err := os.Rename(tmpPath, a.outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("archive: finalize rename: %w", err)
	}

	return os.RemoveAll(filepath.Dir(a.stagingRoot))
}

// hashTree computes sha256 hex for every regular file under root, keyed by
// slash-separated relative path, in sorted order.
func hashTree(root string) (map[string]string, error) {
	files := make(map[string]string)
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		digest, err := hashFile(path)
		if err != nil {
			return nil, err
		}
		files[filepath.ToSlash(rel)] = digest
	}
	return files, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// packZip walks root and writes every regular file into a zip at dstPath.
// Members whose name already ends in a compressed extension are stored
// rather than deflated a second time.
func packZip(root, dstPath string) error {
	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		method := zip.Deflate
		if strings.HasSuffix(rel, ".zst") || strings.HasSuffix(rel, ".gz") ||
			strings.HasSuffix(rel, ".jpg") || strings.HasSuffix(rel, ".png") {
			method = zip.Store
		}

		header := &zip.FileHeader{
			Name:     rel,
			Method:   method,
			Modified: info.ModTime(),
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Sync()
}
