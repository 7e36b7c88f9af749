package metadata

import (
	"time"
)

// ArtifactKind classifies an artifact recorded via RecordArtifact.
type ArtifactKind string

const (
	ArtifactPage    ArtifactKind = "page"
	ArtifactBlob    ArtifactKind = "blob"
	ArtifactDataset ArtifactKind = "dataset"
	ArtifactArchive ArtifactKind = "archive"
)

// MetadataSink is the observability boundary every pipeline stage writes
// through. It is purely observational: nothing read back from a sink may
// influence scheduling, retries, or crawl termination (see ErrorCause).
type MetadataSink interface {
	RecordError(observedAt time.Time, packageName, action string, cause ErrorCause, details string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordAssetFetch(assetURL string, httpStatus int, duration time.Duration, retryCount int)
	RecordTiming(stage string, d time.Duration)
	RecordCounter(name string, delta int64)
	Emit(eventType EventType, crawlID string, fields map[string]string)
}

// CrawlFinalizer computes the terminal, derived summary of a completed
// crawl. It is constructed without reading metadata and is recorded exactly
// once, after termination.
type CrawlFinalizer interface {
	Finalize() CrawlStats
}

// CrawlStats is the terminal, derived summary of a completed crawl:
// aggregate counts and durations only, computed after termination, never
// read back into scheduling decisions.
type CrawlStats struct {
	TotalPages  int
	TotalErrors int
	TotalAssets int
	DurationMs  int64
}

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, metrics, reporting).

	Rules:
	 - ErrorCause is for observability only.
	 - It must never be used to derive retry, continuation, or abort decisions.
	 - Any use of metadata.ErrorCause outside logging, metrics, or reporting is a design violation.
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause MUST NOT be used for retry, continuation, or abort decisions.
	 - ErrorCause values MUST have stable, package-agnostic semantics.
	 - Pipeline packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.
	Non-goals:
	 - ErrorCause does not encode severity.
	 - ErrorCause does not imply retryability.
	 - ErrorCause does not imply crawl termination.
	 - ErrorCause does not imply correctness of downstream behavior.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

Meaning:
  - The failure does not map cleanly to any known category.
  - Used as a safe fallback.

Examples:
  - Unexpected internal errors
  - Unclassified third-party library failures

# CauseNetworkFailure

Meaning:
  - Failure caused by network transport or remote availability.

Examples:
  - TCP timeouts
  - DNS resolution failures
  - Connection resets
  - robots.txt fetch timeout

# CausePolicyDisallow

Meaning:
  - Crawling was disallowed by an explicit policy or rule.

Examples:
  - robots.txt disallow
  - HTTP 403 / 401 interpreted as access denial
  - rate-limit enforcement

# CauseContentInvalid

Meaning:
  - Content was fetched but could not be processed meaningfully.

Examples:
  - Non-HTML responses
  - Empty or unextractable document bodies
  - Broken DOM preventing extraction

# CauseStorageFailure

Meaning:
  - Failure while persisting crawl artifacts.

Examples:
  - Disk full
  - Write permission errors
  - Filesystem I/O failures

# CauseInvariantViolation

Meaning:
  - A system-level invariant was violated.

Examples:
  - Multiple H1s in a document
  - Impossible crawl depth
  - Internal consistency checks failing
*/
const (
	CauseUnknown = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
)

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrAssetURL   AttributeKey = "asset_url"
	AttrWritePath  AttributeKey = "write_path"
	AttrMessage    AttributeKey = "message"
)

// EventType enumerates the typed events the crawl's event bus publishes.
type EventType string

const (
	EventCrawlStarted    EventType = "crawl.started"
	EventPageFetched     EventType = "page.fetched"
	EventErrorOccurred   EventType = "error.occurred"
	EventCheckpointSaved EventType = "checkpoint.saved"
	EventCrawlHeartbeat  EventType = "crawl.heartbeat"
	EventCrawlShutdown   EventType = "crawl.shutdown"
	EventCrawlFinished   EventType = "crawl.finished"
)

// Event is one published occurrence on the crawl's event bus.
type Event struct {
	Type      EventType
	CrawlID   string
	Seq       uint64
	Timestamp time.Time
	Fields    map[string]string
}
