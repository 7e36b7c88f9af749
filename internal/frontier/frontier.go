/*
Package frontier implements the crawl's pending-work queue: an in-memory
BFS-by-depth queue deduplicated by urlKey, plus the seen set that backs
that dedup.

Responsibilities
  - Guarantee a urlKey is enqueued at most once per crawl
  - When the same urlKey is discovered again at a different depth before
    being dequeued, resolve to the minimum depth seen, keeping discovery
    provenance from whichever observation first won that minimum (the
    resolution adopted for the source's unspecified concurrent-discovery
    tie-break)
  - Gate enqueue, not edge-recording, on the external-link policy: a link
    to a different origin is always recorded as an edge by the extractor;
    whether it is also added to the frontier is this package's decision
*/
package frontier

import (
	"net/url"
	"sync"

	"github.com/atlascrawl/atlas/internal/record"
	"github.com/atlascrawl/atlas/pkg/urlutil"
)

// Entry is one pending unit of work.
type Entry struct {
	URLKey           string
	OriginalURL      string
	Depth            int
	DiscoveredFrom   string
	DiscoveredInMode record.RenderMode
}

// Frontier is a single crawl's BFS queue. Safe for concurrent use by
// multiple dispatch workers.
type Frontier struct {
	mu            sync.Mutex
	queue         []Entry
	seen          map[string]int // urlKey -> depth at which it was enqueued
	enqueuedTotal int

	followExternal bool
	rootOrigins    []url.URL
}

// New constructs an empty Frontier. rootOrigins are the crawl's seed
// origins, used to decide isExternal for the followExternal gate.
func New(followExternal bool, rootOrigins []url.URL) *Frontier {
	return &Frontier{
		seen:           make(map[string]int),
		followExternal: followExternal,
		rootOrigins:    rootOrigins,
	}
}

// Enqueue adds entry if its urlKey has not been seen, or if it has been
// seen but only at a greater depth (min-depth-wins); in the latter case the
// existing queued copy, if still pending, is updated in place rather than
// duplicated. Returns whether the entry was newly added; a depth update of
// an already-seen key returns false.
func (f *Frontier) Enqueue(entry Entry, targetURL url.URL) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.followExternal && f.isExternalLocked(targetURL) {
		return false
	}

	if existingDepth, ok := f.seen[entry.URLKey]; ok {
		if entry.Depth >= existingDepth {
			return false
		}
		// A strictly smaller depth arrived for an already-seen key: update
		// the still-pending queue slot in place if it hasn't been dequeued
		// yet. If it has already been dispatched, the first observation's
		// provenance stands — re-dispatching is out of scope.
		for i := range f.queue {
			if f.queue[i].URLKey == entry.URLKey {
				f.queue[i] = entry
				f.seen[entry.URLKey] = entry.Depth
				return false
			}
		}
		return false
	}

	f.seen[entry.URLKey] = entry.Depth
	f.queue = append(f.queue, entry)
	f.enqueuedTotal++
	return true
}

func (f *Frontier) isExternalLocked(target url.URL) bool {
	for _, root := range f.rootOrigins {
		if urlutil.SameOrigin(root, target) {
			return false
		}
	}
	return true
}

// Requeue pushes back an entry that was dequeued but could not be
// dispatched (pause unblocked its rate acquisition, or a dispatch slot was
// rescinded). It goes to the queue front so BFS order is preserved, and
// bypasses the seen check: the key is already seen by construction.
func (f *Frontier) Requeue(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append([]Entry{entry}, f.queue...)
}

// Dequeue pops the next entry in BFS order (lowest depth first, FIFO
// within a depth since entries are appended in discovery order and this is
// a single growing slice sorted implicitly by append order across depths
// seeded from a BFS frontier). Returns false if empty.
func (f *Frontier) Dequeue() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return Entry{}, false
	}
	entry := f.queue[0]
	f.queue = f.queue[1:]
	return entry, true
}

// Size returns the number of entries still pending.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// EnqueuedTotal returns how many distinct urlKeys have ever been enqueued.
func (f *Frontier) EnqueuedTotal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enqueuedTotal
}

// Snapshot returns the pending entries and the full seen set, for
// checkpoint persistence.
func (f *Frontier) Snapshot() (pending []Entry, seen map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pendingCopy := make([]Entry, len(f.queue))
	copy(pendingCopy, f.queue)
	seenCopy := make(map[string]int, len(f.seen))
	for k, v := range f.seen {
		seenCopy[k] = v
	}
	return pendingCopy, seenCopy
}

// Restore replaces the frontier's state wholesale, used when resuming from
// a checkpoint.
func (f *Frontier) Restore(pending []Entry, seen map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append([]Entry(nil), pending...)
	f.seen = make(map[string]int, len(seen))
	for k, v := range seen {
		f.seen[k] = v
	}
	f.enqueuedTotal = len(seen)
}
