package scheduler

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/atlascrawl/atlas/internal/blobstore"
	"github.com/atlascrawl/atlas/internal/dataset"
	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/frontier"
	"github.com/atlascrawl/atlas/internal/metadata"
	"github.com/atlascrawl/atlas/internal/record"
	"github.com/atlascrawl/atlas/internal/renderer"
	"github.com/atlascrawl/atlas/pkg/failure"
	"github.com/atlascrawl/atlas/pkg/retry"
	"github.com/atlascrawl/atlas/pkg/timeutil"
	"github.com/atlascrawl/atlas/pkg/urlutil"
)

// idlePoll is how often an idle worker re-checks the frontier while other
// workers may still discover new links.
const idlePoll = 50 * time.Millisecond

// workerLoop is the dispatch loop every worker runs until a stop condition
// fires: pop the frontier, pass the robots/rate gates, fetch or render,
// extract, write, enqueue discoveries.
func (s *Scheduler) workerLoop() {
	for {
		if s.stopping() {
			return
		}
		s.waitWhilePaused()
		if s.stopping() {
			return
		}
		if s.rss.Paused() {
			s.sleep(idlePoll * 4)
			continue
		}

		// The inflight count covers the whole dequeue-to-written span, so a
		// sibling worker observing (empty frontier, zero inflight) can trust
		// that no more discoveries are coming.
		s.inflight.Add(1)
		entry, ok := s.front.Dequeue()
		if !ok {
			if s.inflight.Add(-1) == 0 && s.front.Size() == 0 {
				// Empty frontier and nothing in flight: natural completion.
				s.beginStop()
				return
			}
			s.sleep(idlePoll)
			continue
		}

		if max := s.cfg.MaxPages(); max > 0 && s.pagesRecorded.Load() >= int64(max) {
			s.cappedHit.Store(true)
			s.front.Requeue(entry)
			s.inflight.Add(-1)
			s.beginStop()
			return
		}

		s.inflightMu.Lock()
		s.inflightEntries[entry.URLKey] = entry
		s.inflightMu.Unlock()

		s.dispatch(entry)

		s.inflightMu.Lock()
		delete(s.inflightEntries, entry.URLKey)
		s.inflightMu.Unlock()
		s.inflight.Add(-1)

		if max := s.cfg.MaxPages(); max > 0 && s.pagesRecorded.Load() >= int64(max) {
			s.cappedHit.Store(true)
			s.beginStop()
			return
		}
		if budget := s.cfg.ErrorBudget(); budget > 0 && s.rec.TotalErrors() > int64(budget) {
			if s.budgetTripped.CompareAndSwap(false, true) {
				s.rec.Logger().Error("error budget exceeded",
					"errors", s.rec.TotalErrors(), "budget", budget)
			}
			s.beginStop()
			return
		}
		if interval := s.cfg.CheckpointInterval(); interval > 0 {
			if s.sinceCkpt.Add(1) >= int64(interval) {
				s.saveCheckpoint()
			}
		}
	}
}

func (s *Scheduler) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopCh:
	}
}

// dispatch runs one frontier entry through the full pipeline. Every exit
// path produces a page record as long as a fetch or render was attempted.
func (s *Scheduler) dispatch(entry frontier.Entry) {
	target, err := url.Parse(entry.OriginalURL)
	if err != nil {
		s.recordErrorRecord(entry.OriginalURL, record.PhaseFetch, "bad_url", err.Error())
		return
	}

	decision := s.robot.Decide(s.crawlCtx, *target)
	if decision.OverrideUsed {
		s.overrideUsed.Store(true)
	}
	if decision.CrawlDelay != nil {
		s.governor.SetCrawlDelay(target.Hostname(), *decision.CrawlDelay)
	}
	if s.cfg.RespectRobots() && !decision.Allowed {
		s.recordErrorRecord(entry.OriginalURL, record.PhaseFetch, "robots_blocked",
			"disallowed by robots.txt rule "+decision.MatchedRule)
		return
	}

	lease, err := s.governor.Acquire(s.acquireCtx(), target.Hostname())
	if err != nil {
		// Pause cancelled the wait: put the entry back for the resumed
		// crawl. A stop/hard cancel just drops it; the checkpoint kept it.
		if s.isPaused() {
			s.front.Requeue(entry)
		}
		return
	}
	defer s.governor.Release(lease)

	page := s.fetchPage(entry, *target, decision.Allowed, decision.MatchedRule, decision.OverrideUsed)
	if page == nil {
		return
	}
	s.pagesRecorded.Add(1)
	s.met.Pages.Inc()
	s.rec.RecordCounter("pages", 1)
	s.rec.Emit(metadata.EventPageFetched, s.crawlID, map[string]string{
		"url":    page.URL,
		"host":   target.Hostname(),
		"status": itoa(page.StatusCode),
	})
}

// fetchPage performs the mode-appropriate retrieval, extraction, and record
// writing for one page. Returns nil only when no fetch was attempted.
func (s *Scheduler) fetchPage(entry frontier.Entry, target url.URL, robotsAllowed bool, matchedRule string, overrideUsed bool) *record.Page {
	mode := record.RenderMode(s.cfg.Mode())
	page := &record.Page{
		SchemaURI:        dataset.SchemaURI(dataset.Pages),
		URL:              entry.OriginalURL,
		FinalURL:         entry.OriginalURL,
		URLKey:           entry.URLKey,
		Depth:            entry.Depth,
		RenderMode:       mode,
		DiscoveredFrom:   entry.DiscoveredFrom,
		DiscoveredInMode: entry.DiscoveredInMode,
		RobotsAllowed:    robotsAllowed,
		RobotsMatchedRule: matchedRule,
		RobotsOverride:   overrideUsed,
		FetchedAt:        time.Now().UTC(),
	}

	var (
		body           []byte
		domSource      = extractor.SourceRaw
		xRobotsTag     string
		renderSnapshot renderer.AccessibilitySnapshot
	)

	switch mode {
	case record.RenderModeRaw:
		result, err := s.fetch.Fetch(s.crawlCtx, entry.OriginalURL)
		page.StatusCode = result.Status
		page.NavEndReason = result.NavEndReason
		page.RedirectChain = result.RedirectChain
		page.Truncated = result.Truncated
		page.Timings.FetchMs = result.FetchMs
		if result.FinalURL != "" {
			page.FinalURL = result.FinalURL
		}
		if err != nil {
			s.recordErrorRecord(entry.OriginalURL, record.PhaseFetch, classifyFetchError(err), err.Error())
		} else {
			body = result.Body
			page.ContentType = result.Headers.Get("Content-Type")
			xRobotsTag = result.Headers.Get("X-Robots-Tag")
		}
		s.rec.RecordTiming("fetch", time.Duration(result.FetchMs)*time.Millisecond)
		s.met.ObserveStage("fetch", time.Duration(result.FetchMs)*time.Millisecond)

	default: // prerender, full
		result, err := s.render.Navigate(s.crawlCtx, entry.OriginalURL)
		page.StatusCode = result.Status
		page.NavEndReason = result.NavEndReason
		page.Truncated = result.Truncated
		page.Timings.RenderMs = result.NavMs
		if result.FinalURL != "" {
			page.FinalURL = result.FinalURL
		}
		if err != nil {
			// One retry per page before surfacing a render failure.
			retryResult, retryErr := s.render.Navigate(s.crawlCtx, entry.OriginalURL)
			if retryErr != nil {
				s.recordErrorRecord(entry.OriginalURL, record.PhaseRender, "render_failed", retryErr.Error())
			} else {
				result = retryResult
				page.StatusCode = result.Status
				page.NavEndReason = result.NavEndReason
				page.Truncated = result.Truncated
				page.Timings.RenderMs += result.NavMs
				if result.FinalURL != "" {
					page.FinalURL = result.FinalURL
				}
			}
		}
		body = []byte(result.HTML)
		domSource = extractor.SourceRendered
		renderSnapshot = result.Accessibility
		s.rec.RecordTiming("render", time.Duration(result.NavMs)*time.Millisecond)
		s.met.ObserveStage("render", time.Duration(result.NavMs)*time.Millisecond)
	}

	if len(body) > 0 {
		sha, err := s.arch.Blobs.Put(s.crawlCtx, body)
		if err != nil {
			s.recordErrorRecord(entry.OriginalURL, record.PhaseWrite, "blob_write", err.Error())
		} else {
			page.RawHTMLHash = sha
			page.BodyBlobRef = blobstore.BlobRef(sha)
		}

		extractStart := time.Now()
		out := s.extract.Run(extractor.Input{
			DOMSource:      domSource,
			HTML:           string(body),
			BaseURL:        finalURLOf(page, target),
			StatusCode:     page.StatusCode,
			XRobotsTag:     xRobotsTag,
			FollowExternal: s.cfg.FollowExternal(),
		})
		page.Timings.ExtractMs = time.Since(extractStart).Milliseconds()
		s.rec.RecordTiming("extract", time.Since(extractStart))
		s.met.ObserveStage("extract", time.Since(extractStart))

		if domSource == extractor.SourceRendered && out.Accessibility != nil {
			renderer.MergeAccessibility(out.Accessibility, renderSnapshot)
		}

		page.SEO = out.SEO
		page.OpenGraph = out.OpenGraph
		page.Schema = out.Schema
		page.TextSample = out.TextSample
		page.LinkCount = len(out.Links)
		page.AssetCount = len(out.Assets)
		if out.AssetsTruncated {
			page.Truncated = true
		}

		writeStart := time.Now()
		s.writeDerived(page, out)
		page.Timings.WriteMs = time.Since(writeStart).Milliseconds()
		s.rec.RecordTiming("write", time.Since(writeStart))
		s.met.ObserveStage("write", time.Since(writeStart))

		s.enqueueDiscoveries(entry, out.Links)
	}

	s.writeRecord(dataset.Pages, page)
	return page
}

// finalURLOf resolves the base URL extractors should resolve hrefs against:
// the post-redirect final URL when parseable, the request target otherwise.
func finalURLOf(page *record.Page, target url.URL) url.URL {
	if page.FinalURL != "" {
		if parsed, err := url.Parse(page.FinalURL); err == nil {
			return *parsed
		}
	}
	return target
}

// writeDerived writes the page's edges, assets, and accessibility records.
func (s *Scheduler) writeDerived(page *record.Page, out extractor.Output) {
	for i := range out.Links {
		out.Links[i].SchemaURI = dataset.SchemaURI(dataset.Edges)
		s.writeRecord(dataset.Edges, &out.Links[i])
	}
	if n := len(out.Links); n > 0 {
		s.rec.RecordCounter("edges", int64(n))
		s.met.Edges.Add(float64(n))
	}

	for i := range out.Assets {
		out.Assets[i].SchemaURI = dataset.SchemaURI(dataset.Assets)
		s.writeRecord(dataset.Assets, &out.Assets[i])
	}
	if n := len(out.Assets); n > 0 {
		s.rec.RecordCounter("assets", int64(n))
		s.met.Assets.Add(float64(n))
	}

	if out.Accessibility != nil {
		out.Accessibility.SchemaURI = dataset.SchemaURI(dataset.Accessibility)
		s.writeRecord(dataset.Accessibility, out.Accessibility)
	}
}

// enqueueDiscoveries feeds extracted internal links (and external ones
// when followExternal) back into the frontier.
func (s *Scheduler) enqueueDiscoveries(parent frontier.Entry, links []record.Edge) {
	if maxDepth := s.cfg.MaxDepth(); maxDepth > 0 && parent.Depth+1 > maxDepth {
		return
	}
	mode := record.RenderMode(s.cfg.Mode())

	for _, edge := range links {
		if edge.IsExternal && !s.cfg.FollowExternal() {
			continue
		}
		target, err := url.Parse(edge.TargetURL)
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
			continue
		}
		if !s.cfg.AllowPrivateHosts() && urlutil.IsPrivateIP(*target) {
			continue
		}
		if urlutil.IsHomographAttack(*target) {
			s.rec.Logger().Warn("skipping homograph-suspect link", "url", edge.TargetURL)
			continue
		}

		canonical, key := s.canonicalize(*target)
		s.front.Enqueue(frontier.Entry{
			URLKey:           key,
			OriginalURL:      canonical.String(),
			Depth:            parent.Depth + 1,
			DiscoveredFrom:   parent.URLKey,
			DiscoveredInMode: mode,
		}, canonical)
	}
}

// writeRecord appends one record to its dataset. A validation reject is
// recorded to the error dataset, except a rejected error record, which is
// dropped; an I/O failure is retried once with backoff, and a second
// failure poisons the crawl.
func (s *Scheduler) writeRecord(name dataset.Name, rec any) {
	w := s.writers[name]
	if w == nil {
		return
	}

	err := w.Append(rec)
	if err == nil {
		return
	}

	var vErr *dataset.ValidationError
	if errors.As(err, &vErr) {
		if name != dataset.Errors {
			s.recordErrorRecord(urlOf(rec), record.PhaseWrite, "validation", err.Error())
		}
		return
	}

	result := retry.Retry(retry.RetryParam{
		BaseDelay:    s.cfg.BackoffInitialDuration(),
		RandomSeed:   s.cfg.RandomSeed(),
		MaxAttempts:  2,
		BackoffParam: timeutil.NewBackoffParam(s.cfg.BackoffInitialDuration(), s.cfg.BackoffMultiplier(), s.cfg.BackoffMaxDuration()),
	}, func() (struct{}, failure.ClassifiedError) {
		if retryErr := w.Append(rec); retryErr != nil {
			return struct{}{}, &SchedulerError{Message: retryErr.Error(), Cause: ErrCauseWriterPoisoned, Retryable: true}
		}
		return struct{}{}, nil
	})
	if result.Ok() {
		return
	}

	// Retried and still failing: the writer is poisoned, stop the crawl.
	if s.poisoned.CompareAndSwap(false, true) {
		s.note("dataset writer poisoned: " + string(name))
		s.rec.Logger().Error("dataset writer poisoned", "dataset", string(name), "error", result.Err().Error())
	}
	s.beginStop()
}

// urlOf pulls a best-effort URL out of a record for error reporting.
func urlOf(rec any) string {
	switch r := rec.(type) {
	case *record.Page:
		return r.URL
	case *record.Edge:
		return r.SourceURL
	case *record.Asset:
		return r.PageURL
	case *record.Accessibility:
		return r.PageURL
	default:
		return ""
	}
}

// recordErrorRecord writes one error-dataset record and mirrors it to the
// metadata sink and event bus.
func (s *Scheduler) recordErrorRecord(pageURL string, phase record.ErrorPhase, code, message string) {
	hostname := ""
	origin := ""
	if parsed, err := url.Parse(pageURL); err == nil {
		hostname = parsed.Hostname()
		origin = parsed.Scheme + "://" + parsed.Host
	}
	errRec := &record.ErrorRecord{
		SchemaURI:  dataset.SchemaURI(dataset.Errors),
		URL:        pageURL,
		Origin:     origin,
		Hostname:   hostname,
		Phase:      phase,
		Code:       code,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	s.writeRecord(dataset.Errors, errRec)
	s.met.Errors.Inc()
	s.rec.RecordError(time.Now(), "scheduler", string(phase), causeFor(code), message, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrURL, pageURL),
	})
	s.rec.Emit(metadata.EventErrorOccurred, s.crawlID, map[string]string{
		"url":   pageURL,
		"phase": string(phase),
		"code":  code,
	})
}

func causeFor(code string) metadata.ErrorCause {
	switch code {
	case "dns", "tcp", "tls", "timeout", "network":
		return metadata.CauseNetworkFailure
	case "robots_blocked":
		return metadata.CausePolicyDisallow
	case "blob_write", "validation":
		return metadata.CauseStorageFailure
	default:
		return metadata.CauseUnknown
	}
}

// classifyFetchError maps transport errors onto the error taxonomy codes.
func classifyFetchError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return "dns"
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return "tcp"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "tls"
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return "timeout"
	default:
		return "network"
	}
}
