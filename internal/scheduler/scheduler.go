/*
Package scheduler orchestrates one crawl: it owns the frontier and the
dispatch workers, drives the fetch/render -> extract -> write pipeline,
enforces the stop-condition ranking, checkpoints durable state, and
finalizes the archive.

Lifecycle: idle -> starting -> running <-> paused -> canceling ->
finalizing -> done|failed. Natural completion (empty frontier, no
in-flight work) skips canceling. Cancellation drains in-flight pages
within a bounded grace window, then aborts whatever is still running.

Stop conditions are ranked; the first matching rule wins:
error budget exceeded > page cap reached > manual shutdown > finished.
*/
package scheduler

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/atlascrawl/atlas/internal/archive"
	"github.com/atlascrawl/atlas/internal/checkpoint"
	"github.com/atlascrawl/atlas/internal/config"
	"github.com/atlascrawl/atlas/internal/dataset"
	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/fetcher"
	"github.com/atlascrawl/atlas/internal/frontier"
	"github.com/atlascrawl/atlas/internal/metadata"
	"github.com/atlascrawl/atlas/internal/metrics"
	"github.com/atlascrawl/atlas/internal/record"
	"github.com/atlascrawl/atlas/internal/renderer"
	"github.com/atlascrawl/atlas/internal/robots"
	"github.com/atlascrawl/atlas/internal/robots/cache"
	"github.com/atlascrawl/atlas/pkg/limiter"
	"github.com/atlascrawl/atlas/pkg/urlutil"
)

// gracePeriod bounds how long canceling waits for in-flight pages before
// aborting them.
const gracePeriod = 5 * time.Second

// heartbeatInterval paces the crawl.heartbeat snapshot events.
const heartbeatInterval = 5 * time.Second

// Scheduler owns one crawl from seed injection to archive finalization.
type Scheduler struct {
	cfg     config.Config
	crawlID string

	rec *metadata.Recorder
	bus *metadata.EventBus
	met *metrics.Metrics
	rss *metrics.RSSWatcher

	front    *frontier.Frontier
	governor *limiter.Governor
	robot    robots.Robot
	fetch    *fetcher.Fetcher
	render   *renderer.Renderer
	extract  *extractor.Extractors
	arch     *archive.Archive
	writers  map[dataset.Name]*dataset.Writer

	seenParams *urlutil.SeenParams
	normOpts   urlutil.NormalizeOptions

	state atomic.Int32

	// Stop machinery. stopCh closes exactly once, when any stop condition
	// fires; hardCancel aborts in-flight I/O after the grace window.
	stopOnce   sync.Once
	stopCh     chan struct{}
	hardCancel context.CancelFunc
	crawlCtx   context.Context

	// Pause gate. While paused, workers park and pending rate acquisitions
	// are cancelled so their entries re-queue.
	pauseMu    sync.Mutex
	paused     bool
	resumeCh   chan struct{}
	pauseCtx   context.Context
	pauseStop  context.CancelFunc

	inflight      atomic.Int64
	pagesRecorded atomic.Int64
	sinceCkpt     atomic.Int64

	// inflightEntries mirrors the entries currently being dispatched so a
	// checkpoint can count them as still-pending: a crawl killed mid-page
	// must re-dispatch that page on resume, not lose it.
	inflightMu      sync.Mutex
	inflightEntries map[string]frontier.Entry

	cappedHit     atomic.Bool
	budgetTripped atomic.Bool
	manualStop    atomic.Bool
	overrideUsed  atomic.Bool
	poisoned      atomic.Bool

	notesMu sync.Mutex
	notes   []string

	startedAt time.Time
}

// New wires a Scheduler from configuration. rec and bus are the crawl's
// observability pair; the caller owns their lifetime.
func New(cfg config.Config, crawlID string, rec *metadata.Recorder, bus *metadata.EventBus) (*Scheduler, error) {
	roots := make([]url.URL, 0, len(cfg.SeedURLs()))
	for _, seed := range cfg.SeedURLs() {
		roots = append(roots, urlutil.NormalizeURL(seed, urlutil.DefaultNormalizeOptions()))
	}

	robotsFetcher := robots.NewRobotsFetcher(rec, cfg.UserAgent(), cache.NewMemoryCache())

	s := &Scheduler{
		cfg:     cfg,
		crawlID: crawlID,
		rec:     rec,
		bus:     bus,
		met:     metrics.New(crawlID),
		front:   frontier.New(cfg.FollowExternal(), roots),
		governor: limiter.NewGovernor(limiter.GovernorParam{
			Rps:         cfg.Rps(),
			PerHostRps:  cfg.PerHostRps(),
			Concurrency: cfg.Concurrency(),
			Jitter:      cfg.Jitter(),
			RandomSeed:  cfg.RandomSeed(),
		}),
		robot:      robots.NewCachedRobot(robotsFetcher, cfg.UserAgent(), cfg.OverrideRobots(), rec),
		extract:    extractor.New(rec),
		seenParams:      urlutil.NewSeenParams(),
		normOpts:        urlutil.DefaultNormalizeOptions(),
		writers:         make(map[dataset.Name]*dataset.Writer),
		inflightEntries: make(map[string]frontier.Entry),
		stopCh:          make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))

	s.fetch = fetcher.New(fetcher.Options{
		Timeout:      cfg.Timeout(),
		MaxBytes:     cfg.MaxBytesPerPage(),
		MaxRedirects: 10,
		UserAgent:    cfg.UserAgent(),
	})

	if cfg.Mode() != "raw" {
		render, err := renderer.New(renderer.Options{
			WaitCondition: renderer.WaitCondition(cfg.WaitCondition()),
			NavTimeout:    cfg.RenderTimeout(),
			MaxRequests:   cfg.MaxRequestsPerPage(),
			MaxBytes:      cfg.MaxBytesPerPage(),
		})
		if err != nil {
			return nil, err
		}
		s.render = render
	}

	return s, nil
}

// State returns the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Metrics exposes the crawl's Prometheus collectors (for the optional
// /metrics endpoint the embedding caller may serve).
func (s *Scheduler) Metrics() *metrics.Metrics {
	return s.met
}

// Run executes the crawl to completion and finalizes the archive. It
// blocks until done or failed; ctx cancellation is treated as a manual
// graceful shutdown.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return Result{}, &SchedulerError{Message: "scheduler: Run called twice", Cause: ErrCauseInvalidState}
	}
	s.startedAt = time.Now()

	crawlCtx, hardCancel := context.WithCancel(context.Background())
	s.crawlCtx = crawlCtx
	s.hardCancel = hardCancel
	defer hardCancel()
	s.resetPauseCtx()

	if err := s.openArchive(); err != nil {
		s.state.Store(int32(StateFailed))
		return Result{ExitCode: ExitCannotWrite}, err
	}

	if err := s.injectSeeds(); err != nil {
		s.state.Store(int32(StateFailed))
		return Result{ExitCode: ExitInvalidArgs}, err
	}

	s.rss = metrics.NewRSSWatcher(s.cfg.MaxRssMB(), time.Second, func(paused bool, rssBytes int64) {
		state := "resumed"
		if paused {
			state = "paused"
		}
		s.rec.Logger().Info("memory watermark crossed", "dispatch", state, "rss_bytes", rssBytes)
	})
	s.rss.Start()

	s.state.Store(int32(StateRunning))
	s.rec.Emit(metadata.EventCrawlStarted, s.crawlID, map[string]string{
		"mode":  s.cfg.Mode(),
		"seeds": seedSummary(s.cfg.SeedURLs()),
	})
	s.rec.Logger().Info("crawl started", "mode", s.cfg.Mode(), "concurrency", s.cfg.Concurrency())

	// Treat caller cancellation as a manual graceful shutdown request.
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.stopCh:
		}
	}()

	stopHeartbeat := s.startHeartbeat()
	stopTimedCkpt := s.startTimedCheckpoints()

	workerCount := s.cfg.Concurrency()
	if workerCount < 1 {
		workerCount = 1
	}
	var group errgroup.Group
	for i := 0; i < workerCount; i++ {
		group.Go(func() error {
			s.workerLoop()
			return nil
		})
	}
	_ = group.Wait()

	stopHeartbeat()
	stopTimedCkpt()
	s.rss.Stop()

	return s.finalize()
}

// Pause stops new dispatches. In-flight pages continue; pending rate
// acquisitions unblock and their entries re-queue.
func (s *Scheduler) Pause() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused || State(s.state.Load()) != StateRunning {
		return
	}
	s.paused = true
	s.resumeCh = make(chan struct{})
	s.pauseStop() // unblock pending acquisitions
	s.state.Store(int32(StatePaused))
	s.rec.Logger().Info("crawl paused")
}

// Resume re-enters running after a Pause.
func (s *Scheduler) Resume() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.resetPauseCtxLocked()
	close(s.resumeCh)
	s.state.Store(int32(StateRunning))
	s.rec.Logger().Info("crawl resumed")
}

// Shutdown requests a graceful manual stop: no new dispatches, in-flight
// pages drain within the grace window, then the archive finalizes.
func (s *Scheduler) Shutdown() {
	s.manualStop.Store(true)
	s.beginStop()
	s.rec.Emit(metadata.EventCrawlShutdown, s.crawlID, map[string]string{"reason": "manual"})
}

// beginStop closes the stop channel exactly once and arms the grace timer
// that aborts in-flight work if draining stalls.
func (s *Scheduler) beginStop() {
	s.stopOnce.Do(func() {
		if State(s.state.Load()) == StateRunning || State(s.state.Load()) == StatePaused {
			s.state.Store(int32(StateCanceling))
		}
		close(s.stopCh)
		// A paused crawl has parked workers; release them so they can exit.
		s.pauseMu.Lock()
		if s.paused {
			s.paused = false
			close(s.resumeCh)
		}
		s.pauseMu.Unlock()

		go func() {
			timer := time.NewTimer(gracePeriod)
			defer timer.Stop()
			<-timer.C
			if s.inflight.Load() > 0 {
				s.rec.Logger().Warn("grace period expired, aborting in-flight pages", "inflight", s.inflight.Load())
			}
			s.hardCancel()
		}()
	})
}

func (s *Scheduler) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Scheduler) resetPauseCtx() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.resetPauseCtxLocked()
}

func (s *Scheduler) resetPauseCtxLocked() {
	ctx, cancel := context.WithCancel(s.crawlCtx)
	s.pauseCtx = ctx
	s.pauseStop = cancel
}

// acquireCtx is the context rate acquisitions wait under: cancelled by
// pause (re-queue) and by hard cancellation (abort).
func (s *Scheduler) acquireCtx() context.Context {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.pauseCtx
}

// waitWhilePaused parks the calling worker until Resume or stop.
func (s *Scheduler) waitWhilePaused() {
	s.pauseMu.Lock()
	paused := s.paused
	ch := s.resumeCh
	s.pauseMu.Unlock()
	if !paused {
		return
	}
	select {
	case <-ch:
	case <-s.stopCh:
	}
}

func (s *Scheduler) isPaused() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	return s.paused
}

// openArchive creates a fresh staging tree, or re-attaches to the one a
// resume points at, and constructs the dataset writers either way.
func (s *Scheduler) openArchive() error {
	level := zstd.EncoderLevelFromZstd(s.cfg.CompressionLevel())

	if staging := s.cfg.ResumeStaging(); staging != "" {
		arch, err := archive.Resume(s.cfg.Out(), s.crawlID, staging)
		if err != nil {
			return err
		}
		s.arch = arch

		state, err := checkpoint.Load(staging)
		if err != nil {
			return err
		}
		s.front.Restore(state.Pending, state.Seen)
		s.pagesRecorded.Store(state.Cursors[string(dataset.Pages)])

		for _, name := range datasetNames() {
			dir := arch.DatasetDir(name)
			if err := checkpoint.RepairDatasetDir(dir); err != nil {
				return err
			}
			w, err := dataset.ResumeWriter(name, dir, s.cfg.PartSizeBytes(), level, state.Cursors[string(name)])
			if err != nil {
				return err
			}
			s.writers[name] = w
		}
		s.note("resumed from staging " + staging)
		return nil
	}

	arch, err := archive.New(s.cfg.Out(), s.crawlID)
	if err != nil {
		return err
	}
	s.arch = arch
	for _, name := range datasetNames() {
		s.writers[name] = dataset.NewWriter(name, arch.DatasetDir(name), s.cfg.PartSizeBytes(), level)
	}
	return nil
}

func datasetNames() []dataset.Name {
	return []dataset.Name{dataset.Pages, dataset.Edges, dataset.Assets, dataset.Errors, dataset.Accessibility}
}

// injectSeeds normalizes and enqueues every seed at depth 0, refusing
// private-IP seeds unless explicitly allowed.
func (s *Scheduler) injectSeeds() error {
	mode := record.RenderMode(s.cfg.Mode())
	for _, seed := range s.cfg.SeedURLs() {
		if !s.cfg.AllowPrivateHosts() && urlutil.IsPrivateIP(seed) {
			return &SchedulerError{
				Message: "scheduler: refusing private-IP seed " + seed.String() + " (enable allowPrivateHosts to permit)",
				Cause:   ErrCauseInvalidState,
			}
		}
		target, key := s.canonicalize(seed)
		s.front.Enqueue(frontier.Entry{
			URLKey:           key,
			OriginalURL:      seed.String(),
			Depth:            0,
			DiscoveredInMode: mode,
		}, target)
	}
	if s.front.Size() == 0 {
		return &SchedulerError{Message: "scheduler: no seeds enqueued", Cause: ErrCauseInvalidState}
	}
	return nil
}

// canonicalize applies the param policy then full normalization, returning
// the canonical URL and its urlKey.
func (s *Scheduler) canonicalize(u url.URL) (url.URL, string) {
	filtered := urlutil.ApplyParamPolicy(u, urlutil.ParamPolicy(s.cfg.ParamPolicy()), s.cfg.ParamBlockList(), s.seenParams)
	canonical := urlutil.NormalizeURL(filtered, s.normOpts)
	return canonical, canonical.String()
}

func (s *Scheduler) note(n string) {
	s.notesMu.Lock()
	defer s.notesMu.Unlock()
	for _, existing := range s.notes {
		if existing == n {
			return
		}
	}
	s.notes = append(s.notes, n)
}

func (s *Scheduler) startHeartbeat() func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				snap := s.rec.TakeSnapshot()
				s.met.FrontierSize.Set(float64(s.front.Size()))
				s.met.RSSBytes.Set(float64(metrics.CurrentRSS()))
				s.rec.Emit(metadata.EventCrawlHeartbeat, s.crawlID, map[string]string{
					"pages":    itoa64(snap.Counters["pages"]),
					"edges":    itoa64(snap.Counters["edges"]),
					"errors":   itoa64(snap.Errors),
					"frontier": itoa(s.front.Size()),
				})
			}
		}
	}()
	return func() { close(stop); <-done }
}

func (s *Scheduler) startTimedCheckpoints() func() {
	interval := time.Duration(s.cfg.CheckpointEverySeconds()) * time.Second
	stop := make(chan struct{})
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return func() { <-done }
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.saveCheckpoint()
			}
		}
	}()
	return func() { close(stop); <-done }
}

// saveCheckpoint snapshots the frontier, seen set, and writer cursors into
// the staging tree and emits checkpoint.saved.
func (s *Scheduler) saveCheckpoint() {
	pending, seen := s.front.Snapshot()
	s.inflightMu.Lock()
	for _, entry := range s.inflightEntries {
		pending = append(pending, entry)
	}
	s.inflightMu.Unlock()

	cursors := make(map[string]int64, len(s.writers))
	for name, w := range s.writers {
		// Push buffered records to disk first, so the cursor snapshot and
		// the on-disk parts agree if this checkpoint is the one resumed.
		if err := w.Flush(); err != nil {
			s.rec.Logger().Error("checkpoint flush failed", "dataset", string(name), "error", err.Error())
			return
		}
		records, _ := w.Cursor()
		cursors[string(name)] = records
	}
	state := checkpoint.State{Pending: pending, Seen: seen, Cursors: cursors}
	if err := checkpoint.Save(s.arch.StagingRoot(), state); err != nil {
		s.rec.Logger().Error("checkpoint save failed", "error", err.Error())
		return
	}
	s.sinceCkpt.Store(0)
	s.rec.Emit(metadata.EventCheckpointSaved, s.crawlID, map[string]string{
		"pending": itoa(len(pending)),
		"seen":    itoa(len(seen)),
	})
}

// finalize flushes every writer, assembles the manifest, packs the archive,
// and resolves the ranked completion reason.
func (s *Scheduler) finalize() (Result, error) {
	s.state.Store(int32(StateFinalizing))
	if s.render != nil {
		s.render.Close()
	}

	datasets := make(map[string]dataset.Metadata, len(s.writers))
	var finalizeErr error
	for name, w := range s.writers {
		md, err := w.Finalize()
		if err != nil && finalizeErr == nil {
			finalizeErr = err
		}
		datasets[string(name)] = md
	}
	if finalizeErr != nil {
		s.state.Store(int32(StateFailed))
		return Result{CrawlID: s.crawlID, ExitCode: ExitCannotWrite}, finalizeErr
	}

	reason := s.completionReason()
	stats := s.rec.Finalize()

	if s.overrideUsed.Load() {
		s.note("robots override used for at least one page")
	}
	if s.budgetTripped.Load() {
		s.note("error budget exceeded")
	}
	if s.manualStop.Load() && reason == ReasonManual {
		s.note("graceful shutdown requested")
	}

	manifest := archive.Manifest{
		Mode:         archive.Mode(s.cfg.Mode()),
		Seeds:        seedStrings(s.cfg.SeedURLs()),
		Capabilities: archive.CapabilitiesFor(archive.Mode(s.cfg.Mode())),
		Datasets:     datasets,
		Storage: archive.Storage{
			Compression: archive.Compression{Algorithm: "zstd", Level: s.cfg.CompressionLevel()},
			BlobFormat:  "individual",
		},
		RobotsPolicy: archive.RobotsPolicy{
			Respect:       s.cfg.RespectRobots(),
			OverridesUsed: s.overrideUsed.Load(),
		},
		PrivacyPolicy: archive.PrivacyPolicy{
			StripCookies:     true,
			StripAuthHeaders: true,
		},
		BlobStats: s.arch.Blobs.Snapshot(),
		Notes:     s.notesSnapshot(),
	}

	summary := archive.Summary{
		CrawlID:          s.crawlID,
		CompletionReason: string(reason),
		TotalPages:       int64(stats.TotalPages),
		TotalEdges:       s.rec.Counter("edges"),
		TotalAssets:      int64(stats.TotalAssets),
		TotalErrors:      int64(stats.TotalErrors),
		DurationMs:       stats.DurationMs,
		PeakRssBytes:     s.rss.Peak(),
	}

	if err := s.arch.Finalize(manifest, summary); err != nil {
		s.state.Store(int32(StateFailed))
		s.rec.Logger().Error("archive finalize failed", "error", err.Error())
		return Result{CrawlID: s.crawlID, Reason: reason, ExitCode: ExitArchiveFailed}, err
	}

	s.rec.Emit(metadata.EventCrawlFinished, s.crawlID, map[string]string{
		"reason": string(reason),
		"pages":  itoa(stats.TotalPages),
	})
	s.rec.Logger().Info("crawl finished",
		"reason", string(reason),
		"pages", stats.TotalPages,
		"errors", stats.TotalErrors,
		"duration_ms", stats.DurationMs,
	)

	s.state.Store(int32(StateDone))
	return Result{
		CrawlID:     s.crawlID,
		OutFile:     s.cfg.Out(),
		Reason:      reason,
		ExitCode:    s.exitCode(reason),
		TotalPages:  int64(stats.TotalPages),
		TotalEdges:  summary.TotalEdges,
		TotalAssets: int64(stats.TotalAssets),
		TotalErrors: int64(stats.TotalErrors),
		DurationMs:  stats.DurationMs,
		Notes:       s.notesSnapshot(),
	}, nil
}

// completionReason applies the ranked stop-condition contract.
func (s *Scheduler) completionReason() CompletionReason {
	switch {
	case s.budgetTripped.Load():
		return ReasonErrorBudget
	case s.cappedHit.Load():
		return ReasonCapped
	case s.manualStop.Load():
		return ReasonManual
	default:
		return ReasonFinished
	}
}

func (s *Scheduler) exitCode(reason CompletionReason) int {
	switch {
	case s.poisoned.Load():
		return ExitCannotWrite
	case reason == ReasonErrorBudget:
		return ExitErrorBudget
	default:
		return ExitOK
	}
}

func (s *Scheduler) notesSnapshot() []string {
	s.notesMu.Lock()
	defer s.notesMu.Unlock()
	out := make([]string, len(s.notes))
	copy(out, s.notes)
	return out
}

func seedStrings(seeds []url.URL) []string {
	out := make([]string, len(seeds))
	for i, u := range seeds {
		out[i] = u.String()
	}
	return out
}

func seedSummary(seeds []url.URL) string {
	if len(seeds) == 0 {
		return ""
	}
	first := seeds[0].String()
	if len(seeds) == 1 {
		return first
	}
	return first + " (+" + itoa(len(seeds)-1) + " more)"
}

func itoa(v int) string { return strconv.Itoa(v) }

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
