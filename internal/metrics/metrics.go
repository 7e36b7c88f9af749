/*
Package metrics exposes the crawl's counters and stage timings as
Prometheus collectors, alongside the JSONL event bus. The registry is
per-crawl, not global, so parallel crawls in one process (tests, embedding
callers) never collide on metric registration.

The package also owns the soft-RSS watchdog of the resource model: a
sampler that reads the process's resident set, tracks the peak, and flips
a dispatch gate when a configured ceiling is crossed, releasing it again
only after RSS falls below the low-water mark.
*/
package metrics

import (
	"bufio"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is one crawl's collector set.
type Metrics struct {
	registry *prometheus.Registry

	Pages        prometheus.Counter
	Edges        prometheus.Counter
	Assets       prometheus.Counter
	Errors       prometheus.Counter
	BytesWritten prometheus.Counter

	StageDuration *prometheus.HistogramVec
	FrontierSize  prometheus.Gauge
	RSSBytes      prometheus.Gauge
}

// New builds a fresh registry with every crawl collector registered.
func New(crawlID string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"crawl_id": crawlID}

	m := &Metrics{
		registry: registry,
		Pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_pages_total", Help: "Pages dispatched and recorded.", ConstLabels: labels,
		}),
		Edges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_edges_total", Help: "Edges extracted.", ConstLabels: labels,
		}),
		Assets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_assets_total", Help: "Assets extracted.", ConstLabels: labels,
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_errors_total", Help: "Error records written.", ConstLabels: labels,
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_bytes_written_total", Help: "Compressed bytes written to staging.", ConstLabels: labels,
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "atlas_stage_duration_seconds",
			Help:        "Per-stage pipeline durations.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage"}),
		FrontierSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atlas_frontier_size", Help: "Entries pending in the frontier.", ConstLabels: labels,
		}),
		RSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atlas_rss_bytes", Help: "Current resident set size.", ConstLabels: labels,
		}),
	}

	registry.MustRegister(m.Pages, m.Edges, m.Assets, m.Errors, m.BytesWritten,
		m.StageDuration, m.FrontierSize, m.RSSBytes)
	return m
}

// ObserveStage records one stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves this crawl's registry as a standard /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// pageSizeBytes is resolved once; /proc/self/statm reports pages.
var pageSizeBytes = int64(os.Getpagesize())

// readRSS returns the current resident set size in bytes. On Linux it reads
// /proc/self/statm; elsewhere it falls back to the Go runtime's accounting
// of memory obtained from the OS, which over-reports but moves in the same
// direction.
func readRSS() int64 {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return int64(ms.Sys)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 2 {
		return 0
	}
	residentPages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return residentPages * pageSizeBytes
}

// RSSWatcher samples resident memory and gates dispatch when a soft ceiling
// is exceeded. The gate re-opens at the low-water mark (90% of the ceiling)
// so dispatch doesn't flap at the boundary.
type RSSWatcher struct {
	ceilingBytes  int64
	lowWaterBytes int64
	interval      time.Duration
	onTransition  func(paused bool, rssBytes int64)

	mu     sync.Mutex
	paused bool
	peak   int64
	stop   chan struct{}
	done   chan struct{}
}

// NewRSSWatcher builds a watcher for a maxRssMB ceiling; 0 disables it
// (Paused always reports false, Start is a no-op). onTransition fires once
// per pause/resume edge with the RSS observed at the transition.
func NewRSSWatcher(maxRssMB int64, interval time.Duration, onTransition func(paused bool, rssBytes int64)) *RSSWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	ceiling := maxRssMB * 1024 * 1024
	return &RSSWatcher{
		ceilingBytes:  ceiling,
		lowWaterBytes: ceiling * 9 / 10,
		interval:      interval,
		onTransition:  onTransition,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins sampling until Stop is called. No-op when disabled.
func (w *RSSWatcher) Start() {
	if w.ceilingBytes <= 0 {
		close(w.done)
		return
	}
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler to exit.
func (w *RSSWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *RSSWatcher) sample() {
	rss := readRSS()

	w.mu.Lock()
	if rss > w.peak {
		w.peak = rss
	}
	var fire func(bool, int64)
	switch {
	case !w.paused && rss > w.ceilingBytes:
		w.paused = true
		fire = w.onTransition
	case w.paused && rss < w.lowWaterBytes:
		w.paused = false
		fire = w.onTransition
	}
	paused := w.paused
	w.mu.Unlock()

	if fire != nil {
		fire(paused, rss)
	}
}

// Paused reports whether dispatch should hold off on new dequeues.
func (w *RSSWatcher) Paused() bool {
	if w.ceilingBytes <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Peak returns the highest RSS observed so far, for the final summary.
func (w *RSSWatcher) Peak() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peak
}

// CurrentRSS exposes one immediate sample, bypassing the ticker; the
// heartbeat uses it so the 5s snapshot always carries a fresh reading.
func CurrentRSS() int64 {
	return readRSS()
}
