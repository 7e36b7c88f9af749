package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlascrawl/atlas/internal/build"
	"github.com/atlascrawl/atlas/internal/config"
	"github.com/atlascrawl/atlas/internal/metadata"
	"github.com/atlascrawl/atlas/internal/scheduler"
)

var (
	seedURLs           []string
	outPath            string
	mode               string
	rps                float64
	perHostRps         float64
	concurrency        int
	respectRobots      bool
	overrideRobots     bool
	userAgent          string
	maxPages           int
	maxDepth           int
	resumeStaging      string
	checkpointInterval int
	errorBudget        int
	followExternal     bool
	allowPrivate       bool
	paramPolicy        string
	fetchTimeout       time.Duration
	quiet              bool
	jsonOut            bool
	logFile            string
	logLevel           string
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Atlas crawls a site into a self-describing, content-addressed archive.",
	Long: `atlas crawls a site and produces a single compressed archive ("atlas")
holding every page's HTTP/rendering metadata, the link graph, referenced
media assets, SEO/accessibility/Open Graph/schema.org extraction, and an
error log — consumable offline by downstream analyzers.`,
	Version: build.FullVersion(),
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a crawl and seal the resulting archive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		code := runCrawl(cmd)
		if code != scheduler.ExitOK {
			os.Exit(code)
		}
		return nil
	},
}

// Execute runs the root command; called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(scheduler.ExitInvalidArgs)
	}
}

func init() {
	flags := crawlCmd.Flags()
	flags.StringArrayVar(&seedURLs, "seeds", nil, "one or more starting URLs (repeatable, required)")
	flags.StringVar(&outPath, "out", "atlas.zip", "output archive path")
	flags.StringVar(&mode, "mode", "raw", "fetch tier: raw, prerender, or full")
	flags.Float64Var(&rps, "rps", 5, "global requests per second")
	flags.Float64Var(&perHostRps, "perHostRps", 1, "per-host requests per second")
	flags.IntVar(&concurrency, "concurrency", 4, "concurrent dispatch workers")
	flags.BoolVar(&respectRobots, "respectRobots", true, "honor robots.txt disallow rules")
	flags.BoolVar(&overrideRobots, "overrideRobots", false, "force-allow despite robots.txt (recorded in manifest notes)")
	flags.StringVar(&userAgent, "userAgent", "atlas/"+build.Version, "User-Agent header")
	flags.IntVar(&maxPages, "maxPages", 0, "page cap (0 or negative: unlimited)")
	flags.IntVar(&maxDepth, "maxDepth", 0, "link depth cap from seeds (0: unlimited)")
	flags.StringVar(&resumeStaging, "resume", "", "resume from an interrupted crawl's staging directory")
	flags.IntVar(&checkpointInterval, "checkpointInterval", 100, "pages between checkpoints (0: disabled)")
	flags.IntVar(&errorBudget, "errorBudget", 0, "total error cap before aborting (0: unlimited)")
	flags.BoolVar(&followExternal, "followExternal", false, "enqueue off-origin links instead of recording edges only")
	flags.BoolVar(&allowPrivate, "allowPrivate", false, "permit loopback/RFC1918 seeds and links")
	flags.StringVar(&paramPolicy, "paramPolicy", "keep", "query parameter policy: keep, strip, or sample")
	flags.DurationVar(&fetchTimeout, "timeout", 10*time.Second, "per-fetch timeout")
	flags.BoolVar(&quiet, "quiet", false, "suppress progress output")
	flags.BoolVar(&jsonOut, "json", false, "emit a single JSON result object on stdout")
	flags.StringVar(&logFile, "logFile", "", "JSONL log path (default logs/crawl-<crawlId>.jsonl)")
	flags.StringVar(&logLevel, "logLevel", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command) int {
	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return scheduler.ExitInvalidArgs
	}

	crawlID := newCrawlID(resumeStaging)

	path := logFile
	if path == "" {
		path = filepath.Join("logs", "crawl-"+crawlID+".jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: cannot create log directory: %s\n", err)
		return scheduler.ExitCannotWrite
	}

	bus := metadata.NewEventBus(0)
	rec, err := metadata.NewFileRecorder(crawlID, path, parseLevel(logLevel), bus)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: cannot open log file: %s\n", err)
		return scheduler.ExitCannotWrite
	}
	defer rec.Close()

	sched, err := scheduler.New(cfg, crawlID, rec, bus)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err)
		return scheduler.ExitGeneric
	}

	if !quiet {
		go printProgress(cmd, bus)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := sched.Run(ctx)
	if runErr != nil && result.ExitCode == scheduler.ExitOK {
		result.ExitCode = scheduler.ExitGeneric
	}
	if runErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", runErr)
	}

	if jsonOut {
		payload := map[string]any{
			"crawlId": result.CrawlID,
			"outFile": result.OutFile,
			"summary": map[string]any{
				"completionReason": string(result.Reason),
				"totalPages":       result.TotalPages,
				"totalEdges":       result.TotalEdges,
				"totalAssets":      result.TotalAssets,
				"totalErrors":      result.TotalErrors,
			},
			"perf": map[string]any{
				"durationMs": result.DurationMs,
			},
			"notes": result.Notes,
		}
		encoded, _ := json.Marshal(payload)
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	} else if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "crawl %s: %d pages, %d errors, reason=%s -> %s\n",
			result.CrawlID, result.TotalPages, result.TotalErrors, result.Reason, result.OutFile)
	}

	return result.ExitCode
}

// printProgress mirrors heartbeat events onto stderr for interactive runs.
// It attaches with replay so the first heartbeat is never missed.
func printProgress(cmd *cobra.Command, bus *metadata.EventBus) {
	for event := range bus.OnWithReplay(metadata.EventCrawlHeartbeat) {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] pages=%s errors=%s frontier=%s\n",
			event.Timestamp.Format("15:04:05"),
			event.Fields["pages"], event.Fields["errors"], event.Fields["frontier"])
	}
}

func buildConfig() (config.Config, error) {
	if len(seedURLs) == 0 {
		return config.Config{}, fmt.Errorf("%w: --seeds requires at least one URL", config.ErrInvalidConfig)
	}
	seeds, err := parseSeedURLs(seedURLs)
	if err != nil {
		return config.Config{}, err
	}
	if mode != "raw" && mode != "prerender" && mode != "full" {
		return config.Config{}, fmt.Errorf("%w: --mode must be raw, prerender, or full", config.ErrInvalidConfig)
	}
	if paramPolicy != "keep" && paramPolicy != "strip" && paramPolicy != "sample" {
		return config.Config{}, fmt.Errorf("%w: --paramPolicy must be keep, strip, or sample", config.ErrInvalidConfig)
	}

	builder := config.WithDefault(seeds).
		WithMode(mode).
		WithRps(rps).
		WithPerHostRps(perHostRps).
		WithConcurrency(concurrency).
		WithRespectRobots(respectRobots).
		WithOverrideRobots(overrideRobots).
		WithUserAgent(userAgent).
		WithMaxPages(maxPages).
		WithMaxDepth(maxDepth).
		WithResumeStaging(resumeStaging).
		WithCheckpointInterval(checkpointInterval).
		WithErrorBudget(errorBudget).
		WithFollowExternal(followExternal).
		WithAllowPrivateHosts(allowPrivate).
		WithParamPolicy(paramPolicy).
		WithTimeout(fetchTimeout).
		WithOut(outPath)

	return builder.Build()
}

func parseSeedURLs(raw []string) ([]url.URL, error) {
	var seeds []url.URL
	for _, s := range raw {
		parsed, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: seed %q: %s", config.ErrInvalidConfig, s, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("%w: seed %q must be http(s)", config.ErrInvalidConfig, s)
		}
		seeds = append(seeds, *parsed)
	}
	return seeds, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newCrawlID derives the crawl identifier: fresh crawls get a timestamped
// id; resumed crawls reuse the staging directory's name so their archive
// and logs correlate with the interrupted run.
func newCrawlID(resume string) string {
	if resume != "" {
		return filepath.Base(resume)
	}
	return fmt.Sprintf("crawl-%s-%d", time.Now().UTC().Format("20060102-150405"), os.Getpid())
}

// ResetFlags restores every flag variable to its default, for tests that
// drive the command repeatedly in one process.
func ResetFlags() {
	seedURLs = nil
	outPath = "atlas.zip"
	mode = "raw"
	rps = 5
	perHostRps = 1
	concurrency = 4
	respectRobots = true
	overrideRobots = false
	userAgent = "atlas/" + build.Version
	maxPages = 0
	maxDepth = 0
	resumeStaging = ""
	checkpointInterval = 100
	errorBudget = 0
	followExternal = false
	allowPrivate = false
	paramPolicy = "keep"
	fetchTimeout = 10 * time.Second
	quiet = false
	jsonOut = false
	logFile = ""
	logLevel = "info"
}
