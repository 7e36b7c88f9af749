package cmd

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigRequiresSeeds(t *testing.T) {
	ResetFlags()
	_, err := buildConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--seeds")
}

func TestBuildConfigRejectsNonHTTPSeed(t *testing.T) {
	ResetFlags()
	seedURLs = []string{"ftp://example.com/file"}
	_, err := buildConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http(s)")
}

func TestBuildConfigRejectsUnknownMode(t *testing.T) {
	ResetFlags()
	seedURLs = []string{"https://example.com"}
	mode = "turbo"
	_, err := buildConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mode")
}

func TestBuildConfigRejectsUnknownParamPolicy(t *testing.T) {
	ResetFlags()
	seedURLs = []string{"https://example.com"}
	paramPolicy = "discard"
	_, err := buildConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--paramPolicy")
}

func TestBuildConfigWiresEveryFlag(t *testing.T) {
	ResetFlags()
	seedURLs = []string{"https://example.com", "https://docs.example.com"}
	outPath = "/tmp/example.atlas"
	mode = "prerender"
	rps = 9
	perHostRps = 3
	concurrency = 6
	respectRobots = false
	overrideRobots = true
	userAgent = "custom-agent/2.0"
	maxPages = 25
	maxDepth = 2
	resumeStaging = "/tmp/example.atlas.staging/crawl-x"
	checkpointInterval = 5
	errorBudget = 7
	followExternal = true
	allowPrivate = true
	paramPolicy = "sample"
	fetchTimeout = 30 * time.Second

	cfg, err := buildConfig()
	require.NoError(t, err)

	assert.Len(t, cfg.SeedURLs(), 2)
	assert.Equal(t, "/tmp/example.atlas", cfg.Out())
	assert.Equal(t, "prerender", cfg.Mode())
	assert.Equal(t, 9.0, cfg.Rps())
	assert.Equal(t, 3.0, cfg.PerHostRps())
	assert.Equal(t, 6, cfg.Concurrency())
	assert.False(t, cfg.RespectRobots())
	assert.True(t, cfg.OverrideRobots())
	assert.Equal(t, "custom-agent/2.0", cfg.UserAgent())
	assert.Equal(t, 25, cfg.MaxPages())
	assert.Equal(t, 2, cfg.MaxDepth())
	assert.Equal(t, "/tmp/example.atlas.staging/crawl-x", cfg.ResumeStaging())
	assert.Equal(t, 5, cfg.CheckpointInterval())
	assert.Equal(t, 7, cfg.ErrorBudget())
	assert.True(t, cfg.FollowExternal())
	assert.True(t, cfg.AllowPrivateHosts())
	assert.Equal(t, "sample", cfg.ParamPolicy())
	assert.Equal(t, 30*time.Second, cfg.Timeout())
}

func TestParseSeedURLsPreservesOrder(t *testing.T) {
	seeds, err := parseSeedURLs([]string{"https://a.test/", "http://b.test/x"})
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "a.test", seeds[0].Host)
	assert.Equal(t, "b.test", seeds[1].Host)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewCrawlIDReusesStagingName(t *testing.T) {
	assert.Equal(t, "crawl-abc", newCrawlID("/out/site.atlas.staging/crawl-abc"))

	fresh := newCrawlID("")
	assert.Contains(t, fresh, "crawl-")
	assert.NotEqual(t, "crawl-abc", fresh)
}
