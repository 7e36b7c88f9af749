package robots_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascrawl/atlas/internal/robots"
)

func robotFor(t *testing.T, robotsTxt string, override bool) (*robots.CachedRobot, *httptest.Server, *int) {
	t.Helper()
	fetchCount := new(int)
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			mu.Lock()
			*fetchCount++
			mu.Unlock()
			if robotsTxt == "" {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(robotsTxt))
			return
		}
		w.Write([]byte("page"))
	}))
	t.Cleanup(server.Close)

	fetcher := robots.NewRobotsFetcher(&mockMetadataSink{}, "atlas-test/1.0", nil)
	return robots.NewCachedRobot(fetcher, "atlas-test/1.0", override, &mockMetadataSink{}), server, fetchCount
}

func pageURL(t *testing.T, base, path string) url.URL {
	t.Helper()
	u, err := url.Parse(base + path)
	require.NoError(t, err)
	return *u
}

func TestDecideAllowsWhenNoRobotsTxt(t *testing.T) {
	robot, server, _ := robotFor(t, "", false)

	decision := robot.Decide(context.Background(), pageURL(t, server.URL, "/anything"))
	assert.True(t, decision.Allowed)
	assert.Equal(t, robots.EmptyRuleSet, decision.Reason)
}

func TestDecideDisallowedPath(t *testing.T) {
	robot, server, _ := robotFor(t, "User-agent: *\nDisallow: /private/\nAllow: /\n", false)

	blocked := robot.Decide(context.Background(), pageURL(t, server.URL, "/private/secret"))
	assert.False(t, blocked.Allowed)
	assert.Equal(t, robots.DisallowedByRobots, blocked.Reason)
	assert.Equal(t, "/private/", blocked.MatchedRule)

	open := robot.Decide(context.Background(), pageURL(t, server.URL, "/public/page"))
	assert.True(t, open.Allowed)
}

func TestDecideLongestMatchWinsTiesFavorAllow(t *testing.T) {
	robot, server, _ := robotFor(t, "User-agent: *\nDisallow: /docs/\nAllow: /docs/public/\n", false)

	allowed := robot.Decide(context.Background(), pageURL(t, server.URL, "/docs/public/intro"))
	assert.True(t, allowed.Allowed)
	assert.Equal(t, "/docs/public/", allowed.MatchedRule)

	blocked := robot.Decide(context.Background(), pageURL(t, server.URL, "/docs/internal"))
	assert.False(t, blocked.Allowed)
}

func TestDecideOverrideForcesAllowAndRecordsIt(t *testing.T) {
	robot, server, _ := robotFor(t, "User-agent: *\nDisallow: /\n", true)

	decision := robot.Decide(context.Background(), pageURL(t, server.URL, "/blocked"))
	assert.True(t, decision.Allowed)
	assert.True(t, decision.OverrideUsed)
}

func TestDecideOverrideNotFlaggedWhenAllowedAnyway(t *testing.T) {
	robot, server, _ := robotFor(t, "User-agent: *\nAllow: /\n", true)

	decision := robot.Decide(context.Background(), pageURL(t, server.URL, "/open"))
	assert.True(t, decision.Allowed)
	assert.False(t, decision.OverrideUsed)
}

func TestDecideCrawlDelaySurfaces(t *testing.T) {
	robot, server, _ := robotFor(t, "User-agent: *\nCrawl-delay: 3\nDisallow: /x\nAllow: /\n", false)

	decision := robot.Decide(context.Background(), pageURL(t, server.URL, "/page"))
	require.NotNil(t, decision.CrawlDelay)
	assert.Equal(t, 3*time.Second, *decision.CrawlDelay)
}

func TestRobotsTxtFetchedOncePerHost(t *testing.T) {
	robot, server, fetchCount := robotFor(t, "User-agent: *\nAllow: /\n", false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			robot.Decide(context.Background(), pageURL(t, server.URL, "/page"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, *fetchCount, "single-flight must collapse concurrent first fetches")
}

func TestDecideUnreachableHostAllowsAll(t *testing.T) {
	fetcher := robots.NewRobotsFetcher(&mockMetadataSink{}, "atlas-test/1.0", nil)
	robot := robots.NewCachedRobot(fetcher, "atlas-test/1.0", false, &mockMetadataSink{})

	u, err := url.Parse("http://unreachable-robots-host-xyz.invalid/page")
	require.NoError(t, err)

	decision := robot.Decide(context.Background(), *u)
	assert.True(t, decision.Allowed)
	assert.Equal(t, robots.FetchFailedAllowAll, decision.Reason)
}
