package robots

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/atlascrawl/atlas/internal/metadata"
)

/*
Robot is the decision boundary the scheduler and governor consult before
every fetch: "is this URL allowed, and if so, under what crawl-delay."

Responsibilities:
  - Resolve the ruleSet for a host exactly once per crawl, even when many
    workers race to fetch the same host's first URL concurrently
  - Apply matchedGroup/hasGroups precedence and longest-matching-path
    semantics to produce a Decision
  - Fall back to allow-all when robots.txt cannot be retrieved, per the
    fetcher's own 4xx/5xx/network-error handling
  - Honor an operator override that force-allows crawling despite a
    disallow rule, recording that the override fired
*/
type Robot interface {
	Decide(ctx context.Context, target url.URL) Decision
}

// CachedRobot is the sole production Robot implementation: one RobotsFetcher
// behind a per-host single-flight so concurrent workers hitting a fresh host
// don't each fetch robots.txt independently.
type CachedRobot struct {
	fetcher        *RobotsFetcher
	userAgent      string
	overrideRobots bool
	sink           metadata.MetadataSink

	mu       sync.Mutex
	sets     map[string]ruleSet
	inflight map[string]*sync.WaitGroup
}

// NewCachedRobot constructs a CachedRobot. overrideRobots, when true, makes
// Decide return Allowed=true even against a disallow rule, with
// Decision.OverrideUsed set so the manifest can note the override fired.
func NewCachedRobot(fetcher *RobotsFetcher, userAgent string, overrideRobots bool, sink metadata.MetadataSink) *CachedRobot {
	return &CachedRobot{
		fetcher:        fetcher,
		userAgent:      userAgent,
		overrideRobots: overrideRobots,
		sink:           sink,
		sets:           make(map[string]ruleSet),
		inflight:       make(map[string]*sync.WaitGroup),
	}
}

// Decide resolves the ruleSet for target's host (fetching and caching it on
// first use) and evaluates target's path against it.
func (r *CachedRobot) Decide(ctx context.Context, target url.URL) Decision {
	rs, err := r.resolveRuleSet(ctx, target)
	if err != nil {
		return r.finalize(target, Decision{
			Url:     target,
			Allowed: true,
			Reason:  FetchFailedAllowAll,
		})
	}
	return r.finalize(target, evaluate(target, rs))
}

// finalize applies the override policy and emits observability for the
// decision; it never changes Allowed except to force it true under override.
func (r *CachedRobot) finalize(target url.URL, d Decision) Decision {
	if !d.Allowed && r.overrideRobots {
		d.Allowed = true
		d.OverrideUsed = true
	}
	if r.sink != nil {
		r.sink.RecordCounter("robots.decisions_total", 1)
	}
	return d
}

func (r *CachedRobot) resolveRuleSet(ctx context.Context, target url.URL) (ruleSet, error) {
	// Host keeps any explicit port: robots.txt lives on the same authority.
	host := target.Host

	r.mu.Lock()
	if rs, ok := r.sets[host]; ok {
		r.mu.Unlock()
		return rs, nil
	}
	if wg, ok := r.inflight[host]; ok {
		r.mu.Unlock()
		wg.Wait()
		r.mu.Lock()
		rs, ok := r.sets[host]
		r.mu.Unlock()
		if ok {
			return rs, nil
		}
		return ruleSet{}, &RobotsError{Message: "robots fetch failed for " + host, Retryable: false, Cause: ErrCauseHttpFetchFailure}
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	r.inflight[host] = wg
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, host)
		r.mu.Unlock()
		wg.Done()
	}()

	scheme := target.Scheme
	if scheme == "" {
		scheme = "https"
	}
	result, fetchErr := r.fetcher.Fetch(ctx, scheme, host)
	if fetchErr != nil {
		return ruleSet{}, fetchErr
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, time.Now())
	r.mu.Lock()
	r.sets[host] = rs
	r.mu.Unlock()
	return rs, nil
}

// evaluate applies robots.txt precedence: no matching user-agent group or an
// empty ruleset means allow; otherwise the longest matching path prefix
// between allow and disallow rules wins, ties favoring allow.
func evaluate(target url.URL, rs ruleSet) Decision {
	if !rs.hasGroups {
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet}
	}
	if !rs.matchedGroup {
		return Decision{Url: target, Allowed: true, Reason: UserAgentNotMatched}
	}

	path := target.Path
	if path == "" {
		path = "/"
	}

	bestAllow := longestMatch(rs.allowRules, path)
	bestDisallow := longestMatch(rs.disallowRules, path)

	switch {
	case bestAllow == "" && bestDisallow == "":
		return Decision{Url: target, Allowed: true, Reason: NoMatchingRules}
	case len(bestAllow) >= len(bestDisallow):
		return Decision{Url: target, Allowed: true, Reason: AllowedByRobots, MatchedRule: bestAllow, CrawlDelay: rs.crawlDelay}
	default:
		return Decision{Url: target, Allowed: false, Reason: DisallowedByRobots, MatchedRule: bestDisallow, CrawlDelay: rs.crawlDelay}
	}
}

// longestMatch returns the longest rule prefix in rules that matches path,
// or "" if none match. An empty disallow prefix ("Disallow:") never matches.
func longestMatch(rules []pathRule, path string) string {
	best := ""
	for _, rule := range rules {
		prefix := rule.prefix
		if prefix == "" {
			continue
		}
		if len(prefix) > len(best) && pathHasPrefix(path, prefix) {
			best = prefix
		}
	}
	return best
}

func pathHasPrefix(path, prefix string) bool {
	if len(prefix) > len(path) {
		return false
	}
	return path[:len(prefix)] == prefix
}
