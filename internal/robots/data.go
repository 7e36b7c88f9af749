package robots

import (
	"net/url"
	"time"
)

// Permission modeling

type pathRule struct {
	prefix string
}

// Prefix returns the normalized path prefix this rule matches against.
func (p pathRule) Prefix() string {
	return p.prefix
}

type ruleSet struct {
	host string

	// The user-agent these rules apply to (resolved, not raw)
	userAgent string

	// Path-based rules, evaluated in order of precedence
	allowRules    []pathRule
	disallowRules []pathRule

	// Optional crawl delay from robots.txt
	crawlDelay *time.Duration

	// Metadata / observability
	fetchedAt time.Time
	sourceURL string

	// matchedGroup indicates if a user-agent group was matched in robots.txt
	// This is false when no group matches (not even wildcard *)
	matchedGroup bool

	// hasGroups indicates if the robots.txt file had any user-agent groups at all
	// This is false when the response had no groups (e.g., 404 or empty file)
	hasGroups bool
}

// Read-only accessors for the cached, immutable ruleSet.

func (rs ruleSet) Host() string {
	return rs.host
}

func (rs ruleSet) UserAgent() string {
	return rs.userAgent
}

func (rs ruleSet) FetchedAt() time.Time {
	return rs.fetchedAt
}

func (rs ruleSet) SourceURL() string {
	return rs.sourceURL
}

func (rs ruleSet) CrawlDelay() *time.Duration {
	if rs.crawlDelay == nil {
		return nil
	}
	delay := *rs.crawlDelay
	return &delay
}

func (rs ruleSet) AllowRules() []pathRule {
	rules := make([]pathRule, len(rs.allowRules))
	copy(rules, rs.allowRules)
	return rules
}

func (rs ruleSet) DisallowRules() []pathRule {
	rules := make([]pathRule, len(rs.disallowRules))
	copy(rules, rs.disallowRules)
	return rules
}

type DecisionReason string

const (
	AllowedByRobots     DecisionReason = "allowed_by_robots"
	DisallowedByRobots  DecisionReason = "disallowed_by_robots"
	UserAgentNotMatched DecisionReason = "user_agent_not_matched"
	EmptyRuleSet        DecisionReason = "empty_rule_set"
	NoMatchingRules     DecisionReason = "no_matching_rules"
	FetchFailedAllowAll DecisionReason = "fetch_failed_allow_all"
)

type Decision struct {
	Url url.URL

	Allowed bool

	// Why this decision was made (for logging/debugging)
	Reason DecisionReason

	// MatchedRule is the literal allow/disallow path pattern that decided
	// this outcome, empty when no rule matched (EmptyRuleSet/UserAgentNotMatched).
	MatchedRule string

	// Optional delay override (robots crawl-delay)
	CrawlDelay *time.Duration

	// OverrideUsed is true when the caller's override-robots policy forced
	// Allowed=true against a disallow rule. Recorded for manifest notes,
	// never used to change behavior downstream.
	OverrideUsed bool
}
