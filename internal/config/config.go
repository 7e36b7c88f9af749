package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config is the immutable, validated configuration one crawl runs under.
// It is constructed through the fluent builder (WithDefault(...).With...()
// .Build()) or from a JSON file via WithConfigFile; the scheduler and
// every subsystem read it through getters only.
type Config struct {
	//===============
	//  Crawl scope
	//===============
	// Initial pages to give to the crawler to begin discovering and traversing other pages.
	seedURLs []url.URL
	// Whitelisted hostname. Empty means all hostnames are allowed
	allowedHosts map[string]struct{}
	// Which URL path segments are permitted to be fetched and traversed, even if the links are on the same domain
	allowedPathPrefix []string

	//===============
	// Limits
	//===============
	// Maximum number of hyperlink hops from a seed (root) URL; 0 is unlimited
	maxDepth int
	// Maximum number of total pages allowed to be fetched; 0 or negative is unlimited
	maxPages int

	//===============
	// Politeness
	//===============
	// Maximum number of crawl worker goroutines processing URLs concurrently;
	// it does not control OS threads or CPU parallelism.
	concurrency int
	// Minimum, fixed waiting time enforced between two HTTP requests to the same host.
	baseDelay time.Duration
	// Randomized variation added on top of the base delay.
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Fetch
	//===============
	// Maximum time of a single fetch request
	timeout time.Duration
	// User agent that will be used in the request header. In raw string
	userAgent string

	//===============
	// Crawl mode & rate governor
	//===============
	// mode selects the fetch/render tier: raw, prerender, or full.
	mode string
	// rps is the crawl-wide requests/second token bucket rate.
	rps float64
	// perHostRps is the per-hostname requests/second token bucket rate.
	perHostRps float64
	// maxRssMB is a soft RSS ceiling that pauses dispatch when exceeded; 0 disables the check.
	maxRssMB int64

	//===============
	// Robots policy
	//===============
	// respectRobots, when false, still parses robots.txt but never blocks on it.
	respectRobots bool
	// overrideRobots force-allows crawling despite a disallow rule, recorded in manifest notes.
	overrideRobots bool

	//===============
	// Frontier policy
	//===============
	// followExternal enqueues off-origin links subject to rate/robots policy rather than
	// recording them as edges only.
	followExternal bool
	// allowPrivateHosts permits seeds and links resolving to loopback/RFC1918 hosts;
	// off by default so a hostile page cannot steer the crawl into internal networks.
	allowPrivateHosts bool

	//===============
	// Output archive
	//===============
	// out is the final archive file path; the staging tree lives at "<out>.staging/<crawlId>/".
	out string
	// resumeStaging, when set, points at a staging directory from an interrupted crawl to resume.
	resumeStaging string

	//===============
	// Error budget & checkpointing
	//===============
	// errorBudget is the total error count that trips completionReason=error_budget; 0 is unlimited.
	errorBudget int
	// checkpointInterval is how many pages between frontier/seen snapshots; 0 disables interval checkpoints.
	checkpointInterval int
	// checkpointEverySeconds is a time-based checkpoint trigger alongside checkpointInterval.
	checkpointEverySeconds int

	//===============
	// Render tier
	//===============
	// renderTimeout bounds one page's navigation wait.
	renderTimeout time.Duration
	// maxRequestsPerPage caps subresource requests a rendered page may issue before truncation.
	maxRequestsPerPage int
	// maxBytesPerPage caps total bytes a rendered or fetched page may transfer before truncation.
	maxBytesPerPage int64
	// waitCondition is the renderer's navigation-end condition: load or networkidle.
	waitCondition string

	//===============
	// URL normalizer param policy
	//===============
	// paramPolicy selects the query-parameter filtering policy: keep, strip, or sample.
	paramPolicy string
	// paramBlockList is a list of literal parameter names and prefix_* globs stripped before sampling.
	paramBlockList []string

	//===============
	// Output container
	//===============
	// compressionLevel is the zstd level used for blobs and dataset parts.
	compressionLevel int
	// partSizeBytes is the uncompressed dataset part rotation threshold; 0 uses the package default.
	partSizeBytes int64
}

type configDTO struct {
	SeedURLs               []url.URL           `json:"seedUrls"`
	AllowedHosts           map[string]struct{} `json:"allowedHosts,omitempty"`
	AllowedPathPrefix      []string            `json:"allowedPathPrefix,omitempty"`
	MaxDepth               int                 `json:"maxDepth,omitempty"`
	MaxPages               int                 `json:"maxPages,omitempty"`
	Concurrency            int                 `json:"concurrency,omitempty"`
	BaseDelay              time.Duration       `json:"baseDelay,omitempty"`
	Jitter                 time.Duration       `json:"jitter,omitempty"`
	RandomSeed             int64               `json:"randomSeed,omitempty"`
	MaxAttempt             int                 `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration       `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64             `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration       `json:"backoffMaxDuration,omitempty"`
	Timeout                time.Duration       `json:"timeout,omitempty"`
	UserAgent              string              `json:"userAgent,omitempty"`
	Mode                   string              `json:"mode,omitempty"`
	Rps                    float64             `json:"rps,omitempty"`
	PerHostRps             float64             `json:"perHostRps,omitempty"`
	MaxRssMB               int64               `json:"maxRssMB,omitempty"`
	RespectRobots          *bool               `json:"respectRobots,omitempty"`
	OverrideRobots         bool                `json:"overrideRobots,omitempty"`
	FollowExternal         bool                `json:"followExternal,omitempty"`
	AllowPrivateHosts      bool                `json:"allowPrivateHosts,omitempty"`
	Out                    string              `json:"out,omitempty"`
	ErrorBudget            int                 `json:"errorBudget,omitempty"`
	CheckpointInterval     int                 `json:"checkpointInterval,omitempty"`
	CheckpointEverySeconds int                 `json:"checkpointEverySeconds,omitempty"`
	RenderTimeout          time.Duration       `json:"renderTimeout,omitempty"`
	MaxRequestsPerPage     int                 `json:"maxRequestsPerPage,omitempty"`
	MaxBytesPerPage        int64               `json:"maxBytesPerPage,omitempty"`
	WaitCondition          string              `json:"waitCondition,omitempty"`
	ParamPolicy            string              `json:"paramPolicy,omitempty"`
	ParamBlockList         []string            `json:"paramBlockList,omitempty"`
	CompressionLevel       int                 `json:"compressionLevel,omitempty"`
	PartSizeBytes          int64               `json:"partSizeBytes,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	// Start with default config
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	// AllowedHosts can be empty - if so, default to seed URLs hostnames
	if len(dto.AllowedHosts) > 0 {
		cfg.allowedHosts = dto.AllowedHosts
	}

	// AllowedPathPrefix can be empty - if so, keep the default ("/")
	if len(dto.AllowedPathPrefix) > 0 {
		cfg.allowedPathPrefix = dto.AllowedPathPrefix
	}

	// For other fields, only override when a non-zero value is provided
	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.MaxPages != 0 {
		cfg.maxPages = dto.MaxPages
	}
	if dto.Concurrency != 0 {
		cfg.concurrency = dto.Concurrency
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.Mode != "" {
		cfg.mode = dto.Mode
	}
	if dto.Rps != 0 {
		cfg.rps = dto.Rps
	}
	if dto.PerHostRps != 0 {
		cfg.perHostRps = dto.PerHostRps
	}
	if dto.MaxRssMB != 0 {
		cfg.maxRssMB = dto.MaxRssMB
	}
	// RespectRobots defaults true; a pointer distinguishes "absent" from
	// an explicit false in the file.
	if dto.RespectRobots != nil {
		cfg.respectRobots = *dto.RespectRobots
	}
	cfg.overrideRobots = dto.OverrideRobots
	cfg.followExternal = dto.FollowExternal
	cfg.allowPrivateHosts = dto.AllowPrivateHosts
	if dto.Out != "" {
		cfg.out = dto.Out
	}
	if dto.ErrorBudget != 0 {
		cfg.errorBudget = dto.ErrorBudget
	}
	if dto.CheckpointInterval != 0 {
		cfg.checkpointInterval = dto.CheckpointInterval
	}
	if dto.CheckpointEverySeconds != 0 {
		cfg.checkpointEverySeconds = dto.CheckpointEverySeconds
	}
	if dto.RenderTimeout != 0 {
		cfg.renderTimeout = dto.RenderTimeout
	}
	if dto.MaxRequestsPerPage != 0 {
		cfg.maxRequestsPerPage = dto.MaxRequestsPerPage
	}
	if dto.MaxBytesPerPage != 0 {
		cfg.maxBytesPerPage = dto.MaxBytesPerPage
	}
	if dto.WaitCondition != "" {
		cfg.waitCondition = dto.WaitCondition
	}
	if dto.ParamPolicy != "" {
		cfg.paramPolicy = dto.ParamPolicy
	}
	if len(dto.ParamBlockList) > 0 {
		cfg.paramBlockList = dto.ParamBlockList
	}
	if dto.CompressionLevel != 0 {
		cfg.compressionLevel = dto.CompressionLevel
	}
	if dto.PartSizeBytes != 0 {
		cfg.partSizeBytes = dto.PartSizeBytes
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided seed URLs and default values for all other fields.
// seedUrls is mandatory and must not be empty - Build returns an error if it is.
func WithDefault(seedUrls []url.URL) *Config {
	defaultConfig := Config{
		seedURLs:     seedUrls,
		allowedHosts: map[string]struct{}{},
		allowedPathPrefix: []string{
			"/",
		},
		maxDepth:               0,
		maxPages:               0,
		concurrency:            4,
		baseDelay:              0,
		jitter:                 time.Millisecond * 100,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             2,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		timeout:                time.Second * 10,
		userAgent:              "atlas/1.0",
		mode:                   "raw",
		rps:                    5,
		perHostRps:             1,
		respectRobots:          true,
		out:                    "atlas.zip",
		errorBudget:            0,
		checkpointInterval:     100,
		checkpointEverySeconds: 30,
		renderTimeout:          15 * time.Second,
		maxRequestsPerPage:     200,
		maxBytesPerPage:        20 * 1024 * 1024,
		waitCondition:          "load",
		paramPolicy:            "keep",
		compressionLevel:       3,
	}
	return &defaultConfig
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithAllowedHosts(hosts map[string]struct{}) *Config {
	c.allowedHosts = hosts
	return c
}

func (c *Config) WithAllowedPathPrefix(prefixes []string) *Config {
	c.allowedPathPrefix = prefixes
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithConcurrency(concurrency int) *Config {
	c.concurrency = concurrency
	return c
}

func (c *Config) WithBaseDelay(delay time.Duration) *Config {
	c.baseDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithMode(mode string) *Config {
	c.mode = mode
	return c
}

func (c *Config) WithRps(rps float64) *Config {
	c.rps = rps
	return c
}

func (c *Config) WithPerHostRps(perHostRps float64) *Config {
	c.perHostRps = perHostRps
	return c
}

func (c *Config) WithMaxRssMB(mb int64) *Config {
	c.maxRssMB = mb
	return c
}

func (c *Config) WithRespectRobots(respect bool) *Config {
	c.respectRobots = respect
	return c
}

func (c *Config) WithOverrideRobots(override bool) *Config {
	c.overrideRobots = override
	return c
}

func (c *Config) WithFollowExternal(follow bool) *Config {
	c.followExternal = follow
	return c
}

func (c *Config) WithAllowPrivateHosts(allow bool) *Config {
	c.allowPrivateHosts = allow
	return c
}

func (c *Config) WithOut(out string) *Config {
	c.out = out
	return c
}

func (c *Config) WithResumeStaging(dir string) *Config {
	c.resumeStaging = dir
	return c
}

func (c *Config) WithErrorBudget(budget int) *Config {
	c.errorBudget = budget
	return c
}

func (c *Config) WithCheckpointInterval(interval int) *Config {
	c.checkpointInterval = interval
	return c
}

func (c *Config) WithCheckpointEverySeconds(seconds int) *Config {
	c.checkpointEverySeconds = seconds
	return c
}

func (c *Config) WithRenderTimeout(timeout time.Duration) *Config {
	c.renderTimeout = timeout
	return c
}

func (c *Config) WithMaxRequestsPerPage(max int) *Config {
	c.maxRequestsPerPage = max
	return c
}

func (c *Config) WithMaxBytesPerPage(max int64) *Config {
	c.maxBytesPerPage = max
	return c
}

func (c *Config) WithWaitCondition(condition string) *Config {
	c.waitCondition = condition
	return c
}

func (c *Config) WithParamPolicy(policy string) *Config {
	c.paramPolicy = policy
	return c
}

func (c *Config) WithParamBlockList(blockList []string) *Config {
	c.paramBlockList = blockList
	return c
}

func (c *Config) WithCompressionLevel(level int) *Config {
	c.compressionLevel = level
	return c
}

func (c *Config) WithPartSizeBytes(bytes int64) *Config {
	c.partSizeBytes = bytes
	return c
}

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}

	// If allowedHosts is empty, default to seed URLs hostnames
	if len(c.allowedHosts) == 0 {
		c.allowedHosts = make(map[string]struct{})
		for _, u := range c.seedURLs {
			if u.Host != "" {
				c.allowedHosts[u.Host] = struct{}{}
			}
		}
	}

	return *c, nil
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) AllowedHosts() map[string]struct{} {
	hosts := make(map[string]struct{}, len(c.allowedHosts))
	for h := range c.allowedHosts {
		hosts[h] = struct{}{}
	}
	return hosts
}

func (c Config) AllowedPathPrefix() []string {
	prefixes := make([]string, len(c.allowedPathPrefix))
	copy(prefixes, c.allowedPathPrefix)
	return prefixes
}

func (c Config) MaxDepth() int {
	return c.maxDepth
}

func (c Config) MaxPages() int {
	return c.maxPages
}

func (c Config) Concurrency() int {
	return c.concurrency
}

func (c Config) BaseDelay() time.Duration {
	return c.baseDelay
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) Mode() string {
	return c.mode
}

func (c Config) Rps() float64 {
	return c.rps
}

func (c Config) PerHostRps() float64 {
	return c.perHostRps
}

func (c Config) MaxRssMB() int64 {
	return c.maxRssMB
}

func (c Config) RespectRobots() bool {
	return c.respectRobots
}

func (c Config) OverrideRobots() bool {
	return c.overrideRobots
}

func (c Config) FollowExternal() bool {
	return c.followExternal
}

func (c Config) AllowPrivateHosts() bool {
	return c.allowPrivateHosts
}

func (c Config) Out() string {
	return c.out
}

func (c Config) ResumeStaging() string {
	return c.resumeStaging
}

func (c Config) ErrorBudget() int {
	return c.errorBudget
}

func (c Config) CheckpointInterval() int {
	return c.checkpointInterval
}

func (c Config) CheckpointEverySeconds() int {
	return c.checkpointEverySeconds
}

func (c Config) RenderTimeout() time.Duration {
	return c.renderTimeout
}

func (c Config) MaxRequestsPerPage() int {
	return c.maxRequestsPerPage
}

func (c Config) MaxBytesPerPage() int64 {
	return c.maxBytesPerPage
}

func (c Config) WaitCondition() string {
	return c.waitCondition
}

func (c Config) ParamPolicy() string {
	return c.paramPolicy
}

func (c Config) ParamBlockList() []string {
	list := make([]string, len(c.paramBlockList))
	copy(list, c.paramBlockList)
	return list
}

func (c Config) CompressionLevel() int {
	return c.compressionLevel
}

func (c Config) PartSizeBytes() int64 {
	return c.partSizeBytes
}
