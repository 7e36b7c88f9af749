package limiter

import "time"

// GovernorParam configures the three coupled gates a Governor enforces:
// global requests/sec, per-host requests/sec, and outstanding concurrency.
type GovernorParam struct {
	Rps         float64
	PerHostRps  float64
	Concurrency int
	Jitter      time.Duration
	RandomSeed  int64
}

func NewGovernorParam(rps, perHostRps float64, concurrency int, jitter time.Duration, randomSeed int64) GovernorParam {
	return GovernorParam{
		Rps:         rps,
		PerHostRps:  perHostRps,
		Concurrency: concurrency,
		Jitter:      jitter,
		RandomSeed:  randomSeed,
	}
}
