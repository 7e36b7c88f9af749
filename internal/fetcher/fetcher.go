/*
Package fetcher performs raw-mode HTTP retrieval: one GET per dispatched
URL, redirect chain tracked, body capped, timings recorded. It makes no
judgment about content type — whatever bytes come back are handed to the
extractors, which fail gracefully on content they cannot parse.
*/
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/atlascrawl/atlas/internal/record"
)

// errRedirectCapExceeded is returned from CheckRedirect to stop the client
// following redirects once MaxRedirects is reached; the hops seen so far are
// tracked in CheckRedirect itself.
var errRedirectCapExceeded = fmt.Errorf("fetcher: redirect cap exceeded")

// Options configures one Fetcher.
type Options struct {
	Timeout     time.Duration
	MaxBytes    int64
	MaxRedirects int
	UserAgent   string
}

// Result is the raw outcome of one fetch, before extraction.
type Result struct {
	Status        int
	Headers       http.Header
	Body          []byte
	FinalURL      string
	RedirectChain []record.RedirectHop
	Truncated     bool
	FetchMs       int64
	NavEndReason  record.NavEndReason
}

// Fetcher performs raw HTTP GETs with a shared client per crawl so
// connection pooling and TLS session caches amortize across hosts.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New constructs a Fetcher. A single instance should be shared across all
// workers in a crawl.
func New(opts Options) *Fetcher {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}

	return &Fetcher{client: client, opts: opts}
}

// Fetch performs one GET against rawURL, following redirects up to
// MaxRedirects and capping the body at MaxBytes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	start := time.Now()

	var chain []record.RedirectHop
	client := *f.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		// req.Response is the redirect response that produced req.
		if req.Response != nil {
			chain = append(chain, record.RedirectHop{
				Status:   req.Response.StatusCode,
				Location: req.URL.String(),
			})
		}
		if len(via) >= f.opts.MaxRedirects {
			return errRedirectCapExceeded
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{FetchMs: elapsedMs(start), NavEndReason: record.NavEndError}, fmt.Errorf("fetcher: build request: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		reason := record.NavEndError
		if ctx.Err() != nil {
			reason = record.NavEndTimeout
		}
		return Result{FetchMs: elapsedMs(start), NavEndReason: reason, RedirectChain: chain}, err
	}
	defer resp.Body.Close()

	maxBytes := f.opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return Result{FetchMs: elapsedMs(start), NavEndReason: record.NavEndError, RedirectChain: chain}, fmt.Errorf("fetcher: read body: %w", err)
	}

	truncated := false
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	return Result{
		Status:        resp.StatusCode,
		Headers:       resp.Header,
		Body:          body,
		FinalURL:      resp.Request.URL.String(),
		RedirectChain: chain,
		Truncated:     truncated,
		FetchMs:       elapsedMs(start),
		NavEndReason:  record.NavEndFetch,
	}, nil
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
