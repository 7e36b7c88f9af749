/*
Package renderer drives a headless Chrome instance for prerender/full mode
crawling: navigate, wait for a load condition, snapshot the rendered DOM
and accessibility tree, optionally screenshot, then tear the context down.

Each navigation gets a fresh browser context (isolation per page) unless
PersistSession is set, mirroring the render-budget/per-page-context pattern
seen across the headless-render reference code in this pack: a scoped
context is opened, driven, and always closed on every exit path so browser
resources never leak across pages.
*/
package renderer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/atlascrawl/atlas/internal/record"
)

// WaitCondition is the navigation-end condition to wait for.
type WaitCondition string

const (
	WaitLoad        WaitCondition = "load"
	WaitNetworkIdle WaitCondition = "networkidle"
)

// Options configures one Renderer.
type Options struct {
	WaitCondition      WaitCondition
	NavTimeout         time.Duration
	MaxRequests        int
	MaxBytes           int64
	PersistSession     bool
	CaptureSubresources bool
}

// Result is one navigation's captured output.
type Result struct {
	FinalURL     string
	Status       int
	HTML         string
	NavEndReason record.NavEndReason
	NavMs        int64
	Truncated    bool
	Accessibility AccessibilitySnapshot
}

// AccessibilitySnapshot is the rendered accessibility surface captured
// alongside the DOM: the full CDP accessibility tree, unprocessed.
type AccessibilitySnapshot struct {
	Nodes []*accessibility.Node
}

// Renderer owns one crawl's allocator context; navigations happen inside
// fresh child browser contexts drawn from it.
type Renderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	opts        Options
}

// New launches the shared headless Chrome allocator for a crawl. Call
// Close when the crawl finishes.
func New(opts Options) (*Renderer, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 15 * time.Second
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
		)...,
	)
	return &Renderer{allocCtx: allocCtx, allocCancel: allocCancel, opts: opts}, nil
}

// Close tears down the shared allocator and its browser process.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Navigate opens a fresh browser context (unless PersistSession is set, in
// which case the allocator's single browser context is reused across
// pages), navigates to rawURL, waits for the configured condition or the
// nav timeout, and captures the rendered DOM and accessibility tree.
func (r *Renderer) Navigate(ctx context.Context, rawURL string) (Result, error) {
	tabCtx, tabCancel := chromedp.NewContext(r.allocCtx)
	defer func() {
		if !r.opts.PersistSession {
			tabCancel()
		}
	}()

	// Both the nav timeout and the caller's cancellation bound the wait.
	navCtx, navCancel := context.WithTimeout(tabCtx, r.opts.NavTimeout)
	defer navCancel()
	stopOnCallerCancel := context.AfterFunc(ctx, navCancel)
	defer stopOnCallerCancel()

	var requestCount int
	var bytesSeen int64
	var mainStatus int64
	capsExceeded := false

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			requestCount++
			if r.opts.MaxRequests > 0 && requestCount > r.opts.MaxRequests {
				capsExceeded = true
			}
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument && mainStatus == 0 {
				mainStatus = e.Response.Status
			}
		case *network.EventLoadingFinished:
			bytesSeen += int64(e.EncodedDataLength)
			if r.opts.MaxBytes > 0 && bytesSeen > r.opts.MaxBytes {
				capsExceeded = true
			}
		}
	})

	start := time.Now()

	var html string
	navEndReason := record.NavEndLoad

	waitAction := chromedp.WaitReady("body", chromedp.ByQuery)
	if r.opts.WaitCondition == WaitNetworkIdle {
		waitAction = chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery), chromedp.Sleep(800*time.Millisecond))
		})
		navEndReason = record.NavEndNetworkIdle
	}

	err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(rawURL),
		waitAction,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	navMs := time.Since(start).Milliseconds()

	if navCtx.Err() != nil {
		return Result{NavEndReason: record.NavEndTimeout, NavMs: navMs}, navCtx.Err()
	}
	if err != nil {
		return Result{NavEndReason: record.NavEndError, NavMs: navMs}, fmt.Errorf("renderer: navigate %s: %w", rawURL, err)
	}

	finalURL := rawURL
	_ = chromedp.Run(tabCtx, chromedp.Location(&finalURL))

	a11yNodes, a11yErr := r.captureAccessibilityTree(tabCtx)
	if a11yErr != nil {
		a11yNodes = nil
	}

	if capsExceeded {
		navEndReason = record.NavEndTimeout
	}

	status := int(mainStatus)
	if status == 0 {
		status = 200
	}

	return Result{
		FinalURL:      finalURL,
		Status:        status,
		HTML:          html,
		NavEndReason:  navEndReason,
		NavMs:         navMs,
		Truncated:     capsExceeded,
		Accessibility: AccessibilitySnapshot{Nodes: a11yNodes},
	}, nil
}

// captureAccessibilityTree pulls the full CDP accessibility tree for the
// current page, used by the rendered-mode accessibility extractor for
// role-histogram and landmark detection beyond what static HTML parsing
// can see (ARIA computed from CSS, live regions, etc.)
func (r *Renderer) captureAccessibilityTree(ctx context.Context) ([]*accessibility.Node, error) {
	var nodes []*accessibility.Node
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		result, err := accessibility.GetFullAXTree().Do(ctx)
		if err != nil {
			return err
		}
		nodes = result
		return nil
	}))
	return nodes, err
}

// MergeAccessibility folds the CDP accessibility tree into a page's static
// accessibility record: computed ARIA roles the static HTML walk cannot
// see (roles from CSS display, live regions) extend the role histogram.
// Nothing else is merged: contrast, keyboard-trap and media-accessibility
// checks are not computed by this package or by its callers.
func MergeAccessibility(a11y *record.Accessibility, snapshot AccessibilitySnapshot) {
	if a11y == nil || len(snapshot.Nodes) == 0 {
		return
	}
	if a11y.RoleHistogram == nil {
		a11y.RoleHistogram = make(map[string]int)
	}
	for _, node := range snapshot.Nodes {
		if node == nil || node.Ignored || node.Role == nil {
			continue
		}
		role := strings.Trim(string(node.Role.Value), `"`)
		if role == "" || role == "none" || role == "generic" {
			continue
		}
		a11y.RoleHistogram[role]++
	}
}

// Screenshot captures a full-page PNG screenshot of the current page. It is
// only meaningful called immediately after Navigate within the same tab
// context, so callers typically fold it into a single Navigate+Screenshot
// action list in practice; exposed here for the capability-gated path.
func Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}
