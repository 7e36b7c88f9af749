package urlutil

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

/*
Package urlutil is the URL normalizer: canonicalize, classify, filter.

Normalization order (see NormalizeOptions): parse; optional http->https
upgrade; punycode host; lowercase host (and optionally path); strip default
port; strip fragment; sort query parameters by key then value; optional
trailing-slash normalization. Repeated keys are ordered by value; the sort
is stable, so identical key=value pairs keep their relative order.

Normalization never throws: on parse failure the original, lowercased input
is returned unchanged.
*/

type NormalizeOptions struct {
	UpgradeToHTTPS      bool
	LowercasePath       bool
	TrailingSlashPolicy TrailingSlashPolicy
}

type TrailingSlashPolicy int

const (
	TrailingSlashKeep TrailingSlashPolicy = iota
	TrailingSlashStrip
	TrailingSlashAdd
)

func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		LowercasePath:       false,
		TrailingSlashPolicy: TrailingSlashStrip,
	}
}

// Normalize applies the canonicalization rules of §4.1 to rawUrl, returning
// the canonical string form used as the crawl's urlKey. It never fails: a
// parse error yields the lowercased original string.
func Normalize(rawUrl string, opts NormalizeOptions) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return strings.ToLower(rawUrl)
	}
	canonical := NormalizeURL(*parsed, opts)
	return canonical.String()
}

// NormalizeURL is the struct-typed core of Normalize, used internally by
// components (frontier, extractor) that already hold a parsed url.URL and
// want to avoid a re-parse round trip.
func NormalizeURL(sourceUrl url.URL, opts NormalizeOptions) url.URL {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	if opts.UpgradeToHTTPS && canonical.Scheme == "http" {
		canonical.Scheme = "https"
	}

	canonical.Host = canonicalizeHost(canonical.Host)

	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	canonical.Path = norm.NFC.String(canonical.Path)
	if opts.LowercasePath {
		canonical.Path = lowerASCII(canonical.Path)
	}
	canonical.Path = applyTrailingSlashPolicy(canonical.Path, opts.TrailingSlashPolicy)

	canonical.Fragment = ""
	canonical.RawFragment = ""

	if canonical.RawQuery != "" {
		canonical.RawQuery = sortQuery(canonical.RawQuery)
	}
	canonical.ForceQuery = canonical.ForceQuery && canonical.RawQuery != ""

	return canonical
}

// canonicalizeHost lowercases the host and converts any IDN labels to their
// punycode (ACE) form so that visually or byte-wise distinct spellings of
// the same host collapse to one urlKey. Hosts that fail punycode conversion
// (already-ASCII, or malformed) are returned lowercased unchanged.
func canonicalizeHost(host string) string {
	lowered := lowerASCII(host)
	ascii, err := idna.Lookup.ToASCII(lowered)
	if err != nil {
		return lowered
	}
	return ascii
}

func applyTrailingSlashPolicy(path string, policy TrailingSlashPolicy) string {
	switch policy {
	case TrailingSlashStrip:
		if len(path) > 1 {
			return stripTrailingSlash(path)
		}
		return path
	case TrailingSlashAdd:
		if path == "" {
			return "/"
		}
		if !strings.HasSuffix(path, "/") {
			return path + "/"
		}
		return path
	default:
		return path
	}
}

// sortQuery stably sorts query parameters by key then value, preserving
// repeated keys' relative order for equal (key, value) pairs.
func sortQuery(rawQuery string) string {
	pairs := strings.Split(rawQuery, "&")
	type kv struct {
		raw        string
		key, value string
	}
	parsed := make([]kv, 0, len(pairs))
	for _, p := range pairs {
		if p == "" {
			continue
		}
		k, v, _ := strings.Cut(p, "=")
		parsed = append(parsed, kv{raw: p, key: k, value: v})
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		if parsed[i].key != parsed[j].key {
			return parsed[i].key < parsed[j].key
		}
		return parsed[i].value < parsed[j].value
	})
	out := make([]string, len(parsed))
	for i, p := range parsed {
		out[i] = p.raw
	}
	return strings.Join(out, "&")
}

// SameOrigin reports whether a and b share scheme and host (port-inclusive
// via url.URL.Host).
func SameOrigin(a, b url.URL) bool {
	return lowerASCII(a.Scheme) == lowerASCII(b.Scheme) && lowerASCII(a.Host) == lowerASCII(b.Host)
}

// IsInternal reports whether to is reachable without leaving from's origin.
func IsInternal(from, to url.URL) bool {
	return SameOrigin(from, to)
}

// SectionOf returns "/" for the root path and otherwise "/<first-segment>/".
func SectionOf(u url.URL) string {
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "/"
	}
	first := strings.SplitN(trimmed, "/", 2)[0]
	return "/" + first + "/"
}

// Resolve resolves ref against base, returning the absolute URL. It mirrors
// url.URL.ResolveReference but takes/returns value types for convenience at
// extractor call sites.
func Resolve(base url.URL, ref string) (url.URL, error) {
	parsedRef, err := url.Parse(ref)
	if err != nil {
		return url.URL{}, err
	}
	return *base.ResolveReference(parsedRef), nil
}

func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
