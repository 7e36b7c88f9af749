package urlutil_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascrawl/atlas/pkg/urlutil"
)

func parse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestParamPolicyKeepLeavesQueryAlone(t *testing.T) {
	u := parse(t, "https://a.test/p?b=2&a=1")
	got := urlutil.ApplyParamPolicy(u, urlutil.ParamPolicyKeep, nil, nil)
	assert.Equal(t, "b=2&a=1", got.RawQuery)
}

func TestParamPolicyStripDropsAllQuery(t *testing.T) {
	u := parse(t, "https://a.test/p?a=1&b=2")
	got := urlutil.ApplyParamPolicy(u, urlutil.ParamPolicyStrip, nil, nil)
	assert.Empty(t, got.RawQuery)
}

func TestParamPolicySampleRetainsFirstSeenValue(t *testing.T) {
	seen := urlutil.NewSeenParams()

	first := urlutil.ApplyParamPolicy(parse(t, "https://a.test/p?session=abc"), urlutil.ParamPolicySample, nil, seen)
	assert.Contains(t, first.RawQuery, "session=abc")

	// A different value for the same key collapses to the first observation.
	second := urlutil.ApplyParamPolicy(parse(t, "https://a.test/p?session=xyz"), urlutil.ParamPolicySample, nil, seen)
	assert.Contains(t, second.RawQuery, "session=abc")
	assert.NotContains(t, second.RawQuery, "xyz")
}

func TestBlockListRemovesLiteralAndGlobMatches(t *testing.T) {
	u := parse(t, "https://a.test/p?utm_source=x&utm_medium=y&fbclid=z&keep=1")
	got := urlutil.ApplyParamPolicy(u, urlutil.ParamPolicyKeep, []string{"utm_*", "fbclid"}, nil)

	query := got.Query()
	assert.NotContains(t, query, "utm_source")
	assert.NotContains(t, query, "utm_medium")
	assert.NotContains(t, query, "fbclid")
	assert.Equal(t, "1", query.Get("keep"))
}

func TestBlockListAppliedBeforeSampling(t *testing.T) {
	seen := urlutil.NewSeenParams()
	u := parse(t, "https://a.test/p?utm_source=x&page=2")
	got := urlutil.ApplyParamPolicy(u, urlutil.ParamPolicySample, []string{"utm_*"}, seen)

	assert.NotContains(t, got.Query(), "utm_source")
	assert.Equal(t, "2", got.Query().Get("page"))
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{
		"http://127.0.0.1/",
		"http://localhost/",
		"http://10.1.2.3/",
		"http://192.168.0.1/",
		"http://172.16.9.9/",
		"http://169.254.1.1/",
		"http://[::1]/",
		"http://[fe80::1%25eth0]/",
		"http://[fd00::1]/",
		"http://224.0.0.1/",
	}
	for _, raw := range private {
		assert.True(t, urlutil.IsPrivateIP(parse(t, raw)), raw)
	}

	public := []string{
		"https://example.com/",
		"http://8.8.8.8/",
		"http://[2606:4700::1111]/",
	}
	for _, raw := range public {
		assert.False(t, urlutil.IsPrivateIP(parse(t, raw)), raw)
	}
}

func TestIsHomographAttack(t *testing.T) {
	// "аpple.com" with a Cyrillic "а" mixed into Latin letters.
	mixed := parse(t, "https://аpple.com/")
	assert.True(t, urlutil.IsHomographAttack(mixed))

	assert.False(t, urlutil.IsHomographAttack(parse(t, "https://apple.com/")))
	// All-Cyrillic hosts are legitimate IDN, not a mixed-script spoof.
	assert.False(t, urlutil.IsHomographAttack(parse(t, "https://почта.рф/")))
}
