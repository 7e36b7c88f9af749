package renderer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascrawl/atlas/internal/renderer"
)

// Navigation itself needs a Chrome binary and is exercised by the
// prerender/full integration environment, not unit tests; constructing and
// tearing down the allocator must work anywhere since the browser process
// is only spawned on first navigation.
func TestNewAndCloseWithoutNavigation(t *testing.T) {
	r, err := renderer.New(renderer.Options{WaitCondition: renderer.WaitLoad})
	require.NoError(t, err)
	assert.NotPanics(t, r.Close)
}
