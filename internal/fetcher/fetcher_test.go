package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascrawl/atlas/internal/fetcher"
	"github.com/atlascrawl/atlas/internal/record"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "atlas-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	f := fetcher.New(fetcher.Options{Timeout: 5 * time.Second, UserAgent: "atlas-test/1.0"})
	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, 200, result.Status)
	assert.Equal(t, "<html><body>ok</body></html>", string(result.Body))
	assert.Contains(t, result.Headers.Get("Content-Type"), "text/html")
	assert.Equal(t, record.NavEndFetch, result.NavEndReason)
	assert.False(t, result.Truncated)
	assert.Empty(t, result.RedirectChain)
}

func TestFetchRecordsRedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("arrived"))
	})

	f := fetcher.New(fetcher.Options{Timeout: 5 * time.Second})
	result, err := f.Fetch(context.Background(), server.URL+"/start")
	require.NoError(t, err)

	require.Len(t, result.RedirectChain, 2)
	assert.Equal(t, http.StatusMovedPermanently, result.RedirectChain[0].Status)
	assert.True(t, strings.HasSuffix(result.RedirectChain[0].Location, "/middle"))
	assert.Equal(t, http.StatusFound, result.RedirectChain[1].Status)
	assert.True(t, strings.HasSuffix(result.FinalURL, "/end"))
	assert.Equal(t, "arrived", string(result.Body))
}

func TestFetchCapsBodyBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer server.Close()

	f := fetcher.New(fetcher.Options{Timeout: 5 * time.Second, MaxBytes: 1024})
	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Len(t, result.Body, 1024)
}

func TestFetchSurfacesHTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := fetcher.New(fetcher.Options{Timeout: 5 * time.Second})
	result, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, result.Status)
}

func TestFetchTimeoutYieldsTimeoutReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	f := fetcher.New(fetcher.Options{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := f.Fetch(ctx, server.URL)
	require.Error(t, err)
	assert.Equal(t, record.NavEndTimeout, result.NavEndReason)
}

func TestFetchDNSFailure(t *testing.T) {
	f := fetcher.New(fetcher.Options{Timeout: 2 * time.Second})
	result, err := f.Fetch(context.Background(), "http://definitely-not-a-real-host-xyz-12345.invalid/")
	require.Error(t, err)
	assert.Equal(t, record.NavEndError, result.NavEndReason)
	assert.Zero(t, result.Status)
}
