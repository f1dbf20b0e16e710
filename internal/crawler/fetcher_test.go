package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherFetchesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte(`<html><head><title>Listings</title></head><body></body></html>`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher("test-agent", time.Second, 0)
	pg, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Listings", pg.Title)
	assert.Contains(t, pg.HTML, "<body>")
}

func TestHTTPFetcherMapsBlockStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("test-agent", time.Second, 0)
	_, err := f.FetchPage(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrSoftBlocked)
}

func TestHTTPFetcherThrottleHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher("test-agent", time.Second, time.Hour)

	// First request is never throttled.
	_, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)

	// The second would wait an hour; it must not hold the mutex while
	// waiting, and cancellation must cut the wait short.
	ctx, cancel := context.WithCancel(context.Background())
	fetchDone := make(chan error, 1)
	go func() {
		_, err := f.FetchPage(ctx, srv.URL)
		fetchDone <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the fetch enter the throttle wait

	cookieSet := make(chan struct{})
	go func() {
		f.SetCookies(nil)
		close(cookieSet)
	}()
	select {
	case <-cookieSet:
	case <-time.After(time.Second):
		t.Fatal("SetCookies blocked behind a throttled fetch")
	}

	start := time.Now()
	cancel()
	select {
	case err := <-fetchDone:
		require.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("throttled fetch ignored cancellation")
	}
}
