package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPortalFetchCancelledContextSkipsRetryBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewPortalFetcher()
	f.MaxRetries = 3
	f.DomainDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	// The retry chain alone would back off for 1+2+3 seconds; a cancelled
	// run must return without sitting any of that out.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("fetch took %s, cancellation should skip retry backoffs", elapsed)
	}
}
