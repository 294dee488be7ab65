package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/readyz", probeURL("", "/readyz"))
	assert.Equal(t, "http://localhost:9000/healthz", probeURL(":9000", "/healthz"))
	assert.Equal(t, "http://0.0.0.0:8080/readyz", probeURL("0.0.0.0:8080", "/readyz"))
}

func TestProbe(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	assert.NoError(t, probe(context.Background(), srv.URL+"/readyz"))
	ready.Store(false)
	assert.EqualError(t, probe(context.Background(), srv.URL+"/readyz"), "unexpected status Service Unavailable")
}
