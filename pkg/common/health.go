package common

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness endpoints on a side port.
type HealthServer struct {
	srv   *http.Server
	ready *atomic.Bool
}

// NewHealthServer starts serving /v1/health and /v1/readiness on :8081.
// Liveness always answers 200; readiness follows the ready flag.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	srv := &http.Server{
		Addr:         ":8081",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	hs := &HealthServer{srv: srv, ready: ready}

	go func() { _ = srv.ListenAndServe() }()

	return hs
}

// Server returns the underlying HTTP server for shutdown.
func (h *HealthServer) Server() *http.Server { return h.srv }
