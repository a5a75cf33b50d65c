// Package health serves liveness and readiness probes. Readiness requires a
// loaded satellite catalog; liveness is unconditional.
package health

import (
	"net/http"

	"github.com/orbview/orbview/internal/tle"
)

// Checker answers probe requests against the catalog store.
type Checker struct {
	store *tle.Store
}

// NewChecker creates a Checker backed by the given store.
func NewChecker(store *tle.Store) *Checker {
	return &Checker{store: store}
}

// Healthz returns 200 "ok\n" unconditionally.
func (c *Checker) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once a catalog is loaded, 503 before.
func (c *Checker) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if c.store.Get() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no catalog\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}
