package pipeline

import (
	"encoding/json"
	"net/http"
)

// Version is stamped at build time.
var Version = "0.1.0"

// AdminMux serves the gateway-internal endpoints: health, readiness
// and metrics.
func (p *Pipeline) AdminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/_gateway/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"version": Version,
		})
	})

	mux.HandleFunc("/_gateway/ready", func(w http.ResponseWriter, _ *http.Request) {
		stats := p.Routes.Load().Stats()
		ready := stats.Routes > 0

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":            ready,
			"routes_loaded":    stats.Routes,
			"unique_upstreams": stats.UniqueUpstreams,
		})
	})

	if p.Metrics != nil {
		mux.Handle("/metrics", p.Metrics.Handler())
	}

	return mux
}
