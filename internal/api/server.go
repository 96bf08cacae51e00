// Package api exposes the orchestration core over HTTP: deployment job
// control, catalog CRUD, the machine webhook, metrics, and health.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hatchery-sh/hatchery/internal/engine"
	"github.com/hatchery-sh/hatchery/internal/metrics"
	"github.com/hatchery-sh/hatchery/internal/store"
	"github.com/hatchery-sh/hatchery/internal/tracker"
)

// Server handles the REST API. Auth policy is out of scope: the audit
// principal is taken from X-Hatchery-Principal verbatim, defaulting to
// "anonymous"; only the webhook carries a shared secret.
type Server struct {
	store         *store.Store
	tracker       *tracker.Tracker
	engine        *engine.Engine
	webhookSecret string

	mux *http.ServeMux
}

// NewServer wires all routes.
func NewServer(s *store.Store, tr *tracker.Tracker, eng *engine.Engine, webhookSecret string) *Server {
	srv := &Server{
		store:         s,
		tracker:       tr,
		engine:        eng,
		webhookSecret: webhookSecret,
		mux:           http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/deployments", s.handleSubmitDeployment)
	s.mux.HandleFunc("GET /api/v1/deployments", s.handleListDeployments)
	s.mux.HandleFunc("GET /api/v1/deployments/{id}", s.handleGetDeployment)
	s.mux.HandleFunc("POST /api/v1/deployments/{id}/cancel", s.handleCancelDeployment)
	s.mux.HandleFunc("POST /api/v1/deployments/{id}/retry", s.handleRetryDeployment)
	s.mux.HandleFunc("GET /api/v1/deployments/{id}/logs", s.handleDeploymentLogs)

	s.mux.HandleFunc("GET /api/v1/machines", s.handleListMachines)
	s.mux.HandleFunc("GET /api/v1/machines/{id}", s.handleGetMachine)

	s.mux.HandleFunc("GET /api/v1/eggs", s.handleListEggs)
	s.mux.HandleFunc("POST /api/v1/eggs", s.handleCreateEgg)
	s.mux.HandleFunc("GET /api/v1/eggs/{id}", s.handleGetEgg)
	s.mux.HandleFunc("PUT /api/v1/eggs/{id}", s.handleUpdateEgg)
	s.mux.HandleFunc("DELETE /api/v1/eggs/{id}", s.handleDeleteEgg)

	s.mux.HandleFunc("GET /api/v1/egg-groups", s.handleListEggGroups)
	s.mux.HandleFunc("POST /api/v1/egg-groups", s.handleCreateEggGroup)
	s.mux.HandleFunc("GET /api/v1/egg-groups/{id}", s.handleGetEggGroup)
	s.mux.HandleFunc("DELETE /api/v1/egg-groups/{id}", s.handleDeleteEggGroup)

	s.mux.HandleFunc("GET /api/v1/images", s.handleListImages)
	s.mux.HandleFunc("POST /api/v1/images", s.handleCreateImage)
	s.mux.HandleFunc("GET /api/v1/images/{id}", s.handleGetImage)
	s.mux.HandleFunc("DELETE /api/v1/images/{id}", s.handleDeleteImage)

	s.mux.HandleFunc("GET /api/v1/boot-configs", s.handleListBootConfigs)
	s.mux.HandleFunc("POST /api/v1/boot-configs", s.handleCreateBootConfig)
	s.mux.HandleFunc("GET /api/v1/boot-configs/{id}", s.handleGetBootConfig)
	s.mux.HandleFunc("PUT /api/v1/boot-configs/{id}", s.handleUpdateBootConfig)
	s.mux.HandleFunc("DELETE /api/v1/boot-configs/{id}", s.handleDeleteBootConfig)

	s.mux.HandleFunc("POST /api/v1/webhook/machines", s.handleWebhook)

	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
}

// ServeHTTP instruments every request with logging and metrics.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	elapsed := time.Since(start)
	// The mux fills in Pattern during dispatch; unmatched requests keep
	// the raw path (404s only, so cardinality stays bounded).
	route := r.Pattern
	if route == "" {
		route = r.Method + " " + r.URL.Path
	}
	metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	log.Printf("api: %s %s -> %d in %v", r.Method, r.URL.Path, rec.status, elapsed)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// principal extracts the audit identity from the request.
func principal(r *http.Request) string {
	if p := r.Header.Get("X-Hatchery-Principal"); p != "" {
		return p
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("api: encoding response: %v", err)
		}
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
