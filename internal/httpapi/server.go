// Package httpapi exposes the read-only observation surface: daemon
// status, registered models, the catalog browse endpoints and Prometheus
// metrics. Test control stays on the TCP socket; nothing here mutates
// engine state.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"benchd/internal/catalog"
	"benchd/internal/engine"
	"benchd/internal/model"
	"benchd/pkg/types"
)

// ClientCounter reports connected control-socket sessions.
type ClientCounter interface {
	ClientCount() int
}

// Config carries the collaborators the HTTP layer reads from. Catalog may
// be nil when the station runs without a catalog database.
type Config struct {
	Engine   *engine.Engine
	Clients  ClientCounter
	Registry *model.Registry
	Catalog  *catalog.Store
	Log      zerolog.Logger

	CORSEnabled bool
	CORSOrigins []string
}

func NewMux(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger(cfg.Log))
	if cfg.CORSEnabled {
		origins := cfg.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := cfg.Engine.Snapshot()
		if cfg.Clients != nil {
			resp.ConnectedClients = cfg.Clients.ClientCount()
		}
		writeJSON(w, resp)
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: cfg.Registry.Names()})
	})

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			catalogRefs(w, cfg.Catalog, func(s *catalog.Store) ([]types.NamedRef, error) {
				return s.Models()
			})
		})
		r.Get("/models/{id}/stages", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			catalogRefs(w, cfg.Catalog, func(s *catalog.Store) ([]types.NamedRef, error) {
				return s.Stages(id)
			})
		})
		r.Get("/models/{id}/bands", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			catalogRefs(w, cfg.Catalog, func(s *catalog.Store) ([]types.NamedRef, error) {
				return s.Bands(id)
			})
		})
		r.Get("/stages/{id}/temperatures", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r)
			if !ok {
				return
			}
			catalogRefs(w, cfg.Catalog, func(s *catalog.Store) ([]types.NamedRef, error) {
				return s.Temperatures(id)
			})
		})
		r.Get("/testcases", func(w http.ResponseWriter, r *http.Request) {
			modelID, ok := queryID(w, r, "model_id")
			if !ok {
				return
			}
			bandID, ok := queryID(w, r, "band_id")
			if !ok {
				return
			}
			tempID, ok := queryID(w, r, "temperature_id")
			if !ok {
				return
			}
			catalogRefs(w, cfg.Catalog, func(s *catalog.Store) ([]types.NamedRef, error) {
				return s.ResolveTestCases(modelID, bandID, tempID)
			})
		})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// catalogRefs runs one catalog query and renders it, mapping an absent
// catalog to 404 and query failures to 500. Empty results render as [].
func catalogRefs(w http.ResponseWriter, s *catalog.Store, q func(*catalog.Store) ([]types.NamedRef, error)) {
	if s == nil {
		writeJSONError(w, http.StatusNotFound, "catalog not configured")
		return
	}
	refs, err := q(s)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "catalog query failed")
		return
	}
	if refs == nil {
		refs = []types.NamedRef{}
	}
	writeJSON(w, refs)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeJSONError(w, http.StatusBadRequest, name+" is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
