package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"muhost/internal/activity"
	"muhost/internal/config"
	"muhost/internal/manager"
	"muhost/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Enhance(ctx context.Context, req manager.EnhanceRequest) (manager.EnhanceResult, error)
	Status() types.StatusResponse
	ListModels() types.ModelsResponse
	Settings() config.Settings
	UpdateSettings(patch []byte) (config.Settings, error)
	ClearCache(includeWrapped bool) (int, error)
	Tracker() *activity.Tracker
}

// NewMux builds the loopback API. Every request counts as activity for the
// idle supervisor, probes included.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer)
	if t := svc.Tracker(); t != nil {
		r.Use(trackActivity(t))
	}
	r.Use(MetricsMiddleware)
	r.Use(noStore)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{headerModel, headerFormat, headerHostError},
			MaxAge:         600,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	})

	r.Get("/health", handleHealth)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	r.Get("/enhance", enhanceURLHandler(svc))
	r.Post("/enhance", enhanceBodyHandler(svc))
	r.Post("/cache/clear", cacheClearHandler(svc))
	r.Get("/config", configGetHandler(svc))
	r.Post("/config", configPostHandler(svc))
	r.Get("/models", modelsHandler(svc))
	r.Post("/shutdown", handleShutdown)
	return r
}

// handleHealth godoc
//
//	@Summary	Liveness probe
//	@Produce	plain
//	@Success	200	{string}	string	"ok"
//	@Router		/health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// modelsHandler godoc
//
//	@Summary	Current model catalog
//	@Produce	json
//	@Success	200	{object}	types.ModelsResponse
//	@Router		/models [get]
func modelsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.ListModels())
	}
}
