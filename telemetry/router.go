package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
)

// APIPathPrefix is the prefix for all ops endpoints.
const APIPathPrefix = "/api/v1"

// StatsSource exposes live pipeline counters for the /stats endpoint.
type StatsSource interface {
	Stats() map[string]any
}

// Router wires the ops endpoints: health, pipeline stats, and prometheus
// metrics. The candle query surface is served elsewhere; this listener is
// operational only.
type Router struct {
	logger zerolog.Logger
	cfg    config.Server
	source StatsSource
}

func NewRouter(logger zerolog.Logger, cfg config.Server, source StatsSource) *Router {
	return &Router{
		logger: logger.With().Str("module", "telemetry").Logger(),
		cfg:    cfg,
		source: source,
	}
}

// RegisterRoutes registers the ops routes on the given mux router.
func (r *Router) RegisterRoutes(rtr *mux.Router, prefix string) {
	v1Router := rtr.PathPrefix(prefix).Subrouter()

	mChain := alice.New(cors.New(cors.Options{
		AllowedOrigins: r.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler)

	v1Router.Handle("/healthz", mChain.ThenFunc(r.healthzHandler())).Methods(http.MethodGet)
	v1Router.Handle("/stats", mChain.ThenFunc(r.statsHandler())).Methods(http.MethodGet)

	if r.cfg.EnableMetrics {
		rtr.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// Listen starts the ops HTTP server and blocks until the context is done.
func (r *Router) Listen(done <-chan struct{}) error {
	rtr := mux.NewRouter()
	r.RegisterRoutes(rtr, APIPathPrefix)

	writeTimeout, err := time.ParseDuration(r.cfg.WriteTimeout)
	if err != nil {
		return err
	}
	readTimeout, err := time.ParseDuration(r.cfg.ReadTimeout)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      rtr,
		Addr:         r.cfg.ListenAddr,
		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,
	}

	go func() {
		<-done
		_ = srv.Close()
	}()

	r.logger.Info().Str("listen_addr", r.cfg.ListenAddr).Msg("starting ops server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (r *Router) healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := struct {
			Status string `json:"status"`
		}{Status: "available"}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (r *Router) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.source == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, r.source.Stats())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
