// Package server exposes storyline layouts over HTTP.
//
// # Routes
//
//	GET    /healthz                      liveness and build info
//	POST   /v1/layout                    backend result in, layout JSON out
//	GET    /v1/query?q=&field=           parse a manual query
//	POST   /v1/view                      build the backend view for a query
//	POST   /v1/annotate                  render event descriptions
//
// When a query source is configured, widget sessions are served too:
//
//	POST   /v1/sessions                  start a session for a query
//	GET    /v1/sessions/{id}             current state and layout
//	PUT    /v1/sessions/{id}/query       replace the query
//	POST   /v1/sessions/{id}/nodes/{key} toggle a node selection
//	PUT    /v1/sessions/{id}/brush       set or clear the brush
//	DELETE /v1/sessions/{id}             close the session
//
// Errors are JSON objects {"error": message, "code": code} with the status
// from [errors.HTTPStatus]. Identical concurrent layout requests share one
// computation.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/storyline/pkg/annotate"
	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/pipeline"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/session"
)

// maxBodySize caps request bodies.
const maxBodySize = 32 << 20

// Options configures a [Server].
type Options struct {
	// RateLimit is the sustained requests per second allowed per client;
	// zero disables limiting.
	RateLimit float64
	Burst     int

	ClusterField string

	// Layout holds the default layout options; requests may override them.
	Layout pipeline.Options

	// Source answers session queries. Session routes are disabled when nil.
	Source query.Source

	SessionTTL time.Duration

	// AnnotateBaseURL prefixes relative entity links.
	AnnotateBaseURL string

	Logger *log.Logger
}

// Server is the HTTP API.
type Server struct {
	runner    *pipeline.Runner
	opts      Options
	logger    *log.Logger
	router    chi.Router
	annotator *annotate.Annotator
	sessions  *session.Store
	flight    singleflight.Group
}

// New creates a server laying out timelines with runner.
func New(runner *pipeline.Runner, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if opts.ClusterField == "" {
		opts.ClusterField = pipeline.DefaultClusterField
	}
	s := &Server{
		runner:    runner,
		opts:      opts,
		logger:    opts.Logger,
		annotator: annotate.New(opts.AnnotateBaseURL, opts.Logger),
	}
	if opts.Source != nil {
		s.sessions = session.NewStore(opts.SessionTTL)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close closes all live sessions.
func (s *Server) Close() {
	if s.sessions != nil {
		s.sessions.Close()
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(newClientLimiter(s.opts.RateLimit, s.opts.Burst).middleware)
		}
		r.Post("/layout", s.handleLayout)
		r.Get("/query", s.handleQuery)
		r.Post("/view", s.handleView)
		r.Post("/annotate", s.handleAnnotate)

		if s.sessions != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.handleSessionCreate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleSessionGet)
					r.Delete("/", s.handleSessionDelete)
					r.Put("/query", s.handleSessionQuery)
					r.Put("/brush", s.handleSessionBrush)
					r.Post("/nodes/{key}", s.handleSessionToggleNode)
				})
			})
		}
	})
	return r
}

// =============================================================================
// Responses
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeErrorBody(w, err)
}

func writeErrorBody(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errors.UserMessage(err),
		Code:  string(errors.GetCode(err)),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "decode request body")
	}
	return nil
}
