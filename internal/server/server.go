// Package server exposes ingest, query and derived content over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nickcecere/docchat/internal/artifacts"
	"github.com/nickcecere/docchat/internal/auth"
	"github.com/nickcecere/docchat/internal/indexer"
	"github.com/nickcecere/docchat/internal/manifest"
	"github.com/nickcecere/docchat/internal/metrics"
	"github.com/nickcecere/docchat/internal/search"
	"github.com/nickcecere/docchat/internal/store"
	"github.com/nickcecere/docchat/internal/tasks"
)

// Ingester is the write side of the document store.
type Ingester interface {
	Ingest(ctx context.Context, u indexer.Upload) (*indexer.Receipt, error)
	Remove(ctx context.Context, userID, conversationID, fileID string) (bool, error)
	Files(ctx context.Context, userID, conversationID string) ([]manifest.Entry, error)
	File(ctx context.Context, userID, conversationID, fileID string) (*manifest.Entry, error)
	Stats(ctx context.Context, userID, conversationID string) (*manifest.Stats, error)
}

// Querier answers questions.
type Querier interface {
	Query(ctx context.Context, req search.Request) (*search.Answer, error)
}

// TaskLister exposes background task state.
type TaskLister interface {
	Get(id string) *tasks.Task
	List() []tasks.Task
}

// MindmapGenerator builds mindmaps from document text.
type MindmapGenerator interface {
	Generate(ctx context.Context, content string, s artifacts.Settings) (*artifacts.Node, error)
}

// NoteGenerator writes custom notes from document text.
type NoteGenerator interface {
	Generate(ctx context.Context, content string, s artifacts.Settings) (string, error)
}

// Deps are the collaborators behind the routes. Sink, Tasks, Mindmap and
// Notes are optional; their routes answer 501 when unset.
type Deps struct {
	Indexer Ingester
	Search  Querier
	Index   store.Index
	Sink    artifacts.Sink
	Tasks   TaskLister
	Mindmap MindmapGenerator
	Notes   NoteGenerator
}

// Options configures the HTTP layer.
type Options struct {
	JWTSecret      []byte
	MaxUploadBytes int64
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
	opts Options
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	return &Server{deps: deps, opts: opts}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Post("/files", s.handleUpload)
			r.Get("/files", s.handleListFiles)
			r.Get("/stats", s.handleStats)
			r.Delete("/files/{fileID}", s.handleRemove)
			r.Get("/files/{fileID}/summary", s.handleSummary)
			r.Post("/files/{fileID}/mindmap", s.handleMindmap)
			r.Post("/files/{fileID}/note", s.handleNote)
			r.Get("/artifacts", s.handleArtifacts)
			r.Post("/query", s.handleQuery)
		})

		r.Get("/artifact-options", s.handleArtifactOptions)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskID}", s.handleGetTask)
	})

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// authenticate resolves the bearer token to a user id.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		claims, err := auth.ParseToken(token, s.opts.JWTSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), claims.UserID)))
	})
}

// jsonRecoverer returns JSON instead of a plain text stacktrace.
func jsonRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				log.Error("Panic recovered", "panic", rvr, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
