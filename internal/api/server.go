package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-extractor/internal/config"
	"github.com/JakeFAU/page-extractor/internal/extract"
	"github.com/JakeFAU/page-extractor/internal/id"
	"github.com/JakeFAU/page-extractor/internal/metrics"
)

// Extractor is the extraction pipeline the handlers delegate to.
type Extractor interface {
	NewRequest(source extract.SourceType, rawURL string, pageLimit int) extract.Request
	Thread(ctx context.Context, req extract.Request) (extract.ThreadResult, error)
	Listing(ctx context.Context, req extract.Request) (extract.ListingResult, error)
}

// Server wires HTTP handlers to the extraction pipeline.
type Server struct {
	router    chi.Router
	extractor Extractor
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(extractor Extractor, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/healthz", s.health)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/reddit-thread", s.redditThread)
		r.Get("/amazon-reviews", s.amazonReviews)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Page extractor running",
		"usage": []string{
			"/reddit-thread?url=<reddit_thread_url>",
			"/amazon-reviews?url=<amazon_product_url>&pages=<n>",
		},
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Sessions are created per request; there is nothing to warm up.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) redditThread(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "Missing query param: ?url=<reddit_thread_url>")
		return
	}
	req := s.extractor.NewRequest(extract.SourceThread, rawURL, 0)
	result, err := s.extractor.Thread(r.Context(), req)
	if err != nil {
		s.writeExtractError(w, r, extract.SourceThread, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) amazonReviews(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawURL := strings.TrimSpace(query.Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "Missing query param: ?url=<amazon_product_url>")
		return
	}
	req := s.extractor.NewRequest(extract.SourceListing, rawURL, parsePages(query.Get("pages")))
	result, err := s.extractor.Listing(r.Context(), req)
	if err != nil {
		s.writeExtractError(w, r, extract.SourceListing, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parsePages returns 0 (use the default) for anything that is not an integer.
func parsePages(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

// errorBody is the JSON error envelope. Empty fields are omitted so each kind only
// carries the context it has.
type errorBody struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	JSONURL     string `json:"jsonUrl,omitempty"`
	ASIN        string `json:"asin,omitempty"`
	PageNum     int    `json:"pageNum,omitempty"`
	HTTPStatus  int    `json:"httpStatus,omitempty"`
	ParseError  string `json:"parseError,omitempty"`
	BodyPreview string `json:"bodyPreview,omitempty"`
}

func (s *Server) writeExtractError(w http.ResponseWriter, r *http.Request, source extract.SourceType, err error) {
	kind := extract.KindOf(err)
	body := errorBody{Error: err.Error(), Kind: string(kind)}
	if e, ok := extract.AsError(err); ok {
		body.Error = e.Message
		if e.Err != nil && kind != extract.KindRemoteBlocked && kind != extract.KindMalformedPayload {
			body.Error = fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		switch source {
		case extract.SourceThread:
			body.JSONURL = e.URL
			body.HTTPStatus = e.HTTPStatus
			body.ParseError = e.ParseError
			body.BodyPreview = e.Preview
		case extract.SourceListing:
			body.PageNum = e.Page
		}
	}
	if source == extract.SourceListing && kind != extract.KindInvalidURL {
		if asin, aerr := extract.ExtractASIN(r.URL.Query().Get("url")); aerr == nil {
			body.ASIN = asin
		}
	}
	if kind == extract.KindInvalidURL {
		body = errorBody{Error: body.Error, Kind: body.Kind}
	}

	status := kind.HTTPStatus()
	s.logger.Warn("extraction request failed",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("source", string(source)),
		zap.String("kind", string(kind)),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeJSON(w, status, body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := id.FromHeader(r.Header.Get("X-Request-ID"))
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestIDFrom(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware bounds the request context. Handlers observe the deadline through
// the extraction pipeline, which reports it as a timeout error with its own context.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
