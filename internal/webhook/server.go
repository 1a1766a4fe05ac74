package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/envelope"
	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/signature"
)

// Options carries the collaborators of the server.
type Options struct {
	ServiceName  string
	ChatVerifier signature.Verifier
	FSMVerifier  signature.Verifier
	Dispatcher   Dispatcher
	Metrics      metrics.Sink
	// Gatherer backs GET /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthCheck
}

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	opts   Options
	logger *slog.Logger
	server *http.Server
	now    func() time.Time
}

// New creates a new webhook server instance.
func New(config Config, opts Options, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopSink()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "jobrelay"
	}
	return &Server{
		config: config,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Start starts the webhook HTTP server and blocks until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "max_body_size", s.config.MaxBodySize)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(correlationID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	ackOK := StatusResponse{Status: "ok"}
	r.Post(PathChatEvents, s.handle(route{
		source: envelope.SourceChat, verifier: s.opts.ChatVerifier, parse: envelope.ParseChatEvent, ack: ackOK,
	}))
	r.Post(PathChatInteractions, s.handle(route{
		source: envelope.SourceChat, verifier: s.opts.ChatVerifier, parse: envelope.ParseInteraction, ack: ackOK,
	}))
	r.Post(PathChatCommands, s.handle(route{
		source: envelope.SourceChat, verifier: s.opts.ChatVerifier, parse: envelope.ParseSlashCommand, command: true,
	}))
	r.Post(PathFSM, s.handle(route{
		source: envelope.SourceFSM, verifier: s.opts.FSMVerifier, parse: envelope.ParseFSMWebhook,
		ack: StatusResponse{Status: "received"},
	}))

	r.Get(PathHealth, s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Handle(PathMetrics, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// correlationID assigns a UUID request id when the caller sent none.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type route struct {
	source   envelope.Source
	verifier signature.Verifier
	parse    func(envelope.RawRequest) (envelope.Result, error)
	// ack is the body for acknowledged deliveries; nil answers with an empty 200.
	ack     any
	command bool
}

// handle verifies, parses and dispatches one delivery. Only an oversized body, a bad
// signature or an unrecoverable envelope produce a non-2xx status.
func (s *Server) handle(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		raw := envelope.NewRawRequest(r.Header, body, s.now())

		if rt.verifier == nil || !rt.verifier.Verify(raw.Headers, raw.Body) {
			s.opts.Metrics.SignatureRejected(string(rt.source))
			s.logger.Warn("webhook signature verification failed", "path", r.URL.Path, "source", rt.source)
			s.respondError(w, http.StatusUnauthorized, "invalid request signature")
			return
		}

		res, err := rt.parse(raw)
		if err != nil {
			recoverable := envelope.IsRecoverable(err)
			s.opts.Metrics.EnvelopeRejected(string(rt.source), recoverable)
			if !recoverable {
				s.logger.Warn("webhook envelope rejected", "path", r.URL.Path, "error", err)
				s.respondError(w, http.StatusBadRequest, "malformed request")
				return
			}
			s.logger.Warn("webhook envelope ignored", "path", r.URL.Path, "error", err)
			s.acknowledge(w, rt)
			return
		}

		if res.Challenge != "" {
			s.respondJSON(w, http.StatusOK, ChallengeResponse{Challenge: res.Challenge})
			return
		}
		if res.Event == nil || s.opts.Dispatcher == nil {
			s.acknowledge(w, rt)
			return
		}

		// Handlers finish even if the sender hangs up.
		out := s.opts.Dispatcher.Dispatch(context.WithoutCancel(r.Context()), res.Event)
		switch {
		case out.Reply != nil:
			s.respondJSON(w, http.StatusOK, out.Reply)
		case rt.command && !out.Handled && !out.Duplicate:
			s.respondJSON(w, http.StatusOK, dispatch.Reply{Text: "Unknown command"})
		default:
			s.acknowledge(w, rt)
		}
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.logger.Warn("webhook body too large", "path", r.URL.Path, "limit", s.config.MaxBodySize)
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}
	return body, true
}

func (s *Server) acknowledge(w http.ResponseWriter, rt route) {
	if rt.ack == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.respondJSON(w, http.StatusOK, rt.ack)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Service: s.opts.ServiceName}
	status := http.StatusOK

	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := s.opts.Checks[name](ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	s.respondJSON(w, status, resp)
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
