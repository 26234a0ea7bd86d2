// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes registered actions over the HTTP protocol the
// orchestrator speaks.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/docrelay/internal/action"
	"github.com/tombee/docrelay/internal/hub"
	"github.com/tombee/docrelay/internal/log"
	"github.com/tombee/docrelay/internal/redact"
	"github.com/tombee/docrelay/internal/tracing"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

const tracerName = "github.com/tombee/docrelay/internal/server"

// ListingLabel is the label of the action listing.
const ListingLabel = "docrelay"

// Multipart part names of a streamed execute request.
const (
	PartRequest = "request"
	PartData    = "data"
)

// maxRequestJSON bounds the JSON envelope of a request.
const maxRequestJSON = 32 << 20

// loginCompleteHTML closes the consent popup once credentials are stored.
const loginCompleteHTML = `<!DOCTYPE html><html><body><p>Login successful. You can close this window.</p><script>window.close()</script></body></html>`

// Config configures a Server.
type Config struct {
	Listen          string
	BaseURL         string
	Token           string
	JWTSecret       string
	ShutdownTimeout time.Duration
	Version         string
}

// Server serves the action protocol.
type Server struct {
	cfg      Config
	registry *action.Registry
	auth     *Authenticator
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *tracing.MetricsCollector
	handler  http.Handler
}

// New returns a Server for the registry.
func New(cfg Config, registry *action.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		auth:     NewAuthenticator(cfg.Token, cfg.JWTSecret),
		logger:   log.WithComponent(logger, "server"),
		tracer:   otel.Tracer(tracerName),
	}
	mc, err := tracing.NewMetricsCollector(otel.GetMeterProvider())
	if err != nil {
		s.logger.Warn("metrics instruments unavailable", log.Error(err))
		mc, _ = tracing.NewMetricsCollector(metricnoop.NewMeterProvider())
	}
	s.metrics = mc
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	protected := func(route string, h http.HandlerFunc) {
		mux.Handle(route, s.count(route, s.auth.Middleware(h)))
	}
	open := func(route string, h http.HandlerFunc) {
		mux.Handle(route, s.count(route, h))
	}

	protected("GET /{$}", s.handleList)
	protected("POST /{$}", s.handleList)
	protected("POST /actions/{name}/form", s.handleForm)
	protected("POST /actions/{name}/execute", s.handleExecute)
	open("GET /actions/{name}/oauth", s.handleOAuthStart)
	open("GET /actions/{name}/oauth_redirect", s.handleOAuthRedirect)
	open("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return requestID(tracing.HTTPMiddleware(log.NewHTTPMiddleware(s.logger).Wrap(mux)))
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !s.auth.Enabled() {
		s.logger.Warn("no server token or jwt secret configured, orchestrator requests are not authenticated")
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("action server listening",
			slog.String("addr", ln.Addr().String()),
			slog.String("base_url", s.cfg.BaseURL))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down action server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// requestID makes sure every request carries an X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(log.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(log.RequestIDHeader, id)
		}
		w.Header().Set(log.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// count records the request outcome per route pattern.
func (s *Server) count(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

type codeRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (r *codeRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *codeRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return log.WithRequestID(s.logger, r.Header.Get(log.RequestIDHeader))
}

// lookup resolves the {name} path value, writing 404 when unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*action.DocumentAction, bool) {
	a, err := s.registry.Get(r.PathValue("name"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return a, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	listing := hub.Listing{Label: ListingLabel, Integrations: []hub.Integration{}}
	for _, a := range s.registry.List() {
		listing.Integrations = append(listing.Integrations, a.Integration(s.cfg.BaseURL))
	}
	WriteJSON(w, http.StatusOK, listing)
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	req, err := hub.DecodeRequest(io.LimitReader(r.Body, maxRequestJSON))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	form, err := a.Form(r.Context(), req)
	if err != nil {
		s.requestLogger(r).Error("form failed", slog.String(log.ActionKey, a.Name()), log.Error(redact.Error(err)))
		WriteJSON(w, statusFor(err), hub.Form{Fields: []hub.Field{}, Error: redact.String(err.Error())})
		return
	}
	WriteJSON(w, http.StatusOK, form)
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		WriteError(w, http.StatusBadRequest, "missing state parameter")
		return
	}
	h := a.Handshake()
	http.Redirect(w, r, h.AuthURL(h.RedirectURI(), state), http.StatusFound)
}

func (s *Server) handleOAuthRedirect(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	logger := s.requestLogger(r).With(slog.String(log.ActionKey, a.Name()))

	q := r.URL.Query()
	if vendorErr := q.Get("error"); vendorErr != "" {
		logger.Warn("vendor declined authorization", slog.String("vendor_error", vendorErr))
		WriteError(w, http.StatusBadRequest, "authorization was not granted: "+vendorErr)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		WriteError(w, http.StatusBadRequest, "missing code or state parameter")
		return
	}

	// The login popup may close before the callback POST finishes.
	ctx := context.WithoutCancel(r.Context())
	h := a.Handshake()
	if err := h.Complete(ctx, code, state, h.RedirectURI()); err != nil {
		s.metrics.RecordHandshake(ctx, a.Name(), false)
		WriteError(w, statusFor(err), redact.String(err.Error()))
		return
	}
	s.metrics.RecordHandshake(ctx, a.Name(), true)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, loginCompleteHTML)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	req, err := decodeExecute(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A started build runs to completion even if the orchestrator hangs up.
	ctx := context.WithoutCancel(r.Context())
	ctx, span := s.tracer.Start(ctx, "action.execute", trace.WithAttributes(
		attribute.String("action", a.Name()),
		attribute.String("webhook_id", req.WebhookID),
	))
	start := time.Now()
	resp := a.Execute(ctx, req)

	outcome := "success"
	if !resp.Success {
		outcome = "failure"
		if resp.State != nil && resp.State.Data == hub.ResetState {
			outcome = "reset"
		}
		span.SetStatus(codes.Error, resp.Message)
	}
	span.SetAttributes(attribute.String(tracing.OutcomeKey, outcome))
	span.End()
	executeTotal.WithLabelValues(a.Name(), outcome).Inc()
	s.metrics.RecordExecution(ctx, a.Name(), outcome, time.Since(start))

	WriteJSON(w, http.StatusOK, resp)
}

// decodeExecute reads a JSON request, or a multipart request whose
// "request" part precedes a streamed "data" part.
func decodeExecute(r *http.Request) (*hub.Request, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return hub.DecodeRequest(io.LimitReader(r.Body, maxRequestJSON))
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	var req *hub.Request
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading multipart body: %w", err)
		}

		switch part.FormName() {
		case PartRequest:
			if req, err = hub.DecodeRequest(io.LimitReader(part, maxRequestJSON)); err != nil {
				return nil, err
			}
		case PartData:
			if req == nil {
				return nil, fmt.Errorf("multipart %q part must precede %q", PartRequest, PartData)
			}
			// The data part is consumed by the pipeline; later parts are ignored.
			req.SetStream(part)
			return req, nil
		default:
			drain(part)
		}
	}

	if req == nil {
		return nil, fmt.Errorf("multipart body has no %q part", PartRequest)
	}
	return req, nil
}

func drain(p *multipart.Part) {
	_, _ = io.Copy(io.Discard, p)
}

// statusFor maps a handler error onto an HTTP status.
func statusFor(err error) int {
	var (
		validation *relayerrors.ValidationError
		sealErr    *relayerrors.SealError
		timeout    *relayerrors.TimeoutError
		remote     *relayerrors.RemoteError
		notFound   *relayerrors.NotFoundError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &sealErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
