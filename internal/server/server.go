package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cortex-router/internal/config"
	"cortex-router/internal/history"
	"cortex-router/internal/metrics"
	"cortex-router/internal/models"
	"cortex-router/internal/optimizer"
	"cortex-router/internal/orchestrator"
	"cortex-router/internal/session"
	"cortex-router/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 0 // streams are long-lived; per-call timeouts bound the work
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg      config.Config
	orch     *orchestrator.Orchestrator
	opt      *optimizer.Optimizer
	sessions *session.Manager
	store    history.Store
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware. A nil
// optimizer disables prompt rewriting; requests carrying the flag then run
// with their original prompt.
func New(cfg config.Config, orch *orchestrator.Orchestrator, opt *optimizer.Optimizer, store history.Store) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator must not be nil")
	}
	if store == nil {
		store = history.NopStore{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
	}))

	srv := &Server{
		cfg:      cfg,
		orch:     orch,
		opt:      opt,
		sessions: session.NewManager(),
		store:    store,
		app:      e,
		address:  fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	v1 := s.app.Group("/v1", s.apiKeyGuard)

	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1.POST("/chat", s.handleChat)
	v1.POST("/chat/stream", s.handleChatStream)
	v1.POST("/compare", s.handleCompare)
	v1.POST("/compare/stream", s.handleCompareStream)
	v1.GET("/config", s.handleConfig)
	v1.GET("/history", s.handleHistory)
	v1.GET("/sessions/:id/stats", s.handleSessionStats)
	v1.GET("/sessions/:id/history", s.handleSessionHistory)
	v1.POST("/sessions/:id/reset", s.handleSessionReset)
}

// apiKeyGuard enforces the optional static API key. With no key configured
// the gateway is open, matching local single-user deployments.
func (s *Server) apiKeyGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Server.APIKey == "" {
			return next(c)
		}
		if c.Request().Header.Get("X-API-Key") != s.cfg.Server.APIKey {
			return requestError{
				Status:  http.StatusUnauthorized,
				Message: "invalid or missing API key",
				Type:    "auth_error",
			}
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": s.sessions.Count(),
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) handleChat(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return badRequest(err)
	}

	ctx := c.Request().Context()
	req.Prompt = s.rewritePrompt(ctx, req.Prompt, req.OptimizePrompt)

	var sess *session.Session
	if id := req.SessionID(); id != "" {
		sess = s.sessions.GetOrCreate(id)
		sess.SetResearchMode(req.ResearchMode)
	}

	resp := s.orch.Ask(ctx, req.ToAsk(sessionHistory(sess)))

	s.recordResponse(ctx, sess, req.Prompt, "chat", resp)

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCompare(c echo.Context) error {
	var req translator.CompareRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return badRequest(err)
	}

	ctx := c.Request().Context()
	req.Prompt = s.rewritePrompt(ctx, req.Prompt, req.OptimizePrompt)

	var sess *session.Session
	if id := req.SessionID(); id != "" {
		sess = s.sessions.GetOrCreate(id)
	}

	result := s.orch.Compare(ctx, req.ToCompare(sessionHistory(sess)))

	// Aggregation into the session tracker happens here, after the join,
	// on this single control goroutine.
	for i := range result.Responses {
		s.recordResponse(ctx, sess, req.Prompt, "compare", &result.Responses[i])
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleChatStream(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return badRequest(err)
	}

	writer, err := streamWriter(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	req.Prompt = s.rewritePrompt(ctx, req.Prompt, req.OptimizePrompt)

	var sess *session.Session
	if id := req.SessionID(); id != "" {
		sess = s.sessions.GetOrCreate(id)
		sess.SetResearchMode(req.ResearchMode)
	}

	for ev := range s.orch.AskStream(ctx, req.ToAsk(sessionHistory(sess))) {
		if ev.Response != nil && (ev.Type == orchestrator.EventResponseDone || ev.Type == orchestrator.EventError) {
			s.recordResponse(ctx, sess, req.Prompt, "chat", ev.Response)
		}
		if err := writer.WriteEvent(ev); err != nil {
			slog.Error("failed to write stream event", "type", ev.Type, "err", err)
			return nil
		}
	}
	return nil
}

func (s *Server) handleCompareStream(c echo.Context) error {
	var req translator.CompareRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return badRequest(err)
	}

	writer, err := streamWriter(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	req.Prompt = s.rewritePrompt(ctx, req.Prompt, req.OptimizePrompt)

	var sess *session.Session
	if id := req.SessionID(); id != "" {
		sess = s.sessions.GetOrCreate(id)
	}

	for ev := range s.orch.CompareStream(ctx, req.ToCompare(sessionHistory(sess))) {
		if ev.Type == orchestrator.EventResponseDone && ev.Response != nil {
			s.recordResponse(ctx, sess, req.Prompt, "compare", ev.Response)
		}
		if err := writer.WriteEvent(ev); err != nil {
			slog.Error("failed to write stream event", "type", ev.Type, "err", err)
			return nil
		}
	}
	return nil
}

func (s *Server) handleConfig(c echo.Context) error {
	optimizerProvider := ""
	if s.opt != nil {
		optimizerProvider = s.opt.Provider()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"providers":                   s.knownProviders(),
		"max_targets":                 4,
		"chunk_size":                  s.cfg.Stream.ChunkSize,
		"line_delay_ms":               s.cfg.Stream.LineDelayMS,
		"prompt_optimization_enabled": s.opt != nil,
		"prompt_optimizer_provider":   optimizerProvider,
	})
}

// handleHistory returns the newest persisted exchanges. With the NopStore
// configured the list is always empty.
func (s *Server) handleHistory(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(fmt.Errorf("limit %q must be a positive integer", raw))
		}
		limit = n
	}

	entries, err := s.store.Recent(c.Request().Context(), limit)
	if err != nil {
		slog.Error("history query failed", "err", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "history is unavailable",
			Type:    "server_error",
		}
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleSessionStats(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return sessionNotFound(c.Param("id"))
	}

	stats := sess.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"stats":          stats,
		"research_mode":  sess.ResearchMode(),
		"created_at":     sess.CreatedAt,
		"uptime_seconds": time.Since(sess.CreatedAt).Seconds(),
	})
}

func (s *Server) handleSessionHistory(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return sessionNotFound(c.Param("id"))
	}

	messages := sess.History()
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":    sess.ID,
		"messages":      messages,
		"message_count": len(messages),
	})
}

func (s *Server) handleSessionReset(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return sessionNotFound(c.Param("id"))
	}

	sess.Reset()
	return c.JSON(http.StatusOK, map[string]string{"message": "session reset"})
}

// recordResponse updates metrics, session totals and best-effort history for
// one finished response. History failures are logged and swallowed: the side
// channel must never affect the primary response.
func (s *Server) recordResponse(ctx context.Context, sess *session.Session, prompt, mode string, resp *models.UnifiedResponse) {
	metrics.ObserveResponse(resp.Provider, float64(resp.LatencyMS)/1000, resp.TokenUsage.TotalTokens, resp.IsError())

	if sess != nil {
		sess.Record(resp)
		if !resp.IsError() && mode == "chat" {
			sess.AppendTurn(prompt, resp.Text)
		}
	}

	if resp.IsError() {
		return
	}
	if err := s.store.SaveChat(ctx, history.Entry{
		Prompt:    prompt,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Response:  resp.Text,
		LatencyMS: resp.LatencyMS,
		Tokens:    resp.TokenUsage.TotalTokens,
		Cost:      resp.EstimatedCost,
		Mode:      mode,
	}); err != nil {
		slog.Warn("history save failed", "provider", resp.Provider, "err", err)
	}
}

// rewritePrompt runs the optional optimization pass. Rewriting is an
// enhancement, never a gate: any failure falls back to the original prompt.
func (s *Server) rewritePrompt(ctx context.Context, prompt string, enabled bool) string {
	if !enabled || s.opt == nil {
		return prompt
	}

	result, err := s.opt.Optimize(ctx, prompt)
	if err != nil {
		slog.Warn("prompt optimization failed, using original prompt", "err", err)
		return prompt
	}

	slog.Info("prompt optimized",
		"provider", s.opt.Provider(),
		"original_chars", len(prompt),
		"optimized_chars", len(result.OptimizedPrompt),
	)
	return result.OptimizedPrompt
}

func (s *Server) knownProviders() []string {
	names := []string{}
	if s.cfg.Providers.OpenAI != nil {
		names = append(names, "openai")
	}
	if s.cfg.Providers.Gemini != nil {
		names = append(names, "gemini")
	}
	if s.cfg.Providers.DeepSeek != nil {
		names = append(names, "deepseek")
	}
	if s.cfg.Providers.Grok != nil {
		names = append(names, "grok")
	}
	return names
}

func sessionHistory(sess *session.Session) []models.Message {
	if sess == nil {
		return nil
	}
	return sess.History()
}

// streamWriter prepares the response for NDJSON delivery.
func streamWriter(c echo.Context) (*translator.NDJSONWriter, error) {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return nil, requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	translator.SetStreamHeaders(c.Response().Header())
	c.Response().WriteHeader(http.StatusOK)

	return translator.NewNDJSONWriter(c.Response().Writer, flusher), nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

func badRequest(err error) error {
	return requestError{
		Status:  http.StatusBadRequest,
		Message: err.Error(),
		Type:    "invalid_request_error",
	}
}

func sessionNotFound(id string) error {
	return requestError{
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("session %q not found", id),
		Type:    "not_found",
	}
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = writeError(c, httpErr.Code, fmt.Sprintf("%v", httpErr.Message), "invalid_request_error")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error")
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("cortex-router ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /v1/chat")
	fmt.Println("  POST /v1/chat/stream")
	fmt.Println("  POST /v1/compare")
	fmt.Println("  POST /v1/compare/stream")
	fmt.Println("  GET  /metrics")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat -H 'Content-Type: application/json' -d '{\"prompt\":\"hello\",\"provider\":\"openai\"}'\n\n", host, port)
}
