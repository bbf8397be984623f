package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/capmapt/chatsvtr-sub005/internal/config"
	"github.com/capmapt/chatsvtr-sub005/internal/models"
	"github.com/capmapt/chatsvtr-sub005/internal/orchestrator"
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
	"github.com/capmapt/chatsvtr-sub005/internal/quota"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	streamBufferSize    = 4 * 1024

	// exhaustionMessage is the user-facing failure text. It deliberately
	// names no internal model identifiers.
	exhaustionMessage = "AI service temporarily unavailable, please retry"
)

type Server struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	monitor *quota.Monitor
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, orch *orchestrator.Orchestrator, monitor *quota.Monitor) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator must not be nil")
	}
	if monitor == nil {
		return nil, errors.New("usage monitor must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
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
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(allowAllCORS)

	srv := &Server{
		cfg:     cfg,
		orch:    orch,
		monitor: monitor,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	slog.Info("starting server", "addr", s.address)

	// No WriteTimeout: chat responses stream for as long as the upstream
	// model keeps producing tokens.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
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
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/api/chat", s.handleChat)
	s.app.OPTIONS("/api/chat", handlePreflight)
	s.app.GET("/api/quota", s.handleQuota)
}

// allowAllCORS mirrors the permissive headers the static front-end expects.
// The explicit OPTIONS route answers preflights with 200 rather than echo's
// default 204.
func allowAllCORS(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Response().Header()
		header.Set(echo.HeaderAccessControlAllowOrigin, "*")
		header.Set(echo.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
		header.Set(echo.HeaderAccessControlAllowHeaders, "Content-Type")
		return next(c)
	}
}

func handlePreflight(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if len(req.Messages) == 0 {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "messages are required",
			Type:    "invalid_request_error",
		}
	}

	ctx := c.Request().Context()

	stream, _, err := s.orch.HandleChat(ctx, req.Messages)
	if err != nil {
		return toHTTPError(err)
	}
	defer stream.Close()

	return forwardStream(c, stream)
}

// forwardStream copies the upstream SSE body to the client, flushing as
// chunks arrive. Once the status line is written there is no way to report
// an error; upstream failures mid-stream are logged and truncate the body.
func forwardStream(c echo.Context, stream *provider.Stream) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, stream.ContentType())
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")

	c.Response().WriteHeader(http.StatusOK)

	buf := make([]byte, streamBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := writer.Write(buf[:n]); werr != nil {
				slog.Warn("client disconnected mid-stream", "err", werr)
				return nil
			}
			flusher.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			slog.Warn("upstream stream ended early", "err", err)
			return nil
		}
	}
}

func (s *Server) handleQuota(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.QuotaInfo(c.Request().Context()))
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

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(c echo.Context, status int, errType, message string) error {
	return c.JSON(status, errorBody{Error: errType, Message: message})
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Type, reqErr.Message)
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = writeError(c, echoErr.Code, "invalid_request_error", fmt.Sprintf("%v", echoErr.Message))
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "server_error", "internal server error")
}

func toHTTPError(err error) error {
	var quotaErr *orchestrator.QuotaError
	if errors.As(err, &quotaErr) {
		return requestError{
			Status:  http.StatusTooManyRequests,
			Message: quotaErr.Reason,
			Type:    "quota_exceeded",
		}
	}

	if errors.Is(err, orchestrator.ErrEmptyConversation) || errors.Is(err, orchestrator.ErrInvalidRole) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	if errors.Is(err, orchestrator.ErrAllCandidatesFailed) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: exhaustionMessage,
			Type:    "upstream_error",
		}
	}

	if errors.Is(err, context.Canceled) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request cancelled",
			Type:    "invalid_request_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: exhaustionMessage,
		Type:    "upstream_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("chatsvtr backend ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /api/chat")
	fmt.Println("  GET  /api/quota")
	fmt.Printf("Example:\n  curl -N http://%s:%d/api/chat -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"最近AI创投有什么大事？\"}]}'\n\n", host, port)
}
