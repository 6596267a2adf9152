// Package httpapi exposes a translation scheduler to page jobs running in
// another process.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/glint/internal/auth"
	"horse.fit/glint/internal/db"
	"horse.fit/glint/internal/messaging"
	"horse.fit/glint/internal/scheduler"
	"horse.fit/glint/internal/translation"
)

const maxBodyBytes = 4 << 20

// Translator is the scheduler surface the API serves.
type Translator interface {
	Enqueue(ctx context.Context, req scheduler.Request) *scheduler.Handle
	InterruptAll()
	UpdateConcurrencyLimit(n int)
	Stats() scheduler.Stats
}

// CacheStatsSource reports persistent cache totals. It is optional.
type CacheStatsSource interface {
	QueryCacheStats(ctx context.Context) (*db.CacheStats, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// TokenHash is a bcrypt hash; when set every route but health needs a bearer token.
	TokenHash string
}

type Server struct {
	translator Translator
	registry   *translation.Registry
	cache      CacheStatsSource
	logger     zerolog.Logger
	opts       Options
}

type statsResponse struct {
	Scheduler scheduler.Stats `json:"scheduler"`
	Cache     *db.CacheStats  `json:"cache,omitempty"`
}

func NewServer(translator Translator, registry *translation.Registry, cache CacheStatsSource, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 8095
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		translator: translator,
		registry:   registry,
		cache:      cache,
		logger:     logger.With().Str("component", "httpapi").Logger(),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			TokenHash:       strings.TrimSpace(opts.TokenHash),
		},
	}
}

// Handler builds the echo router.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Debug()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	protected := api.Group("", s.requireToken())
	protected.GET("/stats", s.handleStats)
	protected.GET("/languages", s.handleLanguages)
	protected.POST("/translate", s.handleTranslate)
	protected.POST("/translate/batch", s.handleTranslateBatch)
	protected.POST("/interrupt", s.handleInterrupt)
	protected.PUT("/concurrency", s.handleConcurrency)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.translator == nil {
		return fmt.Errorf("server is not initialized")
	}

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Bool("token_required", s.opts.TokenHash != "").Msg("glint scheduler api started")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("glint scheduler api stopped")
	return nil
}

func (s *Server) requireToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.opts.TokenHash == "" {
				return next(c)
			}
			token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || !auth.VerifyToken(token, s.opts.TokenHash) {
				return failUnauthorized(c)
			}
			return next(c)
		}
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "glint",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{Scheduler: s.translator.Stats()}
	if s.cache != nil {
		stats, err := s.cache.QueryCacheStats(c.Request().Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("query cache stats failed")
			return internalError(c, "Failed to load cache stats")
		}
		resp.Cache = stats
	}
	return success(c, resp)
}

func (s *Server) handleLanguages(c echo.Context) error {
	return success(c, map[string]any{
		"items": translation.TranslationLanguageOptions(s.registry),
	})
}

func (s *Server) handleTranslate(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	var msg messaging.Message
	if err := messageValidator.Decode(raw, &msg); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	ctx := c.Request().Context()
	res := s.translator.Enqueue(ctx, msg.Request()).Wait(ctx)
	return success(c, messaging.ReplyFromResult(msg.ID, res))
}

func (s *Server) handleTranslateBatch(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	var batch struct {
		Items []messaging.Message `json:"items"`
	}
	if err := batchValidator.Decode(raw, &batch); err != nil {
		return failValidation(c, map[string]string{"items": err.Error()})
	}

	ctx := c.Request().Context()
	handles := make([]*scheduler.Handle, len(batch.Items))
	for i, msg := range batch.Items {
		handles[i] = s.translator.Enqueue(ctx, msg.Request())
	}
	replies := make([]messaging.Reply, len(batch.Items))
	for i, h := range handles {
		replies[i] = messaging.ReplyFromResult(batch.Items[i].ID, h.Wait(ctx))
	}
	return success(c, map[string]any{"items": replies})
}

func (s *Server) handleInterrupt(c echo.Context) error {
	s.translator.InterruptAll()
	return successWithStatus(c, http.StatusAccepted, map[string]any{"interrupted": true})
}

func (s *Server) handleConcurrency(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	var req struct {
		Limit int `json:"limit"`
	}
	if err := concurrencyValidator.Decode(raw, &req); err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	s.translator.UpdateConcurrencyLimit(req.Limit)
	return success(c, s.translator.Stats())
}

func readBody(c echo.Context) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return raw, nil
}
