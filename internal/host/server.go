package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rehab/wardshell/internal/bridge"
	"github.com/rehab/wardshell/internal/platform/auth"
	"github.com/rehab/wardshell/internal/platform/middleware"
)

// ServerConfig configures the IPC endpoint.
type ServerConfig struct {
	Addr      string
	Secret    []byte
	BodyLimit string
}

// Server exposes a bridge.Handler to a renderer in another process. It
// serves exactly one dispatch route per allow-listed channel plus a ping.
type Server struct {
	e       *echo.Echo
	handler bridge.Handler
	cfg     ServerConfig
	logger  zerolog.Logger
}

// NewServer wires the echo stack around handler.
func NewServer(handler bridge.Handler, cfg ServerConfig, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = resultErrorHandler(logger)

	s := &Server{e: e, handler: handler, cfg: cfg, logger: logger}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	ipc := e.Group("/ipc")
	ipc.GET("/ping", s.ping)
	ipc.POST("/:channel", s.dispatch, auth.SessionMiddleware(cfg.Secret))

	return s
}

// Handler returns the server as a plain http.Handler.
func (s *Server) Handler() http.Handler { return s.e }

// Start blocks serving on the configured address.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("host ipc endpoint listening")
	if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ipc server: %w", err)
	}
	return nil
}

// Shutdown stops accepting calls and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"channels": bridge.Channels(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) dispatch(c echo.Context) error {
	ch, err := bridge.Lookup(c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	session := auth.SessionFromContext(c.Request().Context())
	if session == nil || !session.Allows(ch.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "channel not granted to this session")
	}

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	res := s.handler.Handle(c.Request().Context(), ch, payload)
	return c.JSON(http.StatusOK, res)
}

// resultErrorHandler answers IPC-level errors in the bridge result shape so
// the renderer side can always decode a response.
func resultErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "internal host error"
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			code = httpErr.Code
			msg = fmt.Sprint(httpErr.Message)
		}
		if writeErr := c.JSON(code, bridge.FailMessage(msg, 0)); writeErr != nil {
			logger.Error().Err(writeErr).Msg("write ipc error response")
		}
	}
}
