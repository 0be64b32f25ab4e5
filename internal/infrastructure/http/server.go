package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	handlers "github.com/wekeepgrowing/semo-dunning/internal/adapter/handler/http"
	"github.com/wekeepgrowing/semo-dunning/internal/config"
	"github.com/wekeepgrowing/semo-dunning/internal/middleware/auth"
	"github.com/wekeepgrowing/semo-dunning/pkg/logger"
	"go.uber.org/zap"
)

// Handlers groups the route handlers mounted by the server
type Handlers struct {
	Dunning *handlers.DunningHandler
	Webhook *handlers.WebhookHandler
	Metrics http.Handler
}

type Server struct {
	config   *config.Config
	logger   *zap.Logger
	echo     *echo.Echo
	handlers Handlers
}

func NewServer(cfg *config.Config, log *zap.Logger, h Handlers) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	logger.WithEchoLogger(e, log)

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logger.NewEchoRequestLogger(log))
	e.Use(middleware.Recover())

	s := &Server{
		config:   cfg,
		logger:   log,
		echo:     e,
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Echo exposes the router, mainly for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	addr := s.config.Server.HTTP.Address()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
		})
	})

	if s.handlers.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.handlers.Metrics))
	}

	// Webhook route (outside API versioning, authenticated by signature)
	if s.handlers.Webhook != nil {
		s.echo.POST("/webhook", s.handlers.Webhook.HandleWebhook)
	}

	if s.handlers.Dunning == nil {
		return
	}

	jwtConfig := auth.JWTConfig{
		Secret:       s.config.JWT.Secret,
		Logger:       s.logger,
		AllowedRoles: s.config.JWT.AllowedRoles,
	}

	// Operator routes (require JWT authentication)
	episodes := s.echo.Group("/api/v1/dunning/episodes", auth.JWTMiddleware(jwtConfig))
	episodes.GET("", s.handlers.Dunning.ListEpisodes)
	episodes.GET("/:subscriptionId", s.handlers.Dunning.GetEpisode)
	episodes.POST("/:subscriptionId/retry", s.handlers.Dunning.Retry)
	episodes.POST("/:subscriptionId/resolve", s.handlers.Dunning.Resolve)
	episodes.POST("/:subscriptionId/suspend", s.handlers.Dunning.Suspend)
}
