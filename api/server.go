package api

import (
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"dozenflow-api/domain"
)

// ServerOptions tunes NewServer.
type ServerOptions struct {
	CORSOrigins []string
	Statuses    []domain.Status
	// Idempotency enables Idempotency-Key handling on task creation.
	Idempotency IdempotencyStore
	// Debug mounts the pprof handlers under /debug/pprof.
	Debug bool
}

// NewServer builds the echo instance with the middleware stack and all routes.
func NewServer(svc TaskService, auth Authenticator, opts ServerOptions, logger *log.Logger) *echo.Echo {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if len(opts.Statuses) == 0 {
		opts.Statuses = domain.DefaultStatuses
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = opts.Debug
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = NewErrorHandler(logger, nil)

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, headerIdempotencyKey},
	}))
	e.Use(GzipRequestMiddleware())

	Register(e, svc, auth, opts, logger)
	if opts.Debug {
		pprof.Register(e)
	}
	return e
}
