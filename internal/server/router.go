package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blobmirror/blobmirror/internal/cache"
	"github.com/blobmirror/blobmirror/internal/config"
)

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger *logrus.Logger
	Cache  *cache.Cache
	Config *config.Config
}

const contextKeyRequestID = "_blobmirror_request_id"

// NewApp builds the Fiber application: recover + request-ID middleware, the
// operator routes and the wildcard blob route last.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	handler := NewHandler(opts.Cache, opts.Config, opts.Logger)
	registerStaticRoutes(app, handler)
	registerReloadRoute(app, opts.Cache, opts.Config, opts.Logger)

	app.Get("/*", handler.Serve)
	app.Head("/*", handler.Serve)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头，方便日志关联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the generated request ID, or "" outside the middleware.
func RequestID(c fiber.Ctx) string {
	if v, ok := c.Locals(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}
