package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/pkg/cloudio"
)

// Objects is the subset of *cloudio.Client the sidecar needs. It allows
// injecting fakes during tests.
type Objects interface {
	CachedPath(ctx context.Context, target string) (string, error)
	Create(ctx context.Context, target string) (cloudio.Handle, error)
	Remove(ctx context.Context, target string) error
	ResolveOrigin(ctx context.Context, key string) (cloudio.Origin, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger  *logrus.Logger
	Objects Objects
	// BodyLimit 限制 PUT 请求体大小，<=0 时使用 fiber 默认值。
	BodyLimit  int
	ListenPort int
}

const contextKeyRequestID = "_cloudio_request_id"

// NewApp builds a Fiber application with request-id and recover middlewares
// and the /objects routes. Diagnostics routes live in the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Objects == nil {
		return nil, errors.New("objects client is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     opts.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &objectsHandler{objects: opts.Objects, logger: opts.Logger}
	app.Get("/objects", h.get)
	app.Put("/objects", h.put)
	app.Delete("/objects", h.remove)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写 X-Request-ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// RequestContext 返回请求关联的 context，兼容测试中未设置的情况。
func RequestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
