package routes

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/cloudio/cloudio/internal/remote"
	"github.com/cloudio/cloudio/internal/server"
)

// Diagnostics 汇集 /-/ 诊断接口依赖的组件，字段为空时对应路由不注册。
type Diagnostics struct {
	Objects  server.Objects
	Metrics  http.Handler
	Schemes  []string
	CacheDir func() string
}

// RegisterDiagnostics 暴露 /-/healthz、/-/origin/:key 与 /-/metrics。
func RegisterDiagnostics(app *fiber.App, diag Diagnostics) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"status":  "ok",
			"schemes": diag.Schemes,
		}
		if diag.CacheDir != nil {
			payload["cache_dir"] = diag.CacheDir()
		}
		return c.JSON(payload)
	})

	if diag.Objects != nil {
		app.Get("/-/origin/:key", func(c fiber.Ctx) error {
			key := strings.TrimSpace(c.Params("key"))
			if key == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_key_required"})
			}
			origin, err := diag.Objects.ResolveOrigin(server.RequestContext(c), key)
			if err != nil {
				return server.WriteError(c, err)
			}
			return c.JSON(encodeOrigin(key, origin.URL, origin.ETag))
		})
	}

	if diag.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(diag.Metrics))
	}
}

type originPayload struct {
	Key  string           `json:"key"`
	URL  string           `json:"url"`
	ETag remote.Validator `json:"etag"`
}

func encodeOrigin(key, url string, etag remote.Validator) originPayload {
	return originPayload{Key: key, URL: url, ETag: etag}
}
