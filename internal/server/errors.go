package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/cloudio/cloudio/pkg/cloudio"
)

// StatusFor 将 cloudio 错误映射为 HTTP 状态码与错误码。
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, cloudio.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, cloudio.ErrInvalidTarget), errors.Is(err, cloudio.ErrInvalidLocation):
		return fiber.StatusBadRequest, "invalid_target"
	case errors.Is(err, cloudio.ErrUnsupportedMode):
		return fiber.StatusMethodNotAllowed, "unsupported_mode"
	case errors.Is(err, cloudio.ErrPublishFailed):
		return fiber.StatusBadGateway, "publish_failed"
	case errors.Is(err, cloudio.ErrBackendUnavailable), errors.Is(err, cloudio.ErrTransferFailed):
		return fiber.StatusBadGateway, "upstream_failed"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

// WriteError 输出统一的 JSON 错误体。
func WriteError(c fiber.Ctx, err error) error {
	status, code := StatusFor(err)
	payload := fiber.Map{"error": code}
	var pubErr *cloudio.PublishError
	if errors.As(err, &pubErr) {
		payload["staging_path"] = pubErr.StagingPath
	}
	return c.Status(status).JSON(payload)
}
