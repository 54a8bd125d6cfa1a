package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/logging"
)

type objectsHandler struct {
	objects Objects
	logger  *logrus.Logger
}

// get 返回 url 对应的本地缓存副本；HEAD 只返回头部。
func (h *objectsHandler) get(c fiber.Ctx) error {
	started := time.Now()
	target := c.Query("url")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
	}

	path, err := h.objects.CachedPath(RequestContext(c), target)
	if err != nil {
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}

	file, err := os.Open(path)
	if err != nil {
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}

	c.Set("X-Cloudio-Cache-Path", path)
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Response().Header.SetContentLength(int(info.Size()))
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		h.logResult(c, target, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), file)
	h.logResult(c, target, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// put 将请求体写入暂存文件并发布到 url。
func (h *objectsHandler) put(c fiber.Ctx) error {
	started := time.Now()
	target := c.Query("url")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
	}

	handle, err := h.objects.Create(RequestContext(c), target)
	if err != nil {
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}

	n, err := io.Copy(handle, bytes.NewReader(c.Body()))
	if err != nil {
		handle.Abort()
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}
	if err := handle.Close(); err != nil {
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}

	c.Status(fiber.StatusCreated)
	h.logResult(c, target, started, nil)
	return c.JSON(fiber.Map{"url": target, "bytes": n})
}

func (h *objectsHandler) remove(c fiber.Ctx) error {
	started := time.Now()
	target := c.Query("url")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
	}

	if err := h.objects.Remove(RequestContext(c), target); err != nil {
		h.logResult(c, target, started, err)
		return WriteError(c, err)
	}
	c.Status(fiber.StatusNoContent)
	h.logResult(c, target, started, nil)
	return nil
}

func (h *objectsHandler) logResult(c fiber.Ctx, target string, started time.Time, err error) {
	status := c.Response().StatusCode()
	if err != nil {
		status, _ = StatusFor(err)
	}
	fields := logging.RequestFields(c.Method(), target, RequestID(c), status)
	if path := c.Response().Header.Peek("X-Cloudio-Cache-Path"); len(path) > 0 {
		fields["cache_path"] = string(path)
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("objects_failed")
		return
	}
	h.logger.WithFields(fields).Info("objects_complete")
}
