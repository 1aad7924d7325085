package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/blobmirror/blobmirror/internal/cache"
	"github.com/blobmirror/blobmirror/internal/config"
	"github.com/blobmirror/blobmirror/internal/logging"
)

// Handler 负责 orchestrate “key 解析 → 存在性探测 → 下载/续传 → streaming”
// 的全流程，对外暴露 Fiber handler，内部复用共享缓存引擎。
type Handler struct {
	cache  *cache.Cache
	cfg    *config.Config
	logger *logrus.Logger
}

// NewHandler constructs the blob handler around the shared cache engine.
func NewHandler(c *cache.Cache, cfg *config.Config, logger *logrus.Logger) *Handler {
	return &Handler{
		cache:  c,
		cfg:    cfg,
		logger: logger,
	}
}

// Serve handles GET/HEAD for an arbitrary path: resolve the key, answer 404
// for missing objects and stream everything else from the cache.
func (h *Handler) Serve(c fiber.Ctx) error {
	key := cache.NormalizeKey(string(c.Request().URI().Path()))
	if key == "" {
		return h.serveRoot(c)
	}
	if h.cfg.IndexPattern != nil && h.cfg.IndexHTML != "" && h.cfg.IndexPattern.MatchString(key) {
		key = cache.NormalizeKey(h.cfg.IndexHTML)
	}
	return h.serveKey(c, key)
}

// serveRoot 处理根路径：优先 302 跳转，其次回退到 index 文档。
func (h *Handler) serveRoot(c fiber.Ctx) error {
	if h.cfg.Redirect != "" {
		c.Set("Location", h.cfg.Redirect)
		return c.SendStatus(fiber.StatusFound)
	}
	if h.cfg.IndexHTML != "" {
		return h.serveKey(c, cache.NormalizeKey(h.cfg.IndexHTML))
	}
	return h.renderNotFound(c, "")
}

func (h *Handler) serveKey(c fiber.Ctx, key string) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// One retry absorbs the race where the item expires between lookup and
	// reader creation.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		item, err := h.cache.Get(key)
		if err != nil {
			return h.renderCacheError(c, key, err)
		}

		ok, err := item.Exists(ctx)
		if err != nil {
			// Client went away while waiting on the probe.
			return nil
		}
		if !ok {
			return h.renderNotFound(c, key)
		}

		reader, err := h.openStream(ctx, item)
		if err != nil {
			if errors.Is(err, cache.ErrInvalidState) || errors.Is(err, cache.ErrNotFound) {
				lastErr = err
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			h.logger.WithError(err).WithFields(logrus.Fields{
				"action": "serve_failed",
				"key":    key,
			}).Warn("could not start streaming")
			return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}

		h.writeBlobHeaders(c, key, item)
		h.logger.WithFields(logging.RequestFields("serve", key, item.State().String(), fiber.StatusOK)).
			WithField("bytes", item.Length()).Debug("streaming blob")

		if c.Method() == http.MethodHead {
			reader.Close()
			c.Status(fiber.StatusOK)
			return nil
		}
		c.Status(fiber.StatusOK)
		c.Response().SetBodyStream(reader, int(item.Length()))
		return nil
	}

	h.logger.WithError(lastErr).WithFields(logrus.Fields{
		"action": "serve_failed",
		"key":    key,
	}).Warn("item kept expiring underneath the request")
	return h.writeError(c, fiber.StatusServiceUnavailable, "cache_busy")
}

// openStream ensures the download is running and hands out a reader.
func (h *Handler) openStream(ctx context.Context, item *cache.Item) (*cache.Reader, error) {
	if _, err := item.StartDownload(ctx); err != nil {
		return nil, err
	}
	return item.NewReader(ctx)
}

// writeBlobHeaders 输出 Content-Length/Type、Cache-Control 与调试头。
func (h *Handler) writeBlobHeaders(c fiber.Ctx, key string, item *cache.Item) {
	c.Response().Header.SetContentLength(int(item.Length()))
	c.Set("Content-Type", contentTypeFor(key))
	if lm := item.LastModified(); lm.Unix() > 0 {
		c.Set("Last-Modified", lm.UTC().Format(http.TimeFormat))
	}
	c.Set("X-Cache-State", item.State().String())

	if h.cfg.NoCachePattern != nil && h.cfg.NoCachePattern.MatchString(key) {
		c.Set("Cache-Control", "private, no-cache, no-store")
		return
	}
	maxAge := int64((h.cache.Validity() - time.Second).Seconds())
	c.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
}

// renderNotFound 输出 404；配置了 NOTFOUND_HTML 时通过缓存自身取替代页。
func (h *Handler) renderNotFound(c fiber.Ctx, key string) error {
	notFoundKey := cache.NormalizeKey(h.cfg.NotFoundHTML)
	if notFoundKey == "" || notFoundKey == key {
		return h.writeError(c, fiber.StatusNotFound, "not_found")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	item, err := h.cache.Get(notFoundKey)
	if err != nil {
		return h.writeError(c, fiber.StatusNotFound, "not_found")
	}
	if ok, err := item.Exists(ctx); err != nil || !ok {
		return h.writeError(c, fiber.StatusNotFound, "not_found")
	}
	reader, err := h.openStream(ctx, item)
	if err != nil {
		return h.writeError(c, fiber.StatusNotFound, "not_found")
	}

	c.Status(fiber.StatusNotFound)
	c.Set("Content-Type", "text/html; charset=utf-8")
	c.Response().Header.SetContentLength(int(item.Length()))
	if c.Method() == http.MethodHead {
		reader.Close()
		return nil
	}
	c.Response().SetBodyStream(reader, int(item.Length()))
	return nil
}

func (h *Handler) renderCacheError(c fiber.Ctx, key string, err error) error {
	if errors.Is(err, cache.ErrDisposed) {
		return h.writeError(c, fiber.StatusServiceUnavailable, "shutting_down")
	}
	if errors.Is(err, cache.ErrEmptyKey) {
		return h.writeError(c, fiber.StatusBadRequest, "invalid_key")
	}
	h.logger.WithError(err).WithFields(logrus.Fields{
		"action": "cache_get_failed",
		"key":    key,
	}).Warn("cache lookup failed")
	return h.writeError(c, fiber.StatusInternalServerError, "internal_error")
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
