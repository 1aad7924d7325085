package server

import (
	"crypto/subtle"
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/blobmirror/blobmirror/internal/cache"
	"github.com/blobmirror/blobmirror/internal/config"
)

// registerReloadRoute 挂载运维强制失效接口：携带正确 X-API-KEY 的 POST
// /reload 会把请求体里的 key 列表立即逐出缓存。
func registerReloadRoute(app *fiber.App, c *cache.Cache, cfg *config.Config, logger *logrus.Logger) {
	app.Post("/reload", func(ctx fiber.Ctx) error {
		// Without a configured key the endpoint does not exist at all:
		// answering 401 would reveal an operator surface that can never
		// be satisfied.
		if cfg.APIKey == "" {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}

		supplied := ctx.Get("X-API-KEY")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(cfg.APIKey)) != 1 {
			logger.WithFields(logrus.Fields{
				"action": "reload_denied",
			}).Warn("reload rejected: bad or missing api key")
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		var keys []string
		if err := json.Unmarshal(ctx.Body(), &keys); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}

		expired := c.ForceExpire(keys)
		logger.WithFields(logrus.Fields{
			"action":  "reload",
			"keys":    len(keys),
			"expired": expired,
		}).Info("forced reload")
		return ctx.JSON(fiber.Map{"expired": expired})
	})
}
