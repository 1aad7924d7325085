package server

import (
	"github.com/gofiber/fiber/v3"
)

const robotsBody = "User-agent: *\nDisallow: /\n"

// registerStaticRoutes 挂载与缓存内容无关的固定路由。
func registerStaticRoutes(app *fiber.App, handler *Handler) {
	app.Get("/robots.txt", func(c fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; charset=utf-8")
		return c.SendString(robotsBody)
	})

	app.Get("/healthz", func(c fiber.Ctx) error {
		if !handler.cache.Ready() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "shutting_down"})
		}
		return c.JSON(handler.cache.Stats())
	})

	app.Get("/", handler.Serve)
	app.Head("/", handler.Serve)
}
