package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReachabilityChecker is satisfied by the primary cache.
type ReachabilityChecker interface {
	IsReachable(ctx context.Context) bool
}

func RegisterHealthRoutes(app fiber.Router, db Pinger, cache ReachabilityChecker) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(db, cache))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler requires the durable store. A down primary cache only degrades
// readiness, since writes fall back to the durable store.
func ReadyzHandler(db Pinger, cache ReachabilityChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgErr := db.PingContext(ctx)
		redisUp := cache.IsReachable(ctx)

		pgStatus := "ok"
		if pgErr != nil {
			pgStatus = "down"
		}
		redisStatus := "ok"
		if !redisUp {
			redisStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		switch {
		case pgErr != nil:
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		case !redisUp:
			status = "degraded"
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"redis":    redisStatus,
			},
		})
	}
}
