package runs

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Backend is the read side of the runs backend exposed by the daemon.
type Backend interface {
	ListRuns(ctx context.Context, token string) ([]Run, error)
	Ranking(ctx context.Context) ([]RankingEntry, error)
}

func RegisterRoutes(r fiber.Router, backend Backend, authMiddleware fiber.Handler) {
	r.Get("/history", authMiddleware, func(c *fiber.Ctx) error {
		token, _ := c.Locals("token").(string)
		out, err := backend.ListRuns(c.UserContext(), token)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(out)
	})

	r.Get("/ranking", func(c *fiber.Ctx) error {
		out, err := backend.Ranking(c.UserContext())
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(out)
	})
}

// toFiberError keeps 4xx answers from the backend and maps everything else to 502.
func toFiberError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return fiber.NewError(apiErr.Status, apiErr.Detail)
	}
	return fiber.NewError(fiber.StatusBadGateway, err.Error())
}
