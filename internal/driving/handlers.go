package driving

import (
	"context"
	"errors"

	"github.com/daeungkim/ta-dah/internal/geo"
	"github.com/daeungkim/ta-dah/internal/matching"

	"github.com/gofiber/fiber/v2"
)

type fixRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r fixRequest) fix() *geo.Fix {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &geo.Fix{Latitude: *r.Latitude, Longitude: *r.Longitude}
}

func RegisterRoutes(r fiber.Router, eng *Engine, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		driverID := driverFromLocals(c)
		if driverID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "driver identity required")
		}

		req, err := parseOptionalFix(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sess, err := eng.Start(c.Context(), driverID, req.fix())
		if err != nil {
			if sess == nil {
				return statusError(err)
			}
			// the session exists and stays active even though the first
			// fix was rejected; the client needs to know about it
			return c.Status(statusCode(err)).JSON(fiber.Map{
				"error":   err.Error(),
				"session": sess,
			})
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		driverID := driverFromLocals(c)
		if driverID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "driver identity required")
		}

		sess, err := eng.Get(c.Context(), driverID)
		if err != nil {
			return statusError(err)
		}
		if sess == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(sess)
	})

	r.Post("/locations", authMiddleware, func(c *fiber.Ctx) error {
		driverID := driverFromLocals(c)
		if driverID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "driver identity required")
		}

		var req fixRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		fix := req.fix()
		if fix == nil {
			return fiber.NewError(fiber.StatusBadRequest, "latitude and longitude required")
		}

		sess, err := eng.Get(c.Context(), driverID)
		if err != nil {
			return statusError(err)
		}
		if sess == nil {
			return statusError(ErrSessionNotActive)
		}
		if err := eng.Update(c.Context(), sess, *fix); err != nil {
			return statusError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/", authMiddleware, func(c *fiber.Ctx) error {
		driverID := driverFromLocals(c)
		if driverID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "driver identity required")
		}

		req, err := parseOptionalFix(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sess, err := eng.Get(c.Context(), driverID)
		if err != nil {
			return statusError(err)
		}
		if sess == nil {
			return statusError(ErrSessionNotActive)
		}
		if err := eng.Stop(c.Context(), sess, req.fix()); err != nil {
			return statusError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// parseOptionalFix tolerates an empty body: start and stop accept a request
// with no fix at all.
func parseOptionalFix(c *fiber.Ctx) (fixRequest, error) {
	var req fixRequest
	if len(c.Body()) == 0 {
		return req, nil
	}
	if err := c.BodyParser(&req); err != nil {
		return fixRequest{}, err
	}
	return req, nil
}

func driverFromLocals(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrSessionAlreadyActive):
		return fiber.StatusConflict
	case errors.Is(err, ErrSessionNotActive):
		return fiber.StatusNotFound
	case errors.Is(err, ErrStaleSession):
		return fiber.StatusConflict
	case errors.Is(err, geo.ErrProjection):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, matching.ErrNoMatch):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func statusError(err error) error {
	return fiber.NewError(statusCode(err), err.Error())
}
