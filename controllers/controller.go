package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"shareplate/automation"
	"shareplate/models"
)

// statusForKind maps the engine's error taxonomy onto HTTP statuses.
func statusForKind(err error) int {
	switch automation.KindOf(err) {
	case automation.KindValidation, automation.KindInvalidID, automation.KindInvalidStatus,
		automation.KindNoSteps, automation.KindNoEmailStep, automation.KindTooMany:
		return fiber.StatusBadRequest
	case automation.KindNotFound:
		return fiber.StatusNotFound
	case automation.KindDuplicateName, automation.KindArchived,
		automation.KindHasEnrollments, automation.KindAlreadyEnrolled, automation.KindNotActive:
		return fiber.StatusConflict
	case automation.KindUnauthorized:
		return fiber.StatusUnauthorized
	case automation.KindForbidden:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// fail renders an engine error. Store and internal failures are replaced
// with a generic message so driver detail never leaks to clients.
func fail(c *fiber.Ctx, err error) error {
	status := statusForKind(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "Internal error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"kind":  string(automation.KindOf(err)),
	})
}

// actor extracts the authenticated staff account set by the middleware.
func actor(c *fiber.Ctx) *models.User {
	return c.Locals("user").(*models.User)
}

// paramID parses a numeric path parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, automation.Errf(automation.KindInvalidID, "invalid id %q", raw)
	}
	return uint(id), nil
}
