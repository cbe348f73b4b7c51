package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
	"shareplate/utils"
)

type EnrollmentController struct {
	Enrollments *automation.EnrollmentService
	Logger      *logrus.Logger
}

func NewEnrollmentController(enrollments *automation.EnrollmentService, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{Enrollments: enrollments, Logger: logger}
}

// Enroll admits a member into a flow. Called by the admin UI and by the
// trigger evaluator when a member matches a flow's trigger.
func (ec *EnrollmentController) Enroll(c *fiber.Ctx) error {
	user := actor(c)
	flowID, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var input struct {
		ProfileID uint `json:"profile_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	enrollment, err := ec.Enrollments.Enroll(user.ID, flowID, input.ProfileID)
	if err != nil {
		return fail(c, err)
	}

	ec.Logger.WithFields(logrus.Fields{
		"flow_id":       flowID,
		"profile_id":    input.ProfileID,
		"enrollment_id": enrollment.ID,
	}).Info("member enrolled")
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	flowID, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	enrollments, err := ec.Enrollments.ListByFlow(flowID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(enrollments))
}

// ExitEnrollment ends a traversal early. Safe to call twice.
func (ec *EnrollmentController) ExitEnrollment(c *fiber.Ctx) error {
	user := actor(c)
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var input struct {
		Reason string `json:"reason"`
	}
	// Body is optional; an empty reason gets the default.
	_ = c.BodyParser(&input)

	if err := ec.Enrollments.Exit(user.ID, id, input.Reason); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Enrollment exited",
	})
}
