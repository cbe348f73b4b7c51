package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
	"shareplate/utils"
)

type FlowController struct {
	Flows  *automation.FlowService
	Logger *logrus.Logger
}

func NewFlowController(flows *automation.FlowService, logger *logrus.Logger) *FlowController {
	return &FlowController{Flows: flows, Logger: logger}
}

func (fc *FlowController) CreateFlow(c *fiber.Ctx) error {
	user := actor(c)

	var input automation.FlowSpec
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

	flow, err := fc.Flows.Create(user.ID, input)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(flow))
}

func (fc *FlowController) ListFlows(c *fiber.Ctx) error {
	flows, err := fc.Flows.List(c.Query("status"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(flows))
}

func (fc *FlowController) GetFlow(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	flow, err := fc.Flows.Get(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(flow))
}

func (fc *FlowController) UpdateFlow(c *fiber.Ctx) error {
	user := actor(c)
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var patch automation.FlowPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	flow, err := fc.Flows.Update(user.ID, id, patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(flow))
}

func (fc *FlowController) DeleteFlow(c *fiber.Ctx) error {
	user := actor(c)
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	hard := c.QueryBool("hard", false)
	if err := fc.Flows.Delete(user.ID, id, hard); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Flow deleted",
	})
}

func (fc *FlowController) ToggleFlowStatus(c *fiber.Ctx) error {
	user := actor(c)
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	var input struct {
		Status string `json:"status" validate:"required,oneof=active paused"`
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

	flow, err := fc.Flows.SetStatus(user.ID, id, input.Status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(flow))
}

func (fc *FlowController) BulkSetStatus(c *fiber.Ctx) error {
	user := actor(c)

	var input struct {
		IDs    []uint `json:"ids" validate:"required,min=1"`
		Status string `json:"status" validate:"required,oneof=active paused"`
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

	result, err := fc.Flows.BulkSetStatus(user.ID, input.IDs, input.Status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(result))
}

func (fc *FlowController) DuplicateFlow(c *fiber.Ctx) error {
	user := actor(c)
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	flow, err := fc.Flows.Duplicate(user.ID, id)
	if err != nil {
		return fail(c, err)
	}
	fc.Logger.WithFields(logrus.Fields{
		"source_id": id,
		"copy_id":   flow.ID,
	}).Info("flow duplicated")
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(flow))
}

func (fc *FlowController) GetInsights(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return fail(c, err)
	}

	insights, err := fc.Flows.Insights(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(insights))
}
