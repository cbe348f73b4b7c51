package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
	"shareplate/utils"
)

type QueueController struct {
	Processor *automation.Processor
	Logger    *logrus.Logger
}

func NewQueueController(processor *automation.Processor, logger *logrus.Logger) *QueueController {
	return &QueueController{Processor: processor, Logger: logger}
}

// ProcessQueue runs one batch pass immediately instead of waiting for the
// worker tick. Overlap with the worker is harmless: the claim guard makes
// sure no item is delivered twice.
func (qc *QueueController) ProcessQueue(c *fiber.Ctx) error {
	var input struct {
		Limit int `json:"limit"`
	}
	_ = c.BodyParser(&input)

	result, err := qc.Processor.Process(c.Context(), input.Limit)
	if err != nil {
		return fail(c, err)
	}

	qc.Logger.WithFields(logrus.Fields{
		"processed": result.Processed,
		"failed":    result.Failed,
	}).Info("manual queue run finished")
	return c.JSON(utils.SuccessResponse(result))
}

func (qc *QueueController) CancelPending(c *fiber.Ctx) error {
	user := actor(c)
	flowID, err := optionalFlowID(c)
	if err != nil {
		return fail(c, err)
	}

	cancelled, err := qc.Processor.CancelPending(user.ID, flowID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"cancelled": cancelled}))
}

func (qc *QueueController) RetryFailed(c *fiber.Ctx) error {
	user := actor(c)
	flowID, err := optionalFlowID(c)
	if err != nil {
		return fail(c, err)
	}

	retried, err := qc.Processor.RetryFailed(user.ID, flowID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"retried": retried}))
}

func (qc *QueueController) GetQueueStatus(c *fiber.Ctx) error {
	status, err := qc.Processor.Status()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(utils.SuccessResponse(status))
}

// optionalFlowID reads the flow_id query parameter when present.
func optionalFlowID(c *fiber.Ctx) (*uint, error) {
	raw := c.Query("flow_id")
	if raw == "" {
		return nil, nil
	}
	id := c.QueryInt("flow_id")
	if id <= 0 {
		return nil, automation.Errf(automation.KindInvalidID, "invalid flow_id %q", raw)
	}
	return utils.Pointer(uint(id)), nil
}
