package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
	controller "shareplate/controllers"
	"shareplate/middleware"
)

// Services carries the constructed engine services into the HTTP surface.
type Services struct {
	Flows       *automation.FlowService
	Enrollments *automation.EnrollmentService
	Processor   *automation.Processor
}

func SetupRoutes(app *fiber.App, svc Services, log *logrus.Logger) {
	flowController := controller.NewFlowController(svc.Flows, log)
	enrollmentController := controller.NewEnrollmentController(svc.Enrollments, log)
	queueController := controller.NewQueueController(svc.Processor, log)

	auth := app.Group("/api/v1/auth")
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/change-password", middleware.Protected(), controller.ChangePassword)
	auth.Get("/me", middleware.Protected(), controller.GetCurrentUser)

	// Every automation operation requires an authenticated admin.
	api := app.Group("/api/v1", middleware.Protected(), middleware.AdminOnly(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	flows := api.Group("/flows")
	flows.Post("/", flowController.CreateFlow)
	flows.Get("/", flowController.ListFlows)
	flows.Post("/bulk-status", flowController.BulkSetStatus)
	flows.Get("/:id", flowController.GetFlow)
	flows.Put("/:id", flowController.UpdateFlow)
	flows.Delete("/:id", flowController.DeleteFlow)
	flows.Patch("/:id/status", flowController.ToggleFlowStatus)
	flows.Post("/:id/duplicate", flowController.DuplicateFlow)
	flows.Get("/:id/insights", flowController.GetInsights)

	flows.Post("/:id/enrollments", enrollmentController.Enroll)
	flows.Get("/:id/enrollments", enrollmentController.ListEnrollments)
	api.Post("/enrollments/:id/exit", enrollmentController.ExitEnrollment)

	queue := api.Group("/queue")
	queue.Post("/process", middleware.ProcessRateLimiter(), queueController.ProcessQueue)
	queue.Post("/cancel", queueController.CancelPending)
	queue.Post("/retry", queueController.RetryFailed)
	queue.Get("/status", queueController.GetQueueStatus)

	// Live queue counts for the dashboard.
	api.Use("/queue/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/queue/stream", websocket.New(controller.QueueStatusStream(svc.Processor, log)))

	log.Info("automation routes initialized")
}
