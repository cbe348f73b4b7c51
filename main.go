package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"shareplate/automation"
	"shareplate/config"
	"shareplate/middleware"
	"shareplate/routes"
	"shareplate/utils"
	"shareplate/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Delivery collaborator
	mailer, err := utils.NewSMTPMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
		config.AppConfig.FromName,
	)
	if err != nil {
		logger.Fatalf("Failed to initialize mailer: %v", err)
	}

	// Cache invalidation is best-effort; without Redis it is a no-op.
	var cache automation.CacheInvalidator = automation.NopInvalidator{}
	if config.AppConfig.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		cache = automation.NewRedisInvalidator(client, logger)
	}

	audit := automation.NewGormAuditRecorder(config.DB, logger)
	scheduler := automation.NewScheduler(&automation.LogActionRunner{Log: logger}, logger)

	svc := routes.Services{
		Flows:       automation.NewFlowService(config.DB, audit, cache, logger, config.AppConfig.BulkOperationLimit),
		Enrollments: automation.NewEnrollmentService(config.DB, scheduler, audit, cache, logger),
		Processor:   automation.NewProcessor(config.DB, mailer, audit, cache, logger),
	}

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	// Initialize and start queue worker
	queueWorker := worker.NewQueueWorker(
		svc.Processor,
		time.Duration(config.AppConfig.WorkerIntervalMinutes)*time.Minute,
		config.AppConfig.WorkerBatchLimit,
		time.Duration(config.AppConfig.StaleClaimMinutes)*time.Minute,
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queueWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, svc, logger)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
