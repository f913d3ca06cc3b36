package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tuitionledger/config"
	"tuitionledger/database"
	"tuitionledger/database/seeders"
	"tuitionledger/middleware"
	"tuitionledger/routes"
	"tuitionledger/services"
	"tuitionledger/services/reconciliation"
	"tuitionledger/services/websocket"
	"tuitionledger/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const apiVersion = "1.0.0"

func main() {
	seed := flag.Bool("seed", false, "seed staff users and sample students, then exit")
	flag.Parse()

	config.LoadConfig()
	setupLogging(config.AppConfig)

	database.Connect()
	defer database.Close()

	if *seed {
		seeders.SeedAll()
		return
	}

	wsHub := websocket.NewHub()
	go wsHub.Run()

	// S3 is optional; without it statements are not archived and log
	// archiving is skipped
	var objectStore storage.ObjectStore
	if config.AppConfig.S3BucketName != "" {
		s3Store, err := storage.NewS3Store(context.Background(),
			config.AppConfig.AWSRegion,
			config.AppConfig.AWSAccessKeyID,
			config.AppConfig.AWSSecretAccessKey,
			config.AppConfig.S3BucketName,
		)
		if err != nil {
			logrus.WithError(err).Warn("S3 storage unavailable")
		} else {
			objectStore = s3Store
		}
	}

	ledger := reconciliation.NewService(database.DB, reconciliation.Options{
		Currency:          config.AppConfig.Currency,
		DueDay:            config.AppConfig.InvoiceDueDay,
		DefaultMonthlyFee: config.AppConfig.DefaultMonthlyFee,
		MaxStatementBytes: config.AppConfig.MaxFileSize,
	})
	ledger.SetEventPublisher(wsHub)
	if config.AppConfig.ArchiveStatements && objectStore != nil {
		ledger.SetStatementArchiver(storage.NewStatementArchive(objectStore))
	}

	logArchive := services.NewLogArchiveService(database.DB, database.GetRedisClient(), objectStore, config.AppConfig.LogArchiveDays)
	scheduler, err := logArchive.StartLogMaintenanceScheduler()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start log maintenance scheduler")
	}
	defer scheduler.Stop()

	healthService := services.NewHealthService("", apiVersion)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(config.AppConfig.MaxFileSize) + 1<<20,
	})

	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.LogActivityMiddleware())

	routes.SetupRoutes(app, routes.Deps{
		Config:     config.AppConfig,
		Ledger:     ledger,
		LogArchive: logArchive,
		Health:     healthService,
		Hub:        wsHub,
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "Route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logrus.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":        config.AppConfig.Port,
		"environment": config.AppConfig.AppEnv,
		"version":     apiVersion,
	}).Info("Tuition ledger API starting")

	if err := app.Listen(":" + config.AppConfig.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// development logs to stdout, everything else to the configured file
	if cfg.AppEnv == "development" || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		log.Printf("Warning: Could not create logs directory: %v", err)
		return
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logrus.SetOutput(file)
	}
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	}).Error("Request error")

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
