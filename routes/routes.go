package routes

import (
	"tuitionledger/config"
	"tuitionledger/controllers"
	"tuitionledger/middleware"
	"tuitionledger/services"
	"tuitionledger/services/reconciliation"
	"tuitionledger/services/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
)

// Deps carries the long-lived services the controllers are built on
type Deps struct {
	Config     *config.Config
	Ledger     *reconciliation.Service
	LogArchive *services.LogArchiveService
	Health     *services.HealthService
	Hub        *websocket.Hub
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, d Deps) {
	authController := &controllers.AuthController{}
	userController := &controllers.UserController{}
	studentController := &controllers.StudentController{}
	invoiceController := controllers.NewInvoiceController(d.Ledger, d.Config.DefaultMonthlyFee)
	paymentController := controllers.NewPaymentController(d.Ledger)
	statementController := controllers.NewStatementController(d.Ledger, d.Config)
	logController := controllers.NewLogController(d.LogArchive)
	healthController := controllers.NewHealthController(d.Health)
	wsController := controllers.NewWebSocketController(d.Hub)

	app.Get("/health", healthController.GetHealthStatus)

	api := app.Group("/api")

	// Authentication routes (no JWT)
	auth := api.Group("/auth")
	auth.Post("/login", middleware.LoginRateLimiter(), authController.Login)

	protected := api.Group("/", middleware.JWTMiddleware(), middleware.RequireStaff())

	protected.Get("/profile", authController.GetProfile)
	protected.Put("/profile/password", authController.ChangePassword)
	protected.Post("/auth/logout", authController.Logout)

	// Staff accounts
	users := protected.Group("/users", middleware.RequireOwnerOrAdmin())
	users.Get("/", userController.GetUsers)
	users.Post("/", userController.CreateUser)
	users.Put("/:id", userController.UpdateUser)

	// Students
	students := protected.Group("/students")
	students.Get("/", studentController.GetStudents)
	students.Get("/:id", studentController.GetStudent)
	students.Post("/", studentController.CreateStudent)
	students.Put("/:id", studentController.UpdateStudent)

	// Invoices; static paths before /:id
	invoices := protected.Group("/invoices")
	invoices.Get("/", invoiceController.GetInvoices)
	invoices.Get("/export", compress.New(compress.Config{Level: compress.LevelDefault}), invoiceController.ExportInvoices)
	invoices.Get("/integrity", invoiceController.VerifyIntegrity)
	invoices.Post("/generate", middleware.RequireOwnerOrAdmin(), invoiceController.GenerateInvoices)
	invoices.Delete("/", middleware.RequireOwnerOrAdmin(), invoiceController.ClearInvoices)
	invoices.Get("/:id", invoiceController.GetInvoice)

	// Bank statements
	statements := protected.Group("/statements")
	statements.Post("/import", statementController.Import)
	statements.Get("/batches", statementController.GetBatches)
	statements.Get("/batches/:id", statementController.GetBatch)

	// Payments
	payments := protected.Group("/payments")
	payments.Get("/", paymentController.GetPayments)
	payments.Post("/", paymentController.AddPayment)
	payments.Put("/:id", paymentController.UpdatePayment)
	payments.Delete("/:id", paymentController.DeletePayment)
	payments.Post("/:id/assign", paymentController.AssignPayment)

	// Activity logs
	logs := protected.Group("/logs", middleware.RequireOwnerOrAdmin())
	logs.Get("/", logController.GetLogs)
	logs.Get("/archives", logController.GetArchives)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
	logs.Post("/archive", logController.ArchiveNow)
	logs.Post("/flush", logController.FlushCachedLogs)

	protected.Get("/ws/stats", middleware.RequireOwnerOrAdmin(), wsController.GetWebSocketStats)

	// WebSocket (auth via ?token=)
	app.Use("/ws", wsController.Upgrade)
	app.Get("/ws", wsController.WebSocketHandler())
}
