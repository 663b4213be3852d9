package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-branch-transfer/internal/cache"
	"go-branch-transfer/internal/handler"
	"go-branch-transfer/internal/middleware"
	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"
	"go-branch-transfer/internal/service"
	"go-branch-transfer/internal/ws"
	"go-branch-transfer/pkg/database"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// 2. Setup Database
	db := database.ConnectDB()
	db.AutoMigrate(
		&model.Branch{},
		&model.Order{},
		&model.OrderTransfer{},
		&model.DailyStats{},
		&model.TransferSettings{},
		&model.User{},
		&model.Role{},
	)

	// 3. Seed roles, branches, split settings, and the admin user
	seedDefaults(db)

	// 4. Setup WebSocket Hub (display board + notifications)
	wsHub := ws.NewHub()
	go wsHub.Run()

	// 5. Stats cache: redis when configured, otherwise a no-op
	var statsCache cache.TransferStatsCache = cache.NoopTransferStatsCache{}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		statsCache = cache.NewRedisTransferStatsCache(client, 30*time.Second)
		log.Println("Transfer stats cache backed by redis at", addr)
	}

	// 6. Dependency Injection (Wiring Layers)
	transferRepo := repository.NewTransferRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	branchRepo := repository.NewBranchRepo(db)
	statsRepo := repository.NewDailyStatsRepo(db)
	settingsRepo := repository.NewSettingsRepo(db)
	userRepo := repository.NewUserRepo(db)
	roleRepo := repository.NewRoleRepo(db)

	settingsService := service.NewSettingsService(settingsRepo)
	transferService := service.NewTransferService(
		transferRepo,
		orderRepo,
		branchRepo,
		statsRepo,
		settingsService,
		ws.NewTransferNotifier(wsHub),
		ws.NewBoardPublisher(wsHub),
		statsCache,
		service.NewGormTxRunner(db),
	)
	authService := service.NewAuthService(userRepo)

	transferHandler := handler.NewTransferHandler(transferService, settingsService)
	settingsHandler := handler.NewSettingsHandler(settingsService)
	orderHandler := handler.NewOrderHandler(orderRepo)
	directoryHandler := handler.NewDirectoryHandler(branchRepo, roleRepo)
	authHandler := handler.NewAuthHandler(authService)

	// 7. Setup Fiber
	app := fiber.New(fiber.Config{
		AppName: "Branch Transfer Engine v1.0",
	})

	// Middleware
	app.Use(logger.New())  // Logging request
	app.Use(recover.New()) // Panic recovery
	app.Use(cors.New())    // CORS

	// 8. Routes
	api := app.Group("/api/v1")

	// ============ PUBLIC ROUTES ============
	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)
	auth.Post("/validate-token", authHandler.ValidateToken)

	// ============ PROTECTED ROUTES ============
	protected := api.Group("", middleware.RequireAuth(userRepo))

	// Transfer workflow
	protected.Post("/transfers", transferHandler.CreateTransfer)
	protected.Get("/transfers", transferHandler.GetTransfers)
	protected.Get("/transfers/stats", transferHandler.GetTransferStats)
	protected.Get("/transfers/split-preview", transferHandler.GetSplitPreview)
	protected.Post("/transfers/cleanup", middleware.RequireRole(model.RoleAdmin), transferHandler.CleanupOrphanTransfers)
	protected.Put("/transfers/:id/status", transferHandler.UpdateTransferStatus)
	protected.Post("/transfers/:id/cancel", transferHandler.CancelTransfer)
	protected.Delete("/transfers/:id", middleware.RequireRole(model.RoleAdmin, model.RoleBranchManager), transferHandler.DeleteTransfer)

	// Split settings (administrator only; the service checks too)
	protected.Get("/settings/split", middleware.RequireRole(model.RoleAdmin), settingsHandler.GetSplitSettings)
	protected.Put("/settings/split", middleware.RequireRole(model.RoleAdmin), settingsHandler.UpdateSplitSettings)

	// Order intake (the wider order console lives elsewhere)
	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders/:id", orderHandler.GetOrder)

	// Directories
	protected.Get("/branches", directoryHandler.GetBranches)
	protected.Get("/roles", directoryHandler.GetRoles)

	// WebSocket Route (display board)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		wsHub.Register <- c
		defer func() { wsHub.Unregister <- c }()

		for {
			// Keep alive loop
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
	}))

	// 9. Graceful Shutdown
	go func() {
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		if err := app.Listen(":" + port); err != nil {
			log.Panic(err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

// seedDefaults creates default roles, branches, split settings, and the admin
// user if they don't exist
func seedDefaults(db *gorm.DB) {
	roleRepo := repository.NewRoleRepo(db)
	branchRepo := repository.NewBranchRepo(db)
	settingsRepo := repository.NewSettingsRepo(db)
	userRepo := repository.NewUserRepo(db)

	if err := roleRepo.SeedDefaults(); err != nil {
		log.Printf("Warning: Failed to seed roles: %v", err)
	}
	if err := branchRepo.SeedDefaults(); err != nil {
		log.Printf("Warning: Failed to seed branches: %v", err)
	}
	if err := settingsRepo.SeedDefaults(); err != nil {
		log.Printf("Warning: Failed to seed split settings: %v", err)
	}

	// Create default admin user with the ADMIN role
	if _, err := userRepo.FindByEmail("admin@example.com"); err != nil {
		adminRole, err := roleRepo.FindByCode(model.RoleAdmin)
		if err != nil {
			log.Printf("Warning: ADMIN role missing, skipping admin user seed: %v", err)
			return
		}

		admin := &model.User{
			Email:    "admin@example.com",
			FullName: "Administrator",
			RoleID:   &adminRole.ID,
			IsActive: true,
		}
		admin.CreatedBy = "system"
		admin.UpdatedBy = "system"

		password := os.Getenv("SEED_ADMIN_PASSWORD")
		if password == "" {
			password = "admin123"
			log.Println("Warning: using default admin password. Set SEED_ADMIN_PASSWORD to override.")
		}
		if err := admin.SetPassword(password); err != nil {
			log.Printf("Warning: Failed to hash admin password: %v", err)
			return
		}

		if err := userRepo.Create(admin); err != nil {
			log.Printf("Warning: Failed to create admin user: %v", err)
		} else {
			log.Println("Admin user created: admin@example.com (ADMIN)")
		}
	}
}
