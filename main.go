package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"partyquiz/database"
	"partyquiz/game"
	"partyquiz/handlers"
	"partyquiz/middleware"
	"partyquiz/services"
	"partyquiz/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	validateEnvironment()

	zlog := newLogger()
	defer func() { _ = zlog.Sync() }()

	// Initialize database
	database.InitDB()
	defer func() { _ = database.CloseDB() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core singletons: hub, clock, store, retry queue, session registry.
	hub := game.NewHub(zlog)
	clock := game.SystemClock()
	store := services.NewSessionDBService()
	quizzes := services.NewQuizDBService()

	reconciler := services.NewReconciler(zlog)
	reconciler.Start(ctx)

	manager := game.NewManager(store, reconciler, hub, clock, zlog)
	manager.Start(ctx)

	// Resume sessions that were live when the previous process died.
	if _, err := services.RehydrateSessions(ctx, store, quizzes, manager, zlog); err != nil {
		zlog.Error("session rehydration failed", zap.Error(err))
	}

	cleanup := services.NewCleanupService(store, manager, hub, zlog)
	cleanup.Start(ctx)

	sessionHandlers := handlers.NewSessionHandlers(store, quizzes, manager, hub, zlog)
	quizHandlers := handlers.NewQuizHandlers(quizzes, zlog)
	wsServer := handlers.NewWSServer(manager, hub, clock, zlog)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024, // 4MB
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	// CORS configuration
	corsOrigins := os.Getenv("CORS_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	// Apply rate limiting to all routes
	app.Use(middleware.FiberRateLimitMiddleware())

	// API Routes
	api := app.Group("/api")

	// Quiz authoring
	api.Post("/quizzes", quizHandlers.CreateQuiz)
	api.Get("/quizzes/:id", quizHandlers.GetQuiz)
	api.Put("/quizzes/:id", quizHandlers.UpdateQuiz)
	api.Post("/quizzes/:id/archive-sessions", quizHandlers.ArchiveQuizSessions)

	// Session lifecycle; creation is rate limited like an auth endpoint since
	// it mints owner tokens.
	sessionGroup := api.Group("/sessions")
	sessionGroup.Post("/", middleware.FiberAuthRateLimitMiddleware(), sessionHandlers.CreateSession)
	sessionGroup.Get("/code/:code", sessionHandlers.GetSessionByCode)
	sessionGroup.Post("/:id/archive", middleware.HostAuthMiddleware, sessionHandlers.ArchiveSession)

	// Debug endpoints for troubleshooting live sessions (remove in production)
	api.Get("/debug/sessions", sessionHandlers.DebugSessions)

	// Health check endpoint
	app.Get("/health", sessionHandlers.Healthz)

	// The websocket endpoint lives on its own net/http server; Fiber cannot
	// proxy the upgrade, so point clients at the right port.
	wsPort := getEnv("WS_PORT", "4000")
	app.Get("/ws", func(c *fiber.Ctx) error {
		wsURL := "ws://localhost:" + wsPort + "/ws"
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":  "WebSocket endpoint moved",
			"ws_url": wsURL,
		})
	})

	// Start WebSocket server (pure net/http)
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsServer.Handle)
	wsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"sessions": manager.Count(),
			"rooms":    hub.RoomCount(),
		})
	})

	var wsHandler http.Handler = wsMux
	wsHandler = middleware.RateLimitMiddleware(wsHandler)
	wsHandler = middleware.HTTPRecoverMiddleware(wsHandler)

	wsSrv := &http.Server{
		Addr:    ":" + wsPort,
		Handler: wsHandler,
	}

	go func() {
		zlog.Info("websocket server starting", zap.String("port", wsPort))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("websocket server failed", zap.Error(err))
		}
	}()

	// Start Fiber HTTP/REST server
	port := getEnv("PORT", "3000")
	go func() {
		zlog.Info("http server starting", zap.String("port", port))
		if err := app.Listen(":" + port); err != nil {
			zlog.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = app.ShutdownWithContext(shutdownCtx)
	_ = wsSrv.Shutdown(shutdownCtx)

	// Sessions flush their state mirrors, then pending store writes drain.
	manager.Shutdown()
	cleanup.Stop()
	reconciler.Wait()
}

// validateEnvironment checks for required environment variables
func validateEnvironment() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Println("WARNING: JWT_SECRET not set, using the development default")
	} else if len(jwtSecret) < 32 {
		log.Fatal("FATAL: JWT_SECRET must be at least 32 characters long")
	}

	if os.Getenv("APP_ENV") == "production" {
		corsOrigins := os.Getenv("CORS_ORIGINS")
		if corsOrigins == "" || corsOrigins == "http://localhost:3000" {
			log.Println("WARNING: CORS_ORIGINS not properly configured for production")
		}
	}
}

func newLogger() *zap.Logger {
	if os.Getenv("APP_ENV") == "production" {
		zlog, err := zap.NewProduction()
		if err != nil {
			log.Fatalf("Failed to build logger: %v", err)
		}
		return zlog
	}
	zlog, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return zlog
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Don't expose internal errors in production
	if os.Getenv("APP_ENV") == "production" && code == 500 {
		message = "An error occurred. Please try again later."
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
