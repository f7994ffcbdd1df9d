package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"careline/internal/config"
	"careline/internal/database"
	"careline/internal/handlers"
	"careline/internal/jobs"
	"careline/internal/llm"
	"careline/internal/logging"
	"careline/internal/middleware"
	"careline/internal/services"
	"careline/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Careline Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Strategy: %s)", cfg.Port, cfg.PipelineStrategy)

	// Database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database schema: %v", err)
	}
	log.Printf("✅ Database ready (%s)", db.Dialect())

	// Stores
	convStore := store.NewConversationStore(db)
	knowledgeStore := store.NewKnowledgeStore(db, cfg.EmbeddingDim)

	// LLM clients
	chatClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	embedder := llm.NewEmbedder(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)

	// Pipeline services
	keywords := services.LoadKeywords(cfg.KeywordsPath)
	scanner := services.NewRiskScanner(keywords)
	enricher := services.NewMemoryEnricher(keywords)
	analyzer := services.NewIntentAnalyzer(chatClient, cfg.AnalysisModel, cfg.AnalyzerTimeout)
	cleaner := services.NewQueryCleaner(chatClient, cfg.AnalysisModel, cfg.CleanerTimeout, keywords)
	retriever := services.NewRetriever(embedder, knowledgeStore, cfg.EmbeddingTimeout)
	drafter := services.NewResponseDrafter(chatClient, cfg.DraftModel, cfg.DrafterTimeout, cfg.PrimaryHotline())
	shaper := services.NewPersonaShaper(chatClient, cfg.DraftModel, cfg.ShaperTimeout, cfg.PersonaShaperEnabled)
	lengthManager := services.NewLengthManager()
	careTracker := services.NewCareTracker(cfg.CareEscalationTurns)
	qualityLogger := services.NewQualityLogger(cfg.QualityLogPath)
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)

	// Background jobs
	persistRetry := jobs.NewPersistRetryJob(convStore, 30*time.Second)
	scheduler := jobs.NewScheduler()
	scheduler.Register("persist-retry", persistRetry)
	scheduler.Start()

	orchestrator := services.NewOrchestrator(
		services.OrchestratorConfig{
			Strategy:        cfg.PipelineStrategy,
			MaxMemoryTurns:  cfg.MaxMemoryTurns,
			DefaultLanguage: cfg.DefaultLanguage,
			PrimaryHotline:  cfg.PrimaryHotline(),
		},
		convStore,
		knowledgeStore,
		scanner,
		enricher,
		analyzer,
		cleaner,
		retriever,
		drafter,
		shaper,
		lengthManager,
		careTracker,
		qualityLogger,
		metrics,
		persistRetry,
	)

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName:      "careline",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getEnvDefault("ALLOWED_ORIGINS", "*"),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	prom := fiberprometheus.New("careline")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers
	healthHandler := handlers.NewHealthHandler(db)
	chatHandler := handlers.NewChatHandler(orchestrator)
	conversationHandler := handlers.NewConversationHandler(convStore)
	adminHandler := handlers.NewAdminHandler(knowledgeStore, embedder)

	// Routes
	app.Get("/health", healthHandler.Handle)
	app.Post("/api/chat", middleware.ChatRateLimiter(rateLimitConfig), chatHandler.Handle)
	app.Get("/api/conversations/:id", conversationHandler.Get)
	app.Get("/api/users/:userID/conversations", conversationHandler.ListByUser)
	app.Post("/api/admin/documents", middleware.AdminRateLimiter(rateLimitConfig), adminHandler.IngestDocument)

	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("💬 Chat endpoint: http://localhost:%s/api/chat", cfg.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		scheduler.Stop()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
