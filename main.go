package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/analyzers"
	"github.com/krishimitra/krishimitra-api/config"
	"github.com/krishimitra/krishimitra-api/gating"
	"github.com/krishimitra/krishimitra-api/handlers"
	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/notify"
	"github.com/krishimitra/krishimitra-api/profile"
	"github.com/krishimitra/krishimitra-api/quests"
	"github.com/krishimitra/krishimitra-api/scoring"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const upstreamTimeout = 30 * time.Second

var envFile string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "krishimitra",
		Short: "Krishimitra trust score API",
		Long: `Krishimitra scores farmers for crop loans.

Farmers earn trust points by completing their profile, uploading bank
statements and sensor readings, grading crop photos, passing the finance
quest and checking rainfall. A score of 80 or more after evaluation unlocks
Pay-as-you-Grow milestones and stage vouchers.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(serveCmd(logger))
	rootCmd.AddCommand(migrateCmd(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), logger)
		},
	}
}

func migrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := config.InitDB(cfg); err != nil {
				return err
			}
			logger.Info("database schema ready")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	if envFile != "" {
		return config.LoadConfig(envFile)
	}
	return config.LoadConfig()
}

func serve(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}

	app, err := newApp(db, cfg, logger)
	if err != nil {
		return err
	}

	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()
	go app.keeper.Run(syncCtx, cfg.SyncInterval)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: app.router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting Krishimitra API server", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

type app struct {
	router *gin.Engine
	keeper *profile.Keeper
}

// newApp wires every component onto one router.
func newApp(db *gorm.DB, cfg *config.Config, logger *slog.Logger) (*app, error) {
	bank, err := quests.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load quests: %w", err)
	}

	hub := notify.NewHub(logger)
	store := profile.NewGormStore(db)
	keeper := profile.NewKeeper(db, store, hub, logger)
	l := ledger.New(ledger.NewGormStore(db), logger)
	awarder := scoring.NewAwarder(l, keeper, logger)
	policy := gating.NewPolicy(l, keeper)

	gemini := analyzers.NewGeminiClient(analyzers.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: upstreamTimeout,
	})
	weather := analyzers.NewWeatherClient(cfg.WeatherAPIURL, cfg.GeocodeAPIURL, upstreamTimeout)
	crop := analyzers.NewCropAnalyzer(gemini, logger)
	an := handlers.Analyzers{
		Bank:    analyzers.NewBankAnalyzer(),
		Sensor:  analyzers.NewSensorAnalyzer(weather),
		Crop:    crop,
		Weather: weather,
	}

	authHandler := handlers.NewAuthHandler(db, cfg, l, keeper, logger)
	dashboardHandler := handlers.NewDashboardHandler(l, policy, awarder, keeper, store)
	activityHandler := handlers.NewActivityHandler(db, cfg, awarder, bank, an, logger)
	milestoneHandler := handlers.NewMilestoneHandler(cfg, gating.NewMilestoneTracker(l), crop, logger)
	voucherHandler := handlers.NewVoucherHandler(db, cfg, gating.NewVoucherBook(db, l), logger)
	supportHandler := handlers.NewSupportHandler(db, analyzers.NewSupportAssistant(gemini, logger))
	notificationHandler := handlers.NewNotificationHandler(hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigin))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "krishimitra-api",
		})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
		api.POST("/auth/refresh", authHandler.Refresh)

		api.POST("/chat", supportHandler.Chat)
		api.POST("/feedback", supportHandler.SubmitFeedback)
	}

	protected := api.Group("")
	protected.Use(middleware.JwtAuthMiddleware(cfg))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/me", authHandler.Me)

		protected.GET("/dashboard", dashboardHandler.GetDashboard)
		protected.POST("/dashboard/start", dashboardHandler.Start)
		protected.POST("/dashboard/evaluate", dashboardHandler.Evaluate)
		protected.GET("/transactions", dashboardHandler.ListTransactions)

		protected.GET("/weather", activityHandler.Forecast)
		protected.GET("/notifications/ws", notificationHandler.Stream)
	}

	activities := protected.Group("/activities")
	{
		activities.GET("/profile", middleware.RequireFeature(policy, gating.Profile), activityHandler.GetProfile)
		activities.POST("/profile", middleware.RequireFeature(policy, gating.Profile), activityHandler.SubmitProfile)
		activities.POST("/bank-statement", middleware.RequireFeature(policy, gating.Bank), activityHandler.UploadBankStatement)
		activities.POST("/sensor-readings", middleware.RequireFeature(policy, gating.Sensor), activityHandler.UploadSensorReadings)
		activities.GET("/sensor-readings/latest", middleware.RequireFeature(policy, gating.Sensor), activityHandler.LatestSensorReport)
		activities.POST("/crop-analysis", middleware.RequireFeature(policy, gating.Crop), activityHandler.AnalyzeCrop)
		activities.GET("/quiz", middleware.RequireFeature(policy, gating.Quiz), activityHandler.GetQuiz)
		activities.POST("/quiz", middleware.RequireFeature(policy, gating.Quiz), activityHandler.SubmitQuiz)
		activities.POST("/weather", middleware.RequireFeature(policy, gating.Weather), activityHandler.CheckWeather)
	}

	milestones := protected.Group("/milestones")
	milestones.Use(middleware.RequireFeature(policy, gating.Milestones))
	{
		milestones.GET("", milestoneHandler.GetMilestones)
		milestones.PUT("/loan-start", milestoneHandler.SetLoanStart)
		milestones.POST("/moisture", milestoneHandler.SubmitMoisture)
		milestones.POST("/verify", milestoneHandler.VerifyStage)
	}

	vouchers := protected.Group("/vouchers")
	vouchers.Use(middleware.RequireFeature(policy, gating.Vouchers))
	{
		vouchers.GET("", voucherHandler.ListVouchers)
		vouchers.POST("/:id/redeem", voucherHandler.Redeem)
		vouchers.POST("/:id/disbursement", voucherHandler.Disbursement)
	}

	return &app{router: router, keeper: keeper}, nil
}
