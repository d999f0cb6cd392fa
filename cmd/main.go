package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prediction-ledger/internal/auth"
	"prediction-ledger/internal/blockchain"
	"prediction-ledger/internal/config"
	"prediction-ledger/internal/database"
	"prediction-ledger/internal/handlers"
	"prediction-ledger/internal/jobs"
	"prediction-ledger/internal/logger"
	"prediction-ledger/internal/models"
	"prediction-ledger/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	db, err := database.Connect(cfg.GetDSN())
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	// Open the chain client; closed on shutdown
	chainClient, err := blockchain.NewClient(cfg.Chain, zlog)
	if err != nil {
		zlog.Fatal("failed to create chain client", zap.Error(err))
	}
	defer chainClient.Close()

	units := blockchain.NewUnitConverter(cfg.Chain.AssetDecimals)

	// Initialize services
	feeService := services.NewFeeService(db, map[string]decimal.Decimal{
		models.LedgerTxTypeDeposit:    cfg.Fees.DefaultDepositPercent,
		models.LedgerTxTypeWithdrawal: cfg.Fees.DefaultWithdrawalPercent,
	}, zlog)
	predictionReconciler := services.NewPredictionReconciler(db, units, cfg.Chain.NativeAsset, zlog)
	vaultReconciler := services.NewVaultReconciler(db, chainClient, units, feeService,
		cfg.Chain.TokenAssets, cfg.Chain.NativeAsset, zlog)
	syncService := services.NewSyncService(db, chainClient, predictionReconciler, vaultReconciler, zlog)

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(syncService, zlog)
	vaultHandler := handlers.NewVaultHandler(db, vaultReconciler, zlog)
	predictionHandler := handlers.NewPredictionHandler(db, predictionReconciler, zlog)

	// Start periodic chain scan
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanJob := jobs.NewChainScanJob(syncService, zlog, baseCtx)
	if err := scanJob.Start(cfg.App.ScanCronSpec); err != nil {
		zlog.Fatal("failed to start chain scan job", zap.Error(err))
	}
	defer scanJob.Stop()

	// Set up Gin router
	router := gin.Default()

	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
	}
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Public read routes
	router.GET("/api/vaults/:address/balance", vaultHandler.GetBalance)
	router.GET("/api/vaults/:address/transactions", vaultHandler.GetTransactions)
	router.GET("/api/predictions/:id", predictionHandler.GetPrediction)
	router.GET("/api/predictions/:id/bets", predictionHandler.GetPredictionBets)
	router.GET("/api/bettors/:address/stats", predictionHandler.GetBettorStats)

	// Mutating sync routes (protected)
	api := router.Group("/api")
	api.Use(auth.Middleware())
	{
		api.POST("/sync", syncHandler.Execute)
		api.POST("/sync/chain", syncHandler.SyncChain)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("forced shutdown", zap.Error(err))
	}
}
