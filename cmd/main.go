package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"bounty-escrow/internal/auth"
	"bounty-escrow/internal/blockchain"
	"bounty-escrow/internal/config"
	"bounty-escrow/internal/database"
	"bounty-escrow/internal/handlers"
	"bounty-escrow/internal/jobs"
	"bounty-escrow/internal/logger"
	"bounty-escrow/internal/metrics"
	"bounty-escrow/internal/reputation"
	"bounty-escrow/internal/repository"
	"bounty-escrow/internal/services"
)

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file (default: ./.env if present)")
	policyFile := pflag.String("policy", "", "path to a YAML reputation policy (default: $POLICY_FILE)")
	pflag.Parse()

	cfg, err := config.Load(*envFile, *policyFile)
	if err != nil {
		// No logger yet
		_, _ = os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	auth.InitJWT(cfg.App.JWTSecret, cfg.App.TokenTTL)

	db, err := database.Connect(cfg, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	clk := clock.New()

	rail, diagnostics, err := newFundsRail(cfg.Solana, log.Named("rail"))
	if err != nil {
		log.Fatal("failed to set up funds rail", zap.Error(err))
	}

	repo := repository.NewRepository(db)
	notifier := services.NewNotifier(services.NewLogSink(log.Named("notify")), cfg.Escrow.NotificationQueue, log.Named("notifier"), m)
	reputationService := services.NewReputationService(
		repo,
		reputation.NewEngine(cfg.Reputation.Policy),
		clk,
		cfg.Reputation.MaxAge,
		log.Named("reputation"),
		m,
	)
	escrowService := services.NewEscrowService(
		repo,
		reputationService,
		rail,
		notifier,
		clk,
		cfg.Escrow.SettlementLease,
		log.Named("escrow"),
		m,
	)
	agentService := services.NewAgentService(repo, clk, log.Named("agents"))
	listingService := services.NewListingService(repo, clk, log.Named("listings"))
	proposalService := services.NewProposalService(repo, escrowService, notifier, clk, log.Named("proposals"))

	sweeper := jobs.NewDisputeWindowSweeper(escrowService, clk, cfg.Escrow, log.Named("sweeper"), m)
	refreshJob := jobs.NewReputationRefreshJob(
		reputationService,
		clk,
		cfg.Reputation.RefreshInterval,
		cfg.Reputation.RefreshBatch,
		log.Named("reputation-refresh"),
	)

	notifier.Start()
	sweeper.Start()
	refreshJob.Start()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log.Named("http")))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handlers.RegisterRoutes(router, handlers.Set{
		Auth:         handlers.NewAuthHandler(agentService, cfg.App.LoginMessage, log.Named("auth")),
		Listings:     handlers.NewListingHandler(listingService, escrowService),
		Proposals:    handlers.NewProposalHandler(proposalService),
		Transactions: handlers.NewTransactionHandler(escrowService, reputationService),
		Reputation:   handlers.NewReputationHandler(reputationService),
		Admin:        handlers.NewAdminHandler(escrowService, reputationService, sweeper, diagnostics, log.Named("admin")),
		Health:       handlers.NewHealthHandler(db, clk),
	}, cfg.IsAdmin)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Jobs stop after the server so in-flight requests can still publish
	sweeper.Stop()
	refreshJob.Stop()
	notifier.Stop()

	log.Info("server exited")
}

// newFundsRail picks the Solana rail when an escrow key is configured and a
// dry-run rail otherwise. Diagnostics are nil in dry-run mode.
func newFundsRail(cfg config.SolanaConfig, log *zap.Logger) (services.FundsRail, handlers.RailDiagnostics, error) {
	if cfg.EscrowWalletPrivateKey == "" {
		log.Warn("no escrow wallet configured, settlements run in dry-run mode")
		return blockchain.NewDryRunRail(log), nil, nil
	}

	client, err := blockchain.NewSolanaClient(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	lamports := cfg.LamportsPerUnit
	if lamports <= 0 {
		lamports = 1
	}
	log.Info("solana rail enabled", zap.String("network", cfg.Network))
	return blockchain.NewSolanaRail(client, uint64(lamports), log), client, nil
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
