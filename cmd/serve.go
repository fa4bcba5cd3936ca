package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/santekene/services/ledger/api"
	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/cache"
	"example.com/santekene/services/ledger/internal/database"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/repositories"
	"example.com/santekene/services/ledger/internal/rewards"
	"example.com/santekene/services/ledger/internal/search"
	"example.com/santekene/services/ledger/internal/service"
	"example.com/santekene/services/ledger/internal/storage"
	"example.com/santekene/services/ledger/internal/wallet"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the ledger service API server that handles document uploads,
integrity verification, health record sharing and wallet queries.

Ledger submissions are queued, not executed inline; run the worker
command alongside to drain the queue. The server gracefully shuts down
on SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
}

// startServer initializes and starts the API server
func startServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	db := connectDatabase(cfg)
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithField("error", err.Error()).Error("Error closing database connection")
		}
	}()

	log.Info("Connecting to Redis...")
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warnf("Failed to connect to Redis, continuing without caching: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	log.Info("Connecting to Elasticsearch...")
	searchClient, err := search.NewClient(cfg.Elastic)
	if err != nil {
		log.Warnf("Failed to connect to Elasticsearch, continuing without indexing: %v", err)
		searchClient = nil
	}

	ledgerClient, err := ledger.NewClient(cfg.Hedera, log)
	if err != nil {
		log.Fatalf("Failed to initialize ledger client: %v", err)
	}
	defer ledgerClient.Close()

	store, err := storage.New(cfg.Storage, log)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	// Initialize New Relic if enabled
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && !disableNewRelic {
		log.Info("Initializing New Relic monitoring...")
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
		)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
		}
	}

	log.Info("Initializing repositories and services...")
	repo := repositories.NewRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	walletRepo := repositories.NewWalletRepository(db)

	queueSvc := queue.NewService(jobRepo, cfg.Queue, log)
	rewardEngine := rewards.NewEngine(walletRepo, queueSvc, cfg.Hedera.HMACSecret, cfg.Server.Mode, log)
	walletSvc := wallet.NewService(walletRepo, jobRepo, redisClient, log)
	anchorSvc := service.NewAnchorService(repo, store, queueSvc, rewardEngine, ledgerClient,
		redisClient, searchClient, cfg.Hedera.HMACSecret, cfg.Server.Mode, log)

	log.Info("Initializing API server...")
	server := api.NewServer(cfg, log, nrApp, anchorSvc, walletSvc, queueSvc, ledgerClient)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-stop
	log.Infof("Received signal %s, shutting down gracefully...", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("Server shutdown error: %v", err)
	}

	log.Info("Server shutdown complete")
}

// connectDatabase connects with retry, services often start before Postgres
func connectDatabase(cfg *config.Config) database.DB {
	var db database.DB
	var err error
	maxRetries := 5
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg.Database)
		if err == nil {
			return db
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}

	log.Fatalf("Failed to connect to database after %d attempts: %v", maxRetries, err)
	return nil
}
