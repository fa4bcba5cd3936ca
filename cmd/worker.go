package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/cache"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/messaging"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/repositories"
	"example.com/santekene/services/ledger/internal/search"
	"example.com/santekene/services/ledger/internal/tracing"
	"example.com/santekene/services/ledger/internal/wallet"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the queue workers",
	Long: `Start the background workers that drain the durable ledger job queue:
consensus submissions, file anchors and token transfers. Also runs the
stuck-job release and wallet reconciliation sweeps.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db := connectDatabase(cfg)
	defer db.Close()

	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warnf("Failed to initialize Redis cache, continuing without caching: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	tracer, err := tracing.NewTracer(cfg.NewRelic, log)
	if err != nil {
		return err
	}

	searchClient, err := search.NewClient(cfg.Elastic)
	if err != nil {
		log.Warnf("Failed to initialize Elasticsearch client, continuing without indexing: %v", err)
		searchClient = nil
	}

	bus, err := messaging.NewServiceBusClient(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	ledgerClient, err := ledger.NewClient(cfg.Hedera, log)
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	repo := repositories.NewRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	walletRepo := repositories.NewWalletRepository(db)
	walletSvc := wallet.NewService(walletRepo, jobRepo, redisClient, log)

	worker := queue.NewWorker(jobRepo, bus, tracer, cfg.Queue, log,
		queue.NewConsensusHandler(ledgerClient, repo, searchClient, log),
		queue.NewFileAnchorHandler(ledgerClient, repo, redisClient, log),
		queue.NewTokenTransferHandler(ledgerClient, walletRepo, redisClient, bus, cfg.Hedera.CustodyID, log),
	)

	// Start the worker pool
	g.Go(func() error {
		log.WithField("workers", cfg.Queue.Workers).Info("Starting queue workers")
		return worker.Run(ctx)
	})

	// Start the maintenance sweeps
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() {
				if err := worker.ReleaseStuck(ctx); err != nil {
					log.WithError(err).Error("Stuck-job release failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(func() {
				if err := walletSvc.ReconcilePending(ctx, cfg.Queue.ReconcileWindow); err != nil {
					log.WithError(err).Error("Wallet reconciliation failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Worker error")
		return err
	}

	log.Info("Worker shutting down gracefully")
	return nil
}
