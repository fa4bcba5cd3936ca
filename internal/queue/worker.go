package queue

import (
	"context"
	"fmt"
	"time"

	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/messaging"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/repositories"
	"example.com/santekene/services/ledger/internal/tracing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler executes jobs of one kind. Execute returns the ledger result
// recorded on the job row; OnSuccess and OnDeadLetter run local follow-ups
// after the job row has reached its new state.
type Handler interface {
	Kind() models.JobKind
	Execute(ctx context.Context, job *models.LedgerJob) (string, error)
	OnSuccess(ctx context.Context, job *models.LedgerJob, result string)
	OnDeadLetter(ctx context.Context, job *models.LedgerJob)
}

// Worker polls the job table and dispatches claimed jobs to handlers.
// Multiple workers may run against the same table; the conditional claim
// guarantees each job executes on at most one of them.
type Worker struct {
	jobs     repositories.JobRepository
	handlers map[models.JobKind]Handler
	bus      messaging.ServiceBusClient
	tracer   tracing.Tracer
	cfg      config.QueueConfig
	log      *logrus.Logger
}

// NewWorker creates a worker pool over the job table
func NewWorker(
	jobs repositories.JobRepository,
	bus messaging.ServiceBusClient,
	tracer tracing.Tracer,
	cfg config.QueueConfig,
	log *logrus.Logger,
	handlers ...Handler,
) *Worker {
	m := make(map[models.JobKind]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Kind()] = h
	}
	return &Worker{
		jobs:     jobs,
		handlers: m,
		bus:      bus,
		tracer:   tracer,
		cfg:      cfg,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, running the configured number of
// concurrent pollers.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			return w.poll(ctx, id)
		})
	}
	return g.Wait()
}

func (w *Worker) poll(ctx context.Context, id int) error {
	log := w.log.WithField("worker", id)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker stopping")
			return nil
		case <-ticker.C:
			if err := w.runBatch(ctx); err != nil {
				log.WithError(err).Error("Batch failed")
			}
		}
	}
}

func (w *Worker) runBatch(ctx context.Context) error {
	pending, err := w.jobs.NextPendingJobs(ctx, w.cfg.Workers*2)
	if err != nil {
		return err
	}
	for _, candidate := range pending {
		job, err := w.jobs.ClaimJob(ctx, candidate.UUID)
		if errors.Is(err, repositories.ErrJobNotClaimed) {
			continue
		}
		if err != nil {
			return err
		}
		w.execute(ctx, job)
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, job *models.LedgerJob) {
	log := w.log.WithFields(logrus.Fields{
		"job_id":  job.UUID,
		"kind":    job.Kind,
		"attempt": job.Attempts,
	})

	handler, ok := w.handlers[job.Kind]
	if !ok {
		log.Error("No handler for job kind")
		w.deadLetter(ctx, job, nil, fmt.Sprintf("no handler for kind %s", job.Kind))
		return
	}

	txn := w.tracer.StartTransaction("queue/" + string(job.Kind))
	defer w.tracer.EndTransaction(txn)
	w.tracer.AddAttribute(txn, "job.id", job.UUID)
	w.tracer.AddAttribute(txn, "job.attempt", job.Attempts)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	result, err := handler.Execute(jobCtx, job)
	if err != nil {
		w.tracer.RecordError(txn, err)
		if permanentError(err) {
			log.WithError(err).Warn("Job failed permanently")
			w.deadLetter(ctx, job, handler, err.Error())
			return
		}
		if job.Attempts >= job.MaxAttempts {
			log.WithError(err).Warn("Job exhausted retry budget")
			w.deadLetter(ctx, job, handler, err.Error())
			return
		}
		retryAt := time.Now().Add(Backoff(w.cfg, job.Attempts))
		log.WithError(err).WithField("retry_at", retryAt).Info("Job failed, scheduling retry")
		if markErr := w.jobs.MarkJobFailed(ctx, job.UUID, err.Error(), retryAt); markErr != nil {
			log.WithError(markErr).Error("Failed to schedule retry")
		}
		return
	}

	if err := w.jobs.MarkJobSucceeded(ctx, job.UUID, result); err != nil {
		log.WithError(err).Error("Failed to mark job succeeded")
		return
	}
	handler.OnSuccess(ctx, job, result)
	log.WithField("result", result).Info("Job succeeded")

	if err := w.bus.PublishEvent(ctx, messaging.EventJobSucceeded, map[string]interface{}{
		"jobId":  job.UUID,
		"kind":   job.Kind,
		"result": result,
	}); err != nil {
		log.WithError(err).Warn("Failed to publish success event")
	}
}

// permanentError reports whether err stems from missing configuration.
// Retrying cannot fix it, so the job dead-letters on the first attempt.
func permanentError(err error) bool {
	return errors.Is(err, ledger.ErrEncryptionKeyMissing) ||
		errors.Is(err, ledger.ErrLedgerNotConfigured)
}

func (w *Worker) deadLetter(ctx context.Context, job *models.LedgerJob, handler Handler, reason string) {
	if err := w.jobs.MarkJobDeadLetter(ctx, job.UUID, reason); err != nil {
		w.log.WithError(err).WithField("job_id", job.UUID).Error("Failed to dead-letter job")
		return
	}
	if handler != nil {
		handler.OnDeadLetter(ctx, job)
	}
	if err := w.bus.PublishEvent(ctx, messaging.EventJobDeadLetter, map[string]interface{}{
		"jobId":  job.UUID,
		"kind":   job.Kind,
		"reason": reason,
	}); err != nil {
		w.log.WithError(err).Warn("Failed to publish dead-letter event")
	}
}

// ReleaseStuck returns RUNNING jobs older than the configured threshold to
// PENDING. Scheduled from the worker command as crash recovery.
func (w *Worker) ReleaseStuck(ctx context.Context) error {
	released, err := w.jobs.ReleaseStuckJobs(ctx, time.Now().Add(-w.cfg.StuckThreshold))
	if err != nil {
		return err
	}
	if released > 0 {
		w.log.WithField("count", released).Warn("Released stuck jobs")
	}
	return nil
}
