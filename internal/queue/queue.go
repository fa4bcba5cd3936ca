package queue

import (
	"context"
	"encoding/json"
	"time"

	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Default priorities per job kind. File anchors jump the line slightly so
// integrity certificates land before the bulk of consensus traffic.
const (
	DefaultPriority    = 5
	FileAnchorPriority = 6
	FileAnchorDelay    = time.Second
)

// ConsensusPayload carries a signed envelope bound for the consensus log
type ConsensusPayload struct {
	Envelope   *ledger.Envelope `json:"envelope"`
	AuditLogID uint             `json:"auditLogId"`
}

// FileAnchorPayload carries an integrity certificate bound for the file service
type FileAnchorPayload struct {
	DocumentID  uint               `json:"documentId"`
	Certificate ledger.Certificate `json:"certificate"`
}

// TokenTransferPayload settles a pending wallet transaction on the ledger
type TokenTransferPayload struct {
	WalletTxUUID string `json:"walletTxUuid"`
	UserID       uint   `json:"userId"`
	Amount       int64  `json:"amount"`
	Reason       string `json:"reason"`
	EntityType   string `json:"entityType"`
	EntityID     uint   `json:"entityId"`
}

// Option adjusts a single enqueued job
type Option func(*models.LedgerJob)

// WithPriority overrides the default priority
func WithPriority(p int) Option {
	return func(j *models.LedgerJob) { j.Priority = p }
}

// WithDelay pushes the first execution into the future
func WithDelay(d time.Duration) Option {
	return func(j *models.LedgerJob) { j.ScheduledAt = time.Now().Add(d) }
}

// WithMaxAttempts overrides the configured retry budget
func WithMaxAttempts(n int) Option {
	return func(j *models.LedgerJob) { j.MaxAttempts = n }
}

// Service is the enqueue-side API of the durable job queue. Enqueueing only
// writes a database row; ledger latency never reaches the caller.
type Service struct {
	jobs repositories.JobRepository
	cfg  config.QueueConfig
	log  *logrus.Logger
}

// NewService creates a queue service
func NewService(jobs repositories.JobRepository, cfg config.QueueConfig, log *logrus.Logger) *Service {
	return &Service{jobs: jobs, cfg: cfg, log: log}
}

func (s *Service) enqueue(ctx context.Context, kind models.JobKind, payload interface{}, opts ...Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal job payload")
	}

	job := &models.LedgerJob{
		UUID:        uuid.NewString(),
		Kind:        kind,
		Payload:     string(data),
		Priority:    DefaultPriority,
		MaxAttempts: s.cfg.MaxAttempts,
		ScheduledAt: time.Now(),
		Status:      models.JobStatusPending,
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.UUID,
		"kind":     job.Kind,
		"priority": job.Priority,
	}).Info("Job enqueued")
	return job.UUID, nil
}

// AddConsensusJob enqueues a consensus log submission
func (s *Service) AddConsensusJob(ctx context.Context, payload ConsensusPayload, opts ...Option) (string, error) {
	return s.enqueue(ctx, models.JobKindConsensusSubmit, payload, opts...)
}

// AddFileAnchorJob enqueues a certificate anchor with the file-anchor
// priority and a short delay so the document row commits first.
func (s *Service) AddFileAnchorJob(ctx context.Context, payload FileAnchorPayload, opts ...Option) (string, error) {
	opts = append([]Option{WithPriority(FileAnchorPriority), WithDelay(FileAnchorDelay)}, opts...)
	return s.enqueue(ctx, models.JobKindFileAnchor, payload, opts...)
}

// AddTokenTransferJob enqueues a wallet settlement transfer
func (s *Service) AddTokenTransferJob(ctx context.Context, payload TokenTransferPayload, opts ...Option) (string, error) {
	return s.enqueue(ctx, models.JobKindTokenTransfer, payload, opts...)
}

// Withdraw removes a job that has not started. Jobs already claimed or
// finished stay untouched and ErrJobNotClaimed is returned.
func (s *Service) Withdraw(ctx context.Context, jobID string) error {
	return s.jobs.WithdrawJob(ctx, jobID)
}

// Stats returns job counts grouped by status
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	return s.jobs.Stats(ctx)
}

// Backoff computes the retry delay after the given number of attempts,
// exponential from the configured base and capped.
func Backoff(cfg config.QueueConfig, attempts int) time.Duration {
	d := cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= cfg.BackoffCap {
			return cfg.BackoffCap
		}
	}
	return d
}
