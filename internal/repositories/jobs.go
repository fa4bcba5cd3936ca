package repositories

import (
	"context"
	"time"

	"example.com/santekene/services/ledger/internal/database"
	"example.com/santekene/services/ledger/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrJobNotClaimed is returned when a claim or withdraw races with another
// worker and the conditional update matches no row.
var ErrJobNotClaimed = errors.New("job not claimable")

// JobRepository provides data access methods for the durable job queue
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.LedgerJob) error
	FindJobByUUID(ctx context.Context, uuid string) (*models.LedgerJob, error)

	// NextPendingJobs returns due PENDING jobs ordered by priority then age
	NextPendingJobs(ctx context.Context, limit int) ([]*models.LedgerJob, error)

	// ClaimJob transitions a single job PENDING -> RUNNING and increments
	// its attempt counter. Returns ErrJobNotClaimed when another worker won.
	ClaimJob(ctx context.Context, uuid string) (*models.LedgerJob, error)

	MarkJobSucceeded(ctx context.Context, uuid string, result string) error
	MarkJobFailed(ctx context.Context, uuid string, lastError string, retryAt time.Time) error
	MarkJobDeadLetter(ctx context.Context, uuid string, lastError string) error

	// WithdrawJob deletes a job only while it is still PENDING
	WithdrawJob(ctx context.Context, uuid string) error

	// ReleaseStuckJobs returns RUNNING jobs older than the threshold to
	// PENDING so a crashed worker's claims are eventually retried.
	ReleaseStuckJobs(ctx context.Context, threshold time.Time) (int64, error)

	// Stats returns job counts grouped by status
	Stats(ctx context.Context) (map[string]int64, error)
}

type jobRepo struct {
	db database.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db database.DB) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) CreateJob(ctx context.Context, job *models.LedgerJob) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := gormDB.WithContext(ctx).Create(job).Error; err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

func (r *jobRepo) FindJobByUUID(ctx context.Context, uuid string) (*models.LedgerJob, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var job models.LedgerJob
	if err := gormDB.WithContext(ctx).Where("uuid = ?", uuid).First(&job).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find job")
	}
	return &job, nil
}

func (r *jobRepo) NextPendingJobs(ctx context.Context, limit int) ([]*models.LedgerJob, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var jobs []*models.LedgerJob
	err = gormDB.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.JobStatusPending, time.Now()).
		Order("priority DESC, scheduled_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending jobs")
	}
	return jobs, nil
}

func (r *jobRepo) ClaimJob(ctx context.Context, uuid string) (*models.LedgerJob, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res := gormDB.WithContext(ctx).
		Model(&models.LedgerJob{}).
		Where("uuid = ? AND status = ?", uuid, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "failed to claim job")
	}
	if res.RowsAffected == 0 {
		return nil, ErrJobNotClaimed
	}

	return r.FindJobByUUID(ctx, uuid)
}

func (r *jobRepo) MarkJobSucceeded(ctx context.Context, uuid string, result string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	now := time.Now()
	err = gormDB.WithContext(ctx).
		Model(&models.LedgerJob{}).
		Where("uuid = ? AND status = ?", uuid, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.JobStatusSucceeded,
			"result":       result,
			"completed_at": now,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark job succeeded")
	}
	return nil
}

func (r *jobRepo) MarkJobFailed(ctx context.Context, uuid string, lastError string, retryAt time.Time) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	// Failed attempts go straight back to PENDING with a future
	// scheduled_at so the poll loop picks them up after the backoff.
	err = gormDB.WithContext(ctx).
		Model(&models.LedgerJob{}).
		Where("uuid = ? AND status = ?", uuid, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.JobStatusPending,
			"last_error":   lastError,
			"scheduled_at": retryAt,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark job for retry")
	}
	return nil
}

func (r *jobRepo) MarkJobDeadLetter(ctx context.Context, uuid string, lastError string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	now := time.Now()
	err = gormDB.WithContext(ctx).
		Model(&models.LedgerJob{}).
		Where("uuid = ? AND status = ?", uuid, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.JobStatusDeadLetter,
			"last_error":   lastError,
			"completed_at": now,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to dead-letter job")
	}
	return nil
}

func (r *jobRepo) WithdrawJob(ctx context.Context, uuid string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	res := gormDB.WithContext(ctx).
		Where("uuid = ? AND status = ?", uuid, models.JobStatusPending).
		Delete(&models.LedgerJob{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to withdraw job")
	}
	if res.RowsAffected == 0 {
		return ErrJobNotClaimed
	}
	return nil
}

func (r *jobRepo) ReleaseStuckJobs(ctx context.Context, threshold time.Time) (int64, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return 0, err
	}
	// Only non-terminal RUNNING jobs are released; the attempt already
	// consumed by the crashed worker stays counted.
	res := gormDB.WithContext(ctx).
		Model(&models.LedgerJob{}).
		Where("status = ? AND started_at < ?", models.JobStatusRunning, threshold).
		Updates(map[string]interface{}{
			"status":     models.JobStatusPending,
			"last_error": "released after worker stall",
		})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to release stuck jobs")
	}
	return res.RowsAffected, nil
}

func (r *jobRepo) Stats(ctx context.Context) (map[string]int64, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err = gormDB.WithContext(ctx).
		Model(&models.LedgerJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect job stats")
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Count
	}
	return stats, nil
}
