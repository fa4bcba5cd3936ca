package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/repositories"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// memJobStore is an in-memory job store honoring the conditional-update
// semantics of the database implementation.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.LedgerJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.LedgerJob)}
}

func (s *memJobStore) CreateJob(_ context.Context, job *models.LedgerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.UUID] = &cp
	return nil
}

func (s *memJobStore) FindJobByUUID(_ context.Context, uuid string) (*models.LedgerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[uuid]
	if !ok {
		return nil, repositories.ErrJobNotClaimed
	}
	cp := *job
	return &cp, nil
}

func (s *memJobStore) NextPendingJobs(_ context.Context, limit int) ([]*models.LedgerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.LedgerJob
	now := time.Now()
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && !job.ScheduledAt.After(now) {
			cp := *job
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memJobStore) ClaimJob(_ context.Context, uuid string) (*models.LedgerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[uuid]
	if !ok || job.Status != models.JobStatusPending {
		return nil, repositories.ErrJobNotClaimed
	}
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.Attempts++
	job.StartedAt = &now
	cp := *job
	return &cp, nil
}

func (s *memJobStore) MarkJobSucceeded(_ context.Context, uuid string, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[uuid]; ok && job.Status == models.JobStatusRunning {
		now := time.Now()
		job.Status = models.JobStatusSucceeded
		job.Result = result
		job.CompletedAt = &now
	}
	return nil
}

func (s *memJobStore) MarkJobFailed(_ context.Context, uuid string, lastError string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[uuid]; ok && job.Status == models.JobStatusRunning {
		job.Status = models.JobStatusPending
		job.LastError = lastError
		job.ScheduledAt = retryAt
	}
	return nil
}

func (s *memJobStore) MarkJobDeadLetter(_ context.Context, uuid string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[uuid]; ok && job.Status == models.JobStatusRunning {
		now := time.Now()
		job.Status = models.JobStatusDeadLetter
		job.LastError = lastError
		job.CompletedAt = &now
	}
	return nil
}

func (s *memJobStore) WithdrawJob(_ context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[uuid]
	if !ok || job.Status != models.JobStatusPending {
		return repositories.ErrJobNotClaimed
	}
	delete(s.jobs, uuid)
	return nil
}

func (s *memJobStore) ReleaseStuckJobs(_ context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for _, job := range s.jobs {
		if job.Status == models.JobStatusRunning && job.StartedAt != nil && job.StartedAt.Before(threshold) {
			job.Status = models.JobStatusPending
			released++
		}
	}
	return released, nil
}

func (s *memJobStore) Stats(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[string]int64)
	for _, job := range s.jobs {
		stats[string(job.Status)]++
	}
	return stats, nil
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Workers:        2,
		PollInterval:   time.Millisecond,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     4 * time.Millisecond,
		JobTimeout:     time.Second,
		StuckThreshold: time.Minute,
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestEnqueueReturnsWithoutTouchingHandlers(t *testing.T) {
	store := newMemJobStore()
	svc := NewService(store, testQueueConfig(), testLogger())

	start := time.Now()
	jobID, err := svc.AddConsensusJob(context.Background(), ConsensusPayload{AuditLogID: 1})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	require.Less(t, time.Since(start), 100*time.Millisecond)

	job, err := store.FindJobByUUID(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPending, job.Status)
	require.Equal(t, DefaultPriority, job.Priority)
	require.Equal(t, 3, job.MaxAttempts)
	require.Zero(t, job.Attempts)
}

func TestFileAnchorJobDefaults(t *testing.T) {
	store := newMemJobStore()
	svc := NewService(store, testQueueConfig(), testLogger())

	jobID, err := svc.AddFileAnchorJob(context.Background(), FileAnchorPayload{DocumentID: 9})
	require.NoError(t, err)

	job, err := store.FindJobByUUID(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, FileAnchorPriority, job.Priority)
	require.True(t, job.ScheduledAt.After(time.Now().Add(500*time.Millisecond)))
}

func TestClaimExclusivity(t *testing.T) {
	store := newMemJobStore()
	svc := NewService(store, testQueueConfig(), testLogger())

	jobID, err := svc.AddConsensusJob(context.Background(), ConsensusPayload{})
	require.NoError(t, err)

	var wins, losses int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimJob(context.Background(), jobID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, repositories.ErrJobNotClaimed)
				losses++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, 7, losses)
}

func TestWithdrawOnlyWhilePending(t *testing.T) {
	store := newMemJobStore()
	svc := NewService(store, testQueueConfig(), testLogger())

	jobID, err := svc.AddConsensusJob(context.Background(), ConsensusPayload{})
	require.NoError(t, err)

	_, err = store.ClaimJob(context.Background(), jobID)
	require.NoError(t, err)

	err = svc.Withdraw(context.Background(), jobID)
	require.ErrorIs(t, err, repositories.ErrJobNotClaimed)

	pendingID, err := svc.AddConsensusJob(context.Background(), ConsensusPayload{})
	require.NoError(t, err)
	require.NoError(t, svc.Withdraw(context.Background(), pendingID))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := config.QueueConfig{BackoffBase: 2 * time.Second, BackoffCap: 60 * time.Second}

	require.Equal(t, 4*time.Second, Backoff(cfg, 1))
	require.Equal(t, 8*time.Second, Backoff(cfg, 2))
	require.Equal(t, 16*time.Second, Backoff(cfg, 3))
	require.Equal(t, 60*time.Second, Backoff(cfg, 10))
}
