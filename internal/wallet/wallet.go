package wallet

import (
	"context"
	"time"

	"example.com/santekene/services/ledger/internal/cache"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// balanceCacheTTL bounds staleness of cached balances between settlements
const balanceCacheTTL = 5 * time.Minute

// Balance is the wallet view returned to callers
type Balance struct {
	UserID      uint  `json:"userId"`
	Balance     int64 `json:"balance"`
	TotalEarned int64 `json:"totalEarned"`
	TotalSpent  int64 `json:"totalSpent"`
}

// Service manages wallets and reconciles pending transactions with the
// job queue outcome.
type Service struct {
	wallets repositories.WalletRepository
	jobs    repositories.JobRepository
	cache   cache.RedisClient
	log     *logrus.Logger
}

// NewService creates a wallet service. cacheClient may be nil.
func NewService(wallets repositories.WalletRepository, jobs repositories.JobRepository, cacheClient cache.RedisClient, log *logrus.Logger) *Service {
	return &Service{wallets: wallets, jobs: jobs, cache: cacheClient, log: log}
}

// GetBalance returns a user's wallet balance, from cache when warm
func (s *Service) GetBalance(ctx context.Context, userID uint) (*Balance, error) {
	if s.cache != nil {
		var cached Balance
		if err := cache.GetJSON(ctx, s.cache, cache.WalletBalanceKey(userID), &cached); err == nil {
			return &cached, nil
		}
	}

	wallet, err := s.wallets.FindOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance := &Balance{
		UserID:      userID,
		Balance:     wallet.Balance,
		TotalEarned: wallet.TotalEarned,
		TotalSpent:  wallet.TotalSpent,
	}
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cache.WalletBalanceKey(userID), balance, balanceCacheTTL); err != nil {
			s.log.WithError(err).Warn("Failed to cache balance")
		}
	}
	return balance, nil
}

// ListTransactions returns a user's recent wallet transactions
func (s *Service) ListTransactions(ctx context.Context, userID uint, limit int) ([]*models.WalletTransaction, error) {
	wallet, err := s.wallets.FindOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.wallets.ListWalletTransactions(ctx, wallet.ID, limit)
}

// Spend debits points from a user's wallet. The debit settles locally,
// no ledger job is required for spending.
func (s *Service) Spend(ctx context.Context, userID uint, amount int64, reason string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, errors.New("spend amount must be positive")
	}
	wallet, err := s.wallets.FindOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	wtx := &models.WalletTransaction{
		UUID:     uuid.NewString(),
		WalletID: wallet.ID,
		Type:     models.TransactionTypeDebit,
		Amount:   -amount,
		Reason:   reason,
		Status:   models.TransactionStatusSuccess,
	}
	if err := s.wallets.DebitWallet(ctx, wallet.ID, wtx); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.WalletBalanceKey(userID)); err != nil {
			s.log.WithError(err).Warn("Failed to invalidate balance cache")
		}
	}
	return wtx, nil
}

// ReconcilePending settles PENDING transactions the queue handlers missed:
// transactions whose job succeeded settle as earned, transactions whose job
// no longer exists or was dead-lettered settle as failed. Scheduled as a
// periodic sweep; transactions with a live job are left for the handlers.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Duration) error {
	stale, err := s.wallets.StalePendingTransactions(ctx, time.Now().Add(-olderThan), 100)
	if err != nil {
		return err
	}
	for _, wtx := range stale {
		if wtx.JobID != nil && *wtx.JobID != "" {
			job, err := s.jobs.FindJobByUUID(ctx, *wtx.JobID)
			switch {
			case err == nil && job.Status == models.JobStatusSucceeded:
				// The job finished but its success callback never settled
				// the transaction, credit the wallet now
				if err := s.wallets.SettleTransactionSuccess(ctx, wtx.UUID, job.Result); err != nil && !errors.Is(err, repositories.ErrTransactionNotPending) {
					s.log.WithError(err).WithField("wallet_tx", wtx.UUID).Error("Failed to settle transaction")
					continue
				}
				s.log.WithFields(logrus.Fields{
					"wallet_tx": wtx.UUID,
					"job_id":    *wtx.JobID,
				}).Warn("Settled pending transaction for succeeded job")
				continue
			case err == nil && job.Status != models.JobStatusDeadLetter:
				// Live job, the queue handlers will settle it
				continue
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				// Unclear job state, leave it for the next sweep
				continue
			}
		}
		if err := s.wallets.SettleTransactionFailed(ctx, wtx.UUID); err != nil {
			if errors.Is(err, repositories.ErrTransactionNotPending) {
				continue
			}
			s.log.WithError(err).WithField("wallet_tx", wtx.UUID).Error("Failed to reconcile transaction")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"wallet_tx": wtx.UUID,
			"reason":    wtx.Reason,
		}).Warn("Marked orphaned pending transaction failed")
	}
	return nil
}
