package repositories

import (
	"context"
	"time"

	"example.com/santekene/services/ledger/internal/database"
	"example.com/santekene/services/ledger/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTransactionNotPending is returned when a settlement update finds the
// wallet transaction already resolved.
var ErrTransactionNotPending = errors.New("wallet transaction is not pending")

// WalletRepository provides data access methods for wallets and their transactions
type WalletRepository interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo WalletRepository) error) error

	FindOrCreateWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	FindWalletByUserID(ctx context.Context, userID uint) (*models.Wallet, error)

	CreateWalletTransaction(ctx context.Context, tx *models.WalletTransaction) error
	SetTransactionJobID(ctx context.Context, uuid string, jobID string) error
	FindTransactionByUUID(ctx context.Context, uuid string) (*models.WalletTransaction, error)
	ListWalletTransactions(ctx context.Context, walletID uint, limit int) ([]*models.WalletTransaction, error)

	// HasTransactionForReason reports whether the wallet already carries a
	// SUCCESS or PENDING transaction with the given reason.
	HasTransactionForReason(ctx context.Context, walletID uint, reason string) (bool, error)
	// HasTransactionForEntity is the entity-scoped variant of the duplicate check
	HasTransactionForEntity(ctx context.Context, walletID uint, reason, entityType string, entityID uint) (bool, error)

	// SettleTransactionSuccess transitions PENDING -> SUCCESS exactly once
	// and credits the wallet balance in the same database transaction.
	SettleTransactionSuccess(ctx context.Context, uuid string, ledgerTxID string) error
	// SettleTransactionFailed transitions PENDING -> FAILED without any credit
	SettleTransactionFailed(ctx context.Context, uuid string) error

	// DebitWallet records a DEBIT transaction and decrements the balance,
	// failing when funds are insufficient.
	DebitWallet(ctx context.Context, walletID uint, tx *models.WalletTransaction) error

	// StalePendingTransactions lists PENDING transactions older than the cutoff
	StalePendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]*models.WalletTransaction, error)
}

type walletRepo struct {
	db database.DB
}

// NewWalletRepository creates a new wallet repository instance
func NewWalletRepository(db database.DB) WalletRepository {
	return &walletRepo{db: db}
}

// WithTransaction runs fn inside a database transaction
func (r *walletRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo WalletRepository) error) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get DB instance")
	}
	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &walletRepo{db: &dbWrapper{db: tx}}
		return fn(ctx, txRepo)
	})
}

func (r *walletRepo) FindOrCreateWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var wallet models.Wallet
	err = gormDB.WithContext(ctx).
		Where(models.Wallet{UserID: userID}).
		FirstOrCreate(&wallet).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find or create wallet")
	}
	return &wallet, nil
}

func (r *walletRepo) FindWalletByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var wallet models.Wallet
	if err := gormDB.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find wallet")
	}
	return &wallet, nil
}

func (r *walletRepo) CreateWalletTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := gormDB.WithContext(ctx).Create(tx).Error; err != nil {
		return errors.Wrap(err, "failed to create wallet transaction")
	}
	return nil
}

func (r *walletRepo) SetTransactionJobID(ctx context.Context, uuid string, jobID string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = gormDB.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("uuid = ?", uuid).
		Update("job_id", jobID).Error
	if err != nil {
		return errors.Wrap(err, "failed to set transaction job id")
	}
	return nil
}

func (r *walletRepo) FindTransactionByUUID(ctx context.Context, uuid string) (*models.WalletTransaction, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var tx models.WalletTransaction
	if err := gormDB.WithContext(ctx).Where("uuid = ?", uuid).First(&tx).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find wallet transaction")
	}
	return &tx, nil
}

func (r *walletRepo) ListWalletTransactions(ctx context.Context, walletID uint, limit int) ([]*models.WalletTransaction, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var txs []*models.WalletTransaction
	q := gormDB.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list wallet transactions")
	}
	return txs, nil
}

func (r *walletRepo) HasTransactionForReason(ctx context.Context, walletID uint, reason string) (bool, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return false, err
	}
	var count int64
	err = gormDB.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND reason = ? AND status IN ?",
			walletID, reason, []models.WalletTransactionStatus{
				models.TransactionStatusSuccess, models.TransactionStatusPending,
			}).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check transaction reason")
	}
	return count > 0, nil
}

func (r *walletRepo) HasTransactionForEntity(ctx context.Context, walletID uint, reason, entityType string, entityID uint) (bool, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return false, err
	}
	var count int64
	err = gormDB.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("wallet_id = ? AND reason = ? AND related_entity_type = ? AND related_entity_id = ? AND status IN ?",
			walletID, reason, entityType, entityID, []models.WalletTransactionStatus{
				models.TransactionStatusSuccess, models.TransactionStatusPending,
			}).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check transaction entity")
	}
	return count > 0, nil
}

func (r *walletRepo) SettleTransactionSuccess(ctx context.Context, uuid string, ledgerTxID string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WalletTransaction{}).
			Where("uuid = ? AND status = ?", uuid, models.TransactionStatusPending).
			Updates(map[string]interface{}{
				"status":       models.TransactionStatusSuccess,
				"ledger_tx_id": ledgerTxID,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to settle transaction")
		}
		if res.RowsAffected == 0 {
			return ErrTransactionNotPending
		}

		var wtx models.WalletTransaction
		if err := tx.Where("uuid = ?", uuid).First(&wtx).Error; err != nil {
			return errors.Wrap(err, "failed to reload settled transaction")
		}

		updates := map[string]interface{}{
			"balance": gorm.Expr("balance + ?", wtx.Amount),
		}
		if wtx.Amount > 0 {
			updates["total_earned"] = gorm.Expr("total_earned + ?", wtx.Amount)
		}
		err := tx.Model(&models.Wallet{}).
			Where("id = ?", wtx.WalletID).
			Updates(updates).Error
		if err != nil {
			return errors.Wrap(err, "failed to credit wallet")
		}
		return nil
	})
}

func (r *walletRepo) SettleTransactionFailed(ctx context.Context, uuid string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	res := gormDB.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("uuid = ? AND status = ?", uuid, models.TransactionStatusPending).
		Update("status", models.TransactionStatusFailed)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to mark transaction failed")
	}
	if res.RowsAffected == 0 {
		return ErrTransactionNotPending
	}
	return nil
}

func (r *walletRepo) DebitWallet(ctx context.Context, walletID uint, wtx *models.WalletTransaction) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&wallet, walletID).Error; err != nil {
			return errors.Wrap(err, "failed to load wallet")
		}
		if wallet.Balance < -wtx.Amount {
			return errors.New("insufficient balance")
		}
		if err := tx.Create(wtx).Error; err != nil {
			return errors.Wrap(err, "failed to record debit")
		}
		err := tx.Model(&models.Wallet{}).
			Where("id = ?", walletID).
			Updates(map[string]interface{}{
				"balance":     gorm.Expr("balance + ?", wtx.Amount),
				"total_spent": gorm.Expr("total_spent + ?", -wtx.Amount),
			}).Error
		if err != nil {
			return errors.Wrap(err, "failed to debit wallet")
		}
		return nil
	})
}

func (r *walletRepo) StalePendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]*models.WalletTransaction, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var txs []*models.WalletTransaction
	err = gormDB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TransactionStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale pending transactions")
	}
	return txs, nil
}
