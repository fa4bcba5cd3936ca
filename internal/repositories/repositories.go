package repositories

import (
	"context"

	"example.com/santekene/services/ledger/internal/database"
	"example.com/santekene/services/ledger/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Repository provides data access methods for documents and the audit log
type Repository interface {
	// Transaction support
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocument(ctx context.Context, doc *models.Document) error
	FindDocumentByID(ctx context.Context, id uint) (*models.Document, error)
	ListPatientDocuments(ctx context.Context, patientID uint, limit int) ([]*models.Document, error)
	SetDocumentLedgerFileID(ctx context.Context, id uint, fileID string) error

	// AuditLogEntry operations
	CreateAuditLogEntry(ctx context.Context, entry *models.AuditLogEntry) error
	FindAuditLogEntryByID(ctx context.Context, id uint) (*models.AuditLogEntry, error)
	SetAuditLogLedgerTxID(ctx context.Context, id uint, txID string) error
	ListAuditLogEntries(ctx context.Context, userID uint, limit int) ([]*models.AuditLogEntry, error)
}

// repo is an implementation of the Repository interface
type repo struct {
	db database.DB
}

// Helper type for transaction support
type dbWrapper struct {
	db *gorm.DB
}

func (w *dbWrapper) DB() (*gorm.DB, error) {
	return w.db, nil
}

func (w *dbWrapper) Close() error {
	return nil
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{
		db: db,
	}
}

// WithTransaction runs fn inside a database transaction
func (r *repo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get DB instance")
	}
	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &repo{db: &dbWrapper{db: tx}}
		return fn(ctx, txRepo)
	})
}

// CreateDocument persists a new document row
func (r *repo) CreateDocument(ctx context.Context, doc *models.Document) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := gormDB.WithContext(ctx).Create(doc).Error; err != nil {
		return errors.Wrap(err, "failed to create document")
	}
	return nil
}

// UpdateDocument saves an existing document row
func (r *repo) UpdateDocument(ctx context.Context, doc *models.Document) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := gormDB.WithContext(ctx).Save(doc).Error; err != nil {
		return errors.Wrap(err, "failed to update document")
	}
	return nil
}

// FindDocumentByID finds a document by its id
func (r *repo) FindDocumentByID(ctx context.Context, id uint) (*models.Document, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := gormDB.WithContext(ctx).First(&doc, id).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find document")
	}
	return &doc, nil
}

// ListPatientDocuments lists the most recent documents for a patient
func (r *repo) ListPatientDocuments(ctx context.Context, patientID uint, limit int) ([]*models.Document, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var docs []*models.Document
	q := gormDB.WithContext(ctx).Where("patient_id = ?", patientID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list patient documents")
	}
	return docs, nil
}

// SetDocumentLedgerFileID back-fills the anchored file id on a document
func (r *repo) SetDocumentLedgerFileID(ctx context.Context, id uint, fileID string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = gormDB.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", id).
		Update("ledger_file_id", fileID).Error
	if err != nil {
		return errors.Wrap(err, "failed to set document ledger file id")
	}
	return nil
}

// CreateAuditLogEntry persists a new audit log entry
func (r *repo) CreateAuditLogEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := gormDB.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.Wrap(err, "failed to create audit log entry")
	}
	return nil
}

// FindAuditLogEntryByID finds an audit log entry by its id
func (r *repo) FindAuditLogEntryByID(ctx context.Context, id uint) (*models.AuditLogEntry, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var entry models.AuditLogEntry
	if err := gormDB.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find audit log entry")
	}
	return &entry, nil
}

// SetAuditLogLedgerTxID back-fills the consensus transaction id on an entry
func (r *repo) SetAuditLogLedgerTxID(ctx context.Context, id uint, txID string) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = gormDB.WithContext(ctx).
		Model(&models.AuditLogEntry{}).
		Where("id = ?", id).
		Update("ledger_tx_id", txID).Error
	if err != nil {
		return errors.Wrap(err, "failed to set audit log ledger tx id")
	}
	return nil
}

// ListAuditLogEntries lists the most recent audit entries for a user
func (r *repo) ListAuditLogEntries(ctx context.Context, userID uint, limit int) ([]*models.AuditLogEntry, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	var entries []*models.AuditLogEntry
	q := gormDB.WithContext(ctx).Order("created_at DESC")
	if userID > 0 {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list audit log entries")
	}
	return entries, nil
}
