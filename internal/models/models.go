package models

import (
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Document model mirrors an uploaded medical document. The content itself
// lives in object storage; the row keeps the hash and the anchoring state.
type Document struct {
	Model
	PatientID    uint    `json:"patient_id" gorm:"Column:patient_id;index"`
	UploaderID   uint    `json:"uploader_id" gorm:"Column:uploader_id"`
	UploaderRole string  `json:"uploader_role" gorm:"Column:uploader_role"`
	Name         string  `json:"name" gorm:"Column:name"`
	Type         string  `json:"type" gorm:"Column:type"`
	MimeType     string  `json:"mime_type" gorm:"Column:mime_type"`
	Size         int64   `json:"size" gorm:"Column:size"`
	Hash         string  `json:"hash" gorm:"Column:hash;index"`
	StorageURL   string  `json:"storage_url" gorm:"Column:storage_url"`
	LedgerFileID *string `json:"ledger_file_id" gorm:"Column:ledger_file_id"`
}

// AuditLogEntry model records platform actions. Entries destined for the
// consensus log get their LedgerTxID back-filled once the submit job succeeds.
type AuditLogEntry struct {
	Model
	Action     string  `json:"action" gorm:"Column:action;index"`
	UserID     uint    `json:"user_id" gorm:"Column:user_id;index"`
	EntityType string  `json:"entity_type" gorm:"Column:entity_type"`
	EntityID   uint    `json:"entity_id" gorm:"Column:entity_id"`
	Details    string  `json:"details" gorm:"Column:details;type:text"`
	LedgerTxID *string `json:"ledger_tx_id" gorm:"Column:ledger_tx_id"`
}

// Wallet model holds the cached KènèPoints balance for a user
type Wallet struct {
	Model
	UserID          uint    `json:"user_id" gorm:"uniqueIndex;Column:user_id"`
	Balance         int64   `json:"balance" gorm:"Column:balance"`
	TotalEarned     int64   `json:"total_earned" gorm:"Column:total_earned"`
	TotalSpent      int64   `json:"total_spent" gorm:"Column:total_spent"`
	LedgerAccountID *string `json:"ledger_account_id" gorm:"Column:ledger_account_id"`
}

// WalletTransactionType is an enum for wallet transaction types
type WalletTransactionType string

const (
	// TransactionTypeReward represents points credited for a rewarded action
	TransactionTypeReward WalletTransactionType = "REWARD"
	// TransactionTypeTransfer represents a transfer between users
	TransactionTypeTransfer WalletTransactionType = "TRANSFER"
	// TransactionTypeDebit represents points spent on the platform
	TransactionTypeDebit WalletTransactionType = "DEBIT"
)

// WalletTransactionStatus is an enum for wallet transaction states
type WalletTransactionStatus string

const (
	// TransactionStatusPending represents a transaction awaiting ledger confirmation
	TransactionStatusPending WalletTransactionStatus = "PENDING"
	// TransactionStatusSuccess represents a confirmed transaction
	TransactionStatusSuccess WalletTransactionStatus = "SUCCESS"
	// TransactionStatusFailed represents a transaction the ledger never confirmed
	TransactionStatusFailed WalletTransactionStatus = "FAILED"
)

// WalletTransaction model represents a single wallet movement. Rows are
// created PENDING before the corresponding ledger job is enqueued and
// resolved to SUCCESS or FAILED by the queue handlers.
type WalletTransaction struct {
	Model
	UUID              string                  `json:"uuid" gorm:"uniqueIndex;Column:uuid"`
	Wallet            *Wallet                 `json:"-" gorm:"foreignKey:WalletID"`
	WalletID          uint                    `json:"wallet_id" gorm:"Column:wallet_id;index"`
	Type              WalletTransactionType   `json:"type" gorm:"Column:type"`
	Amount            int64                   `json:"amount" gorm:"Column:amount"`
	Reason            string                  `json:"reason" gorm:"Column:reason;index"`
	RelatedEntityType string                  `json:"related_entity_type" gorm:"Column:related_entity_type"`
	RelatedEntityID   uint                    `json:"related_entity_id" gorm:"Column:related_entity_id"`
	Status            WalletTransactionStatus `json:"status" gorm:"Column:status;index"`
	Metadata          string                  `json:"metadata" gorm:"Column:metadata;type:text"`
	LedgerTxID        *string                 `json:"ledger_tx_id" gorm:"Column:ledger_tx_id"`
	JobID             *string                 `json:"job_id" gorm:"Column:job_id"`
}

// JobKind is an enum for durable ledger job kinds
type JobKind string

const (
	// JobKindConsensusSubmit submits an audit envelope to the consensus log
	JobKindConsensusSubmit JobKind = "CONSENSUS_SUBMIT"
	// JobKindFileAnchor anchors an integrity certificate to the file service
	JobKindFileAnchor JobKind = "FILE_ANCHOR"
	// JobKindTokenTransfer settles a pending wallet transaction on the ledger
	JobKindTokenTransfer JobKind = "TOKEN_TRANSFER"
)

// JobStatus is an enum for durable ledger job states
type JobStatus string

const (
	// JobStatusPending represents a job waiting to be claimed
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning represents a job claimed by a worker
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusSucceeded represents a completed job
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	// JobStatusFailed represents a failed attempt awaiting retry
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusDeadLetter represents a job whose attempts are exhausted
	JobStatusDeadLetter JobStatus = "DEAD_LETTER"
)

// LedgerJob model is a row in the durable job queue. Attempts is incremented
// when a worker claims the job, so attempts never exceeds max_attempts.
type LedgerJob struct {
	UUID        string     `json:"uuid" gorm:"primary_key;Column:uuid"`
	CreatedAt   time.Time  `json:"created_at" gorm:"Column:created_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"Column:updated_at"`
	Kind        JobKind    `json:"kind" gorm:"Column:kind;index"`
	Payload     string     `json:"payload" gorm:"Column:payload;type:text"`
	Priority    int        `json:"priority" gorm:"Column:priority;default:5"`
	Attempts    int        `json:"attempts" gorm:"Column:attempts"`
	MaxAttempts int        `json:"max_attempts" gorm:"Column:max_attempts;default:5"`
	ScheduledAt time.Time  `json:"scheduled_at" gorm:"Column:scheduled_at;index"`
	Status      JobStatus  `json:"status" gorm:"Column:status;index"`
	LastError   string     `json:"last_error" gorm:"Column:last_error;type:text"`
	Result      string     `json:"result" gorm:"Column:result;type:text"`
	StartedAt   *time.Time `json:"started_at" gorm:"Column:started_at"`
	CompletedAt *time.Time `json:"completed_at" gorm:"Column:completed_at"`
}

// Terminal reports whether the job can no longer change state
func (j *LedgerJob) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusDeadLetter
}
