package queue

import (
	"context"
	"encoding/json"

	"example.com/santekene/services/ledger/internal/cache"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/messaging"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/repositories"
	"example.com/santekene/services/ledger/internal/search"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConsensusHandler submits signed envelopes to the consensus log and
// back-fills the resulting transaction id on the audit entry.
type ConsensusHandler struct {
	client ledger.Client
	repo   repositories.Repository
	index  search.Client
	log    *logrus.Logger
}

// NewConsensusHandler creates the consensus submit handler. index may be
// nil when no search cluster is configured.
func NewConsensusHandler(client ledger.Client, repo repositories.Repository, index search.Client, log *logrus.Logger) *ConsensusHandler {
	return &ConsensusHandler{client: client, repo: repo, index: index, log: log}
}

func (h *ConsensusHandler) Kind() models.JobKind {
	return models.JobKindConsensusSubmit
}

func (h *ConsensusHandler) Execute(ctx context.Context, job *models.LedgerJob) (string, error) {
	var payload ConsensusPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", errors.Wrap(err, "malformed consensus payload")
	}
	message, err := payload.Envelope.Serialize()
	if err != nil {
		return "", err
	}
	return h.client.SubmitToLog(ctx, message)
}

func (h *ConsensusHandler) OnSuccess(ctx context.Context, job *models.LedgerJob, result string) {
	var payload ConsensusPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return
	}
	if payload.AuditLogID == 0 {
		return
	}
	if err := h.repo.SetAuditLogLedgerTxID(ctx, payload.AuditLogID, result); err != nil {
		h.log.WithError(err).WithField("audit_id", payload.AuditLogID).Error("Failed to back-fill audit tx id")
		return
	}
	if h.index == nil {
		return
	}
	entry, err := h.repo.FindAuditLogEntryByID(ctx, payload.AuditLogID)
	if err != nil {
		return
	}
	if err := h.index.IndexAuditEntry(ctx, entry); err != nil {
		h.log.WithError(err).Warn("Failed to reindex audit entry")
	}
}

func (h *ConsensusHandler) OnDeadLetter(ctx context.Context, job *models.LedgerJob) {
	// The audit row stays valid without a consensus anchor
	h.log.WithField("job_id", job.UUID).Warn("Consensus submission abandoned")
}

// FileAnchorHandler stores encrypted integrity certificates on the ledger
// file service and records the file id on the document.
type FileAnchorHandler struct {
	client ledger.Client
	repo   repositories.Repository
	cache  cache.RedisClient
	log    *logrus.Logger
}

// NewFileAnchorHandler creates the file anchor handler. cacheClient may be nil.
func NewFileAnchorHandler(client ledger.Client, repo repositories.Repository, cacheClient cache.RedisClient, log *logrus.Logger) *FileAnchorHandler {
	return &FileAnchorHandler{client: client, repo: repo, cache: cacheClient, log: log}
}

func (h *FileAnchorHandler) Kind() models.JobKind {
	return models.JobKindFileAnchor
}

func (h *FileAnchorHandler) Execute(ctx context.Context, job *models.LedgerJob) (string, error) {
	var payload FileAnchorPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", errors.Wrap(err, "malformed file anchor payload")
	}
	content, err := json.Marshal(payload.Certificate)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode certificate")
	}
	return h.client.AnchorFile(ctx, content)
}

func (h *FileAnchorHandler) OnSuccess(ctx context.Context, job *models.LedgerJob, result string) {
	var payload FileAnchorPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return
	}
	if err := h.repo.SetDocumentLedgerFileID(ctx, payload.DocumentID, result); err != nil {
		h.log.WithError(err).WithField("document_id", payload.DocumentID).Error("Failed to record anchored file id")
		return
	}
	if h.cache != nil {
		key := cache.CertificateKey(payload.DocumentID)
		if err := cache.SetJSON(ctx, h.cache, key, payload.Certificate, 0); err != nil {
			h.log.WithError(err).Warn("Failed to cache certificate")
		}
	}
}

func (h *FileAnchorHandler) OnDeadLetter(ctx context.Context, job *models.LedgerJob) {
	// Document and storage object stay in place, only the anchor is missing
	h.log.WithField("job_id", job.UUID).Warn("File anchor abandoned")
}

// TokenTransferHandler settles pending wallet transactions by moving token
// units on the ledger. Users without a ledger account are served from the
// platform custody account.
type TokenTransferHandler struct {
	client    ledger.Client
	wallets   repositories.WalletRepository
	cache     cache.RedisClient
	bus       messaging.ServiceBusClient
	custodyID string
	log       *logrus.Logger
}

// NewTokenTransferHandler creates the token transfer handler
func NewTokenTransferHandler(client ledger.Client, wallets repositories.WalletRepository, cacheClient cache.RedisClient, bus messaging.ServiceBusClient, custodyID string, log *logrus.Logger) *TokenTransferHandler {
	return &TokenTransferHandler{
		client:    client,
		wallets:   wallets,
		cache:     cacheClient,
		bus:       bus,
		custodyID: custodyID,
		log:       log,
	}
}

func (h *TokenTransferHandler) Kind() models.JobKind {
	return models.JobKindTokenTransfer
}

func (h *TokenTransferHandler) Execute(ctx context.Context, job *models.LedgerJob) (string, error) {
	var payload TokenTransferPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", errors.Wrap(err, "malformed token transfer payload")
	}

	wallet, err := h.wallets.FindWalletByUserID(ctx, payload.UserID)
	if err != nil {
		return "", err
	}
	recipient := h.custodyID
	if wallet.LedgerAccountID != nil && *wallet.LedgerAccountID != "" {
		recipient = *wallet.LedgerAccountID
	}
	if recipient == "" {
		return "", errors.New("no recipient account for transfer")
	}

	// The memo ties the ledger record back to the wallet transaction
	return h.client.TransferToken(ctx, recipient, payload.Amount, payload.WalletTxUUID)
}

func (h *TokenTransferHandler) OnSuccess(ctx context.Context, job *models.LedgerJob, result string) {
	var payload TokenTransferPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return
	}
	err := h.wallets.SettleTransactionSuccess(ctx, payload.WalletTxUUID, result)
	if err != nil && !errors.Is(err, repositories.ErrTransactionNotPending) {
		h.log.WithError(err).WithField("wallet_tx", payload.WalletTxUUID).Error("Failed to settle transaction")
		return
	}
	if h.cache != nil {
		if err := h.cache.Delete(ctx, cache.WalletBalanceKey(payload.UserID)); err != nil {
			h.log.WithError(err).Warn("Failed to invalidate balance cache")
		}
	}
	if err := h.bus.PublishEvent(ctx, messaging.EventRewardSettled, map[string]interface{}{
		"walletTxUuid": payload.WalletTxUUID,
		"userId":       payload.UserID,
		"amount":       payload.Amount,
		"ledgerTxId":   result,
	}); err != nil {
		h.log.WithError(err).Warn("Failed to publish reward settled event")
	}
}

func (h *TokenTransferHandler) OnDeadLetter(ctx context.Context, job *models.LedgerJob) {
	var payload TokenTransferPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return
	}
	err := h.wallets.SettleTransactionFailed(ctx, payload.WalletTxUUID)
	if err != nil && !errors.Is(err, repositories.ErrTransactionNotPending) {
		h.log.WithError(err).WithField("wallet_tx", payload.WalletTxUUID).Error("Failed to fail transaction")
	}
}
