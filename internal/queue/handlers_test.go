package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/repositories"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type settleRecordingWalletStore struct {
	settled map[string]string
	failed  map[string]bool
}

func newSettleRecordingWalletStore() *settleRecordingWalletStore {
	return &settleRecordingWalletStore{
		settled: make(map[string]string),
		failed:  make(map[string]bool),
	}
}

func (s *settleRecordingWalletStore) SettleTransactionSuccess(_ context.Context, uuid, ledgerTxID string) error {
	if _, ok := s.settled[uuid]; ok {
		return repositories.ErrTransactionNotPending
	}
	s.settled[uuid] = ledgerTxID
	return nil
}

func (s *settleRecordingWalletStore) SettleTransactionFailed(_ context.Context, uuid string) error {
	s.failed[uuid] = true
	return nil
}

func (s *settleRecordingWalletStore) WithTransaction(ctx context.Context, fn func(context.Context, repositories.WalletRepository) error) error {
	return fn(ctx, s)
}

func (s *settleRecordingWalletStore) FindOrCreateWallet(context.Context, uint) (*models.Wallet, error) {
	return nil, errors.New("not implemented")
}

func (s *settleRecordingWalletStore) FindWalletByUserID(context.Context, uint) (*models.Wallet, error) {
	return nil, errors.New("not implemented")
}

func (s *settleRecordingWalletStore) CreateWalletTransaction(context.Context, *models.WalletTransaction) error {
	return nil
}

func (s *settleRecordingWalletStore) SetTransactionJobID(context.Context, string, string) error {
	return nil
}

func (s *settleRecordingWalletStore) FindTransactionByUUID(context.Context, string) (*models.WalletTransaction, error) {
	return nil, errors.New("not implemented")
}

func (s *settleRecordingWalletStore) ListWalletTransactions(context.Context, uint, int) ([]*models.WalletTransaction, error) {
	return nil, nil
}

func (s *settleRecordingWalletStore) HasTransactionForReason(context.Context, uint, string) (bool, error) {
	return false, nil
}

func (s *settleRecordingWalletStore) HasTransactionForEntity(context.Context, uint, string, string, uint) (bool, error) {
	return false, nil
}

func (s *settleRecordingWalletStore) DebitWallet(context.Context, uint, *models.WalletTransaction) error {
	return nil
}

func (s *settleRecordingWalletStore) StalePendingTransactions(context.Context, time.Time, int) ([]*models.WalletTransaction, error) {
	return nil, nil
}

func transferJob(t *testing.T, payload TokenTransferPayload) *models.LedgerJob {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.LedgerJob{
		UUID:    "job-transfer",
		Kind:    models.JobKindTokenTransfer,
		Payload: string(raw),
	}
}

func TestTokenTransferOnSuccessSettlesAndPublishes(t *testing.T) {
	wallets := newSettleRecordingWalletStore()
	bus := &recordingBus{}
	h := NewTokenTransferHandler(nil, wallets, nil, bus, "0.0.9000", testLogger())

	job := transferJob(t, TokenTransferPayload{WalletTxUUID: "wtx-1", UserID: 42, Amount: 150})
	h.OnSuccess(context.Background(), job, "tx-0.0.1234@1700000000")

	require.Equal(t, "tx-0.0.1234@1700000000", wallets.settled["wtx-1"])
	require.Equal(t, 1, bus.count("ledger.reward.settled"))
}

func TestTokenTransferOnSuccessPublishesForAlreadySettled(t *testing.T) {
	wallets := newSettleRecordingWalletStore()
	wallets.settled["wtx-1"] = "tx-earlier"
	bus := &recordingBus{}
	h := NewTokenTransferHandler(nil, wallets, nil, bus, "0.0.9000", testLogger())

	// The reconciliation sweep may settle first, the event still goes out
	job := transferJob(t, TokenTransferPayload{WalletTxUUID: "wtx-1", UserID: 42, Amount: 150})
	h.OnSuccess(context.Background(), job, "tx-0.0.1234@1700000000")

	require.Equal(t, "tx-earlier", wallets.settled["wtx-1"])
	require.Equal(t, 1, bus.count("ledger.reward.settled"))
}

func TestTokenTransferOnDeadLetterFailsTransaction(t *testing.T) {
	wallets := newSettleRecordingWalletStore()
	bus := &recordingBus{}
	h := NewTokenTransferHandler(nil, wallets, nil, bus, "0.0.9000", testLogger())

	job := transferJob(t, TokenTransferPayload{WalletTxUUID: "wtx-1", UserID: 42, Amount: 150})
	h.OnDeadLetter(context.Background(), job)

	require.True(t, wallets.failed["wtx-1"])
	require.Zero(t, bus.count("ledger.reward.settled"))
}
