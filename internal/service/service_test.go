package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/repositories"
	"example.com/santekene/services/ledger/internal/rewards"
	"example.com/santekene/services/ledger/internal/storage"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu     sync.Mutex
	docs   map[uint]*models.Document
	audits map[uint]*models.AuditLogEntry
	nextID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs:   make(map[uint]*models.Document),
		audits: make(map[uint]*models.AuditLogEntry),
	}
}

func (r *fakeRepo) WithTransaction(ctx context.Context, fn func(context.Context, repositories.Repository) error) error {
	return fn(ctx, r)
}

func (r *fakeRepo) CreateDocument(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	doc.ID = r.nextID
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateDocument(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) FindDocumentByID(_ context.Context, id uint) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeRepo) ListPatientDocuments(_ context.Context, patientID uint, _ int) ([]*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Document
	for _, doc := range r.docs {
		if doc.PatientID == patientID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetDocumentLedgerFileID(_ context.Context, id uint, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.LedgerFileID = &fileID
	}
	return nil
}

func (r *fakeRepo) CreateAuditLogEntry(_ context.Context, entry *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	cp := *entry
	r.audits[entry.ID] = &cp
	return nil
}

func (r *fakeRepo) FindAuditLogEntryByID(_ context.Context, id uint) (*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.audits[id]
	if !ok {
		return nil, errors.New("audit entry not found")
	}
	cp := *entry
	return &cp, nil
}

func (r *fakeRepo) SetAuditLogLedgerTxID(_ context.Context, id uint, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.audits[id]; ok {
		entry.LedgerTxID = &txID
	}
	return nil
}

func (r *fakeRepo) ListAuditLogEntries(_ context.Context, userID uint, _ int) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, entry := range r.audits {
		if userID == 0 || entry.UserID == userID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

type captureJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.LedgerJob
}

func newCaptureJobStore() *captureJobStore {
	return &captureJobStore{jobs: make(map[string]*models.LedgerJob)}
}

func (s *captureJobStore) CreateJob(_ context.Context, job *models.LedgerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.UUID] = &cp
	return nil
}

func (s *captureJobStore) FindJobByUUID(_ context.Context, uuid string) (*models.LedgerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[uuid]
	if !ok {
		return nil, errors.New("job not found")
	}
	cp := *job
	return &cp, nil
}

func (s *captureJobStore) byKind(kind models.JobKind) []*models.LedgerJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerJob
	for _, job := range s.jobs {
		if job.Kind == kind {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out
}

func (s *captureJobStore) NextPendingJobs(context.Context, int) ([]*models.LedgerJob, error) {
	return nil, nil
}
func (s *captureJobStore) ClaimJob(context.Context, string) (*models.LedgerJob, error) {
	return nil, repositories.ErrJobNotClaimed
}
func (s *captureJobStore) MarkJobSucceeded(context.Context, string, string) error { return nil }
func (s *captureJobStore) MarkJobFailed(context.Context, string, string, time.Time) error {
	return nil
}
func (s *captureJobStore) MarkJobDeadLetter(context.Context, string, string) error { return nil }
func (s *captureJobStore) WithdrawJob(context.Context, string) error               { return nil }
func (s *captureJobStore) ReleaseStuckJobs(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (s *captureJobStore) Stats(context.Context) (map[string]int64, error) { return nil, nil }

// fakeLedger serves anchored files from memory without encryption
type fakeLedger struct {
	available bool
	files     map[string][]byte
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{available: true, files: make(map[string][]byte)}
}

func (f *fakeLedger) Available() bool { return f.available }
func (f *fakeLedger) Close() error    { return nil }

func (f *fakeLedger) SubmitToLog(context.Context, []byte) (string, error) {
	return "tx-consensus", nil
}

func (f *fakeLedger) AnchorFile(_ context.Context, content []byte) (string, error) {
	id := "0.0.5005"
	f.files[id] = content
	return id, nil
}

func (f *fakeLedger) FetchFile(_ context.Context, fileID string) ([]byte, error) {
	raw, ok := f.files[fileID]
	if !ok {
		return nil, ledger.ErrLedgerUnavailable
	}
	return raw, nil
}

func (f *fakeLedger) CreateFungibleToken(context.Context, string, string, uint64) (string, error) {
	return "0.0.9999", nil
}

func (f *fakeLedger) TransferToken(context.Context, string, int64, string) (string, error) {
	return "tx-transfer", nil
}

type stubWalletStore struct {
	mu  sync.Mutex
	txs map[string]*models.WalletTransaction
}

func newStubWalletStore() *stubWalletStore {
	return &stubWalletStore{txs: make(map[string]*models.WalletTransaction)}
}

func (s *stubWalletStore) WithTransaction(ctx context.Context, fn func(context.Context, repositories.WalletRepository) error) error {
	return fn(ctx, s)
}

func (s *stubWalletStore) FindOrCreateWallet(_ context.Context, userID uint) (*models.Wallet, error) {
	return &models.Wallet{Model: models.Model{ID: userID}, UserID: userID}, nil
}

func (s *stubWalletStore) FindWalletByUserID(_ context.Context, userID uint) (*models.Wallet, error) {
	return &models.Wallet{Model: models.Model{ID: userID}, UserID: userID}, nil
}

func (s *stubWalletStore) CreateWalletTransaction(_ context.Context, tx *models.WalletTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.UUID] = &cp
	return nil
}

func (s *stubWalletStore) SetTransactionJobID(_ context.Context, uuid string, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[uuid]; ok {
		tx.JobID = &jobID
	}
	return nil
}

func (s *stubWalletStore) FindTransactionByUUID(_ context.Context, uuid string) (*models.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[uuid]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, errors.New("transaction not found")
}

func (s *stubWalletStore) ListWalletTransactions(context.Context, uint, int) ([]*models.WalletTransaction, error) {
	return nil, nil
}

func (s *stubWalletStore) HasTransactionForReason(_ context.Context, walletID uint, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.WalletID == walletID && tx.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubWalletStore) HasTransactionForEntity(_ context.Context, walletID uint, reason, entityType string, entityID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.WalletID == walletID && tx.Reason == reason &&
			tx.RelatedEntityType == entityType && tx.RelatedEntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubWalletStore) SettleTransactionSuccess(context.Context, string, string) error {
	return nil
}
func (s *stubWalletStore) SettleTransactionFailed(context.Context, string) error { return nil }
func (s *stubWalletStore) DebitWallet(context.Context, uint, *models.WalletTransaction) error {
	return nil
}
func (s *stubWalletStore) StalePendingTransactions(context.Context, time.Time, int) ([]*models.WalletTransaction, error) {
	return nil, nil
}

// fakeSearchIndex records indexed entries and serves canned search hits
type fakeSearchIndex struct {
	mu      sync.Mutex
	indexed []*models.AuditLogEntry
	hits    []json.RawMessage
	queries []interface{}
}

func (f *fakeSearchIndex) IndexAuditEntry(_ context.Context, entry *models.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.indexed = append(f.indexed, &cp)
	return nil
}

func (f *fakeSearchIndex) SearchAuditEntries(_ context.Context, query interface{}) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.hits, nil
}

type anchorFixture struct {
	svc    *AnchorService
	repo   *fakeRepo
	jobs   *captureJobStore
	client *fakeLedger
}

func newAnchorFixture(t *testing.T) *anchorFixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store, err := storage.New(config.StorageConfig{LocalPath: t.TempDir()}, log)
	require.NoError(t, err)

	jobs := newCaptureJobStore()
	q := queue.NewService(jobs, config.QueueConfig{MaxAttempts: 5}, log)
	engine := rewards.NewEngine(newStubWalletStore(), q, "test-secret", "test", log)
	repo := newFakeRepo()
	client := newFakeLedger()

	svc := NewAnchorService(repo, store, q, engine, client, nil, nil, "test-secret", "test", log)
	return &anchorFixture{svc: svc, repo: repo, jobs: jobs, client: client}
}

func uploadFixtureDocument(t *testing.T, f *anchorFixture, content []byte) *UploadResult {
	t.Helper()
	result, err := f.svc.UploadDocument(context.Background(), UploadRequest{
		Content:      content,
		Filename:     "analyse-sanguine.pdf",
		MimeType:     "application/pdf",
		DocumentType: "LAB_RESULT",
		PatientID:    11,
		UploaderID:   11,
		UploaderRole: "PATIENT",
	})
	require.NoError(t, err)
	return result
}

func TestUploadDocumentQueuesAnchorAndTrace(t *testing.T) {
	f := newAnchorFixture(t)
	content := []byte("haemoglobin 13.2 g/dL")

	result := uploadFixtureDocument(t, f, content)
	require.True(t, result.Blockchain.Queued)
	require.NotEmpty(t, result.Blockchain.JobID)
	require.Equal(t, ledger.ComputeHash(content), result.Document.Hash)
	require.NotEmpty(t, result.Document.StorageURL)

	anchors := f.jobs.byKind(models.JobKindFileAnchor)
	require.Len(t, anchors, 1)
	require.Equal(t, result.Blockchain.JobID, anchors[0].UUID)
	require.Equal(t, queue.FileAnchorPriority, anchors[0].Priority)
	require.True(t, anchors[0].ScheduledAt.After(time.Now()))

	var payload queue.FileAnchorPayload
	require.NoError(t, json.Unmarshal([]byte(anchors[0].Payload), &payload))
	require.Equal(t, result.Document.ID, payload.DocumentID)
	require.Equal(t, result.Document.Hash, payload.Certificate.Hash)

	// One consensus trace for the upload, one for the points grant
	require.Len(t, f.jobs.byKind(models.JobKindConsensusSubmit), 2)

	require.NotNil(t, result.Reward)
	require.True(t, result.Reward.Success)
	require.Equal(t, int64(5), result.Reward.Amount)

	entries, err := f.repo.ListAuditLogEntries(context.Background(), 11, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(ledger.EventDocumentUploaded), entries[0].Action)
}

func TestVerifyDocumentCleanWithoutAnchor(t *testing.T) {
	f := newAnchorFixture(t)
	result := uploadFixtureDocument(t, f, []byte("glycemie 0.92 g/L"))

	verification, err := f.svc.VerifyDocumentIntegrity(context.Background(), result.Document.ID, nil)
	require.NoError(t, err)
	require.True(t, verification.Verified)
	require.True(t, verification.Database.Valid)
	require.Equal(t, verification.Database.StoredHash, verification.Database.CurrentHash)
	require.False(t, verification.Blockchain.Available)
}

func TestVerifyDocumentDetectsTampering(t *testing.T) {
	f := newAnchorFixture(t)
	result := uploadFixtureDocument(t, f, []byte("glycemie 0.92 g/L"))

	verification, err := f.svc.VerifyDocumentIntegrity(context.Background(), result.Document.ID, []byte("glycemie 1.92 g/L"))
	require.NoError(t, err)
	require.False(t, verification.Verified)
	require.False(t, verification.Database.Valid)
	require.NotEqual(t, verification.Database.StoredHash, verification.Database.CurrentHash)
}

func TestVerifyDocumentAgainstAnchoredCertificate(t *testing.T) {
	f := newAnchorFixture(t)
	result := uploadFixtureDocument(t, f, []byte("tension 12/8"))
	doc := result.Document

	anchors := f.jobs.byKind(models.JobKindFileAnchor)
	require.Len(t, anchors, 1)
	var payload queue.FileAnchorPayload
	require.NoError(t, json.Unmarshal([]byte(anchors[0].Payload), &payload))

	raw, err := json.Marshal(payload.Certificate)
	require.NoError(t, err)
	fileID, err := f.client.AnchorFile(context.Background(), raw)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetDocumentLedgerFileID(context.Background(), doc.ID, fileID))

	verification, err := f.svc.VerifyDocumentIntegrity(context.Background(), doc.ID, nil)
	require.NoError(t, err)
	require.True(t, verification.Verified)
	require.True(t, verification.Blockchain.Available)
	require.True(t, verification.Blockchain.Valid)
	require.Equal(t, doc.Hash, verification.Blockchain.CertificateHash)
}

func TestVerifyDocumentCertificateMismatch(t *testing.T) {
	f := newAnchorFixture(t)
	result := uploadFixtureDocument(t, f, []byte("tension 12/8"))
	doc := result.Document

	forged := ledger.Certificate{Hash: ledger.ComputeHash([]byte("different content"))}
	raw, err := json.Marshal(forged)
	require.NoError(t, err)
	fileID, err := f.client.AnchorFile(context.Background(), raw)
	require.NoError(t, err)
	require.NoError(t, f.repo.SetDocumentLedgerFileID(context.Background(), doc.ID, fileID))

	verification, err := f.svc.VerifyDocumentIntegrity(context.Background(), doc.ID, nil)
	require.NoError(t, err)
	require.False(t, verification.Verified)
	require.True(t, verification.Database.Valid)
	require.True(t, verification.Blockchain.Available)
	require.False(t, verification.Blockchain.Valid)
}

func TestVerifyDegradesWhenLedgerUnavailable(t *testing.T) {
	f := newAnchorFixture(t)
	result := uploadFixtureDocument(t, f, []byte("tension 12/8"))
	doc := result.Document

	require.NoError(t, f.repo.SetDocumentLedgerFileID(context.Background(), doc.ID, "0.0.5005"))
	f.client.available = false

	verification, err := f.svc.VerifyDocumentIntegrity(context.Background(), doc.ID, nil)
	require.NoError(t, err)
	require.True(t, verification.Verified)
	require.True(t, verification.Database.Valid)
	require.False(t, verification.Blockchain.Available)
}

func TestRecordDseAccessGranted(t *testing.T) {
	f := newAnchorFixture(t)

	reward, err := f.svc.RecordDseAccessGranted(context.Background(), DseGrantRequest{
		PatientID:     11,
		DseID:         3,
		GrantedToID:   42,
		GrantedToRole: "MEDECIN",
		Scope:         "CONSULTATIONS",
	})
	require.NoError(t, err)
	require.True(t, reward.Success)
	require.Equal(t, int64(150), reward.Amount)

	entries, err := f.repo.ListAuditLogEntries(context.Background(), 11, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(ledger.EventDseAccessGranted), entries[0].Action)

	// One consensus trace for the grant, one for the points
	require.Len(t, f.jobs.byKind(models.JobKindConsensusSubmit), 2)
	require.Len(t, f.jobs.byKind(models.JobKindTokenTransfer), 1)
}

func TestSearchAuditEntriesDelegatesToIndex(t *testing.T) {
	f := newAnchorFixture(t)
	index := &fakeSearchIndex{hits: []json.RawMessage{
		json.RawMessage(`{"action":"DOCUMENT_UPLOADED","userId":11}`),
	}}
	f.svc.index = index

	query := map[string]interface{}{"size": 10}
	entries, err := f.svc.SearchAuditEntries(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.JSONEq(t, `{"action":"DOCUMENT_UPLOADED","userId":11}`, string(entries[0]))
	require.Len(t, index.queries, 1)
	require.Equal(t, query, index.queries[0])
}

func TestSearchAuditEntriesWithoutIndex(t *testing.T) {
	f := newAnchorFixture(t)

	_, err := f.svc.SearchAuditEntries(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not configured")
}

func TestUploadDocumentIndexesAuditEntry(t *testing.T) {
	f := newAnchorFixture(t)
	index := &fakeSearchIndex{}
	f.svc.index = index

	uploadFixtureDocument(t, f, []byte("haemoglobin 13.2 g/dL"))

	require.Len(t, index.indexed, 1)
	require.Equal(t, string(ledger.EventDocumentUploaded), index.indexed[0].Action)
}
