package service

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/santekene/services/ledger/internal/cache"
	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/repositories"
	"example.com/santekene/services/ledger/internal/rewards"
	"example.com/santekene/services/ledger/internal/search"
	"example.com/santekene/services/ledger/internal/storage"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AnchorService implements the document anchoring pipeline: store, record,
// certify, queue. All ledger traffic goes through the job queue so uploads
// return as soon as local persistence completes.
type AnchorService struct {
	repo        repositories.Repository
	store       storage.Store
	queue       *queue.Service
	rewards     *rewards.Engine
	client      ledger.Client
	cache       cache.RedisClient
	index       search.Client
	hmacSecret  string
	environment string
	log         *logrus.Logger
}

// NewAnchorService creates the anchor service. cache and index may be nil.
func NewAnchorService(
	repo repositories.Repository,
	store storage.Store,
	q *queue.Service,
	engine *rewards.Engine,
	client ledger.Client,
	cacheClient cache.RedisClient,
	index search.Client,
	hmacSecret, environment string,
	log *logrus.Logger,
) *AnchorService {
	return &AnchorService{
		repo:        repo,
		store:       store,
		queue:       q,
		rewards:     engine,
		client:      client,
		cache:       cacheClient,
		index:       index,
		hmacSecret:  hmacSecret,
		environment: environment,
		log:         log,
	}
}

// UploadRequest carries an incoming document
type UploadRequest struct {
	Content      []byte
	Filename     string
	MimeType     string
	DocumentType string
	PatientID    uint
	UploaderID   uint
	UploaderRole string
}

// BlockchainStatus reports the asynchronous anchoring state in responses
type BlockchainStatus struct {
	Queued bool   `json:"queued"`
	JobID  string `json:"jobId,omitempty"`
}

// UploadResult is returned once local persistence has completed
type UploadResult struct {
	Document   *models.Document `json:"document"`
	Blockchain BlockchainStatus `json:"blockchain"`
	Reward     *rewards.Result  `json:"reward,omitempty"`
}

// UploadDocument stores the content, records the document and audit rows,
// and queues the certificate anchor plus the consensus trace. Ledger
// failures after this point never undo the local records.
func (s *AnchorService) UploadDocument(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	hash := ledger.ComputeHash(req.Content)

	url, size, err := s.store.Upload(ctx, req.Content, req.Filename, req.MimeType, map[string]string{
		"hash": hash,
	})
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		PatientID:    req.PatientID,
		UploaderID:   req.UploaderID,
		UploaderRole: req.UploaderRole,
		Name:         req.Filename,
		Type:         req.DocumentType,
		MimeType:     req.MimeType,
		Size:         size,
		Hash:         hash,
		StorageURL:   url,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	entry := &models.AuditLogEntry{
		Action:     string(ledger.EventDocumentUploaded),
		UserID:     req.UploaderID,
		EntityType: string(ledger.EntityDocument),
		EntityID:   doc.ID,
		Details:    fmt.Sprintf("document %q (%s, %d bytes)", req.Filename, req.DocumentType, size),
	}
	if err := s.repo.CreateAuditLogEntry(ctx, entry); err != nil {
		return nil, err
	}
	s.indexAudit(ctx, entry)

	cert := ledger.BuildCertificate(req.Content, req.Filename, req.MimeType, url,
		req.UploaderID, req.UploaderRole, string(ledger.EntityDocument), doc.ID)
	jobID, err := s.queue.AddFileAnchorJob(ctx, queue.FileAnchorPayload{
		DocumentID:  doc.ID,
		Certificate: cert,
	})
	if err != nil {
		return nil, err
	}

	s.enqueueAuditEnvelope(ctx, entry, hash, func(b *ledger.EnvelopeBuilder) {
		b.WithMetadata("documentType", req.DocumentType).
			WithMetadata("mimeType", req.MimeType).
			WithMetadata("size", size).
			WithMetadata("filename", req.Filename)
	})

	reward, err := s.rewards.RewardDocumentUploaded(ctx, req.UploaderID, doc.ID)
	if err != nil {
		// The upload stands, the reward can be replayed
		s.log.WithError(err).WithField("document_id", doc.ID).Error("Failed to grant upload reward")
		reward = nil
	}

	return &UploadResult{
		Document:   doc,
		Blockchain: BlockchainStatus{Queued: true, JobID: jobID},
		Reward:     reward,
	}, nil
}

// GetDocument returns a document row
func (s *AnchorService) GetDocument(ctx context.Context, id uint) (*models.Document, error) {
	return s.repo.FindDocumentByID(ctx, id)
}

// DownloadDocument returns the stored content of a document
func (s *AnchorService) DownloadDocument(ctx context.Context, id uint) (*models.Document, []byte, error) {
	doc, err := s.repo.FindDocumentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.store.Download(ctx, doc.StorageURL)
	if err != nil {
		return nil, nil, err
	}
	return doc, content, nil
}

// ListPatientDocuments lists the most recent documents for a patient
func (s *AnchorService) ListPatientDocuments(ctx context.Context, patientID uint, limit int) ([]*models.Document, error) {
	return s.repo.ListPatientDocuments(ctx, patientID, limit)
}

// DatabaseCheck reports the local hash comparison
type DatabaseCheck struct {
	Valid       bool   `json:"valid"`
	StoredHash  string `json:"storedHash"`
	CurrentHash string `json:"currentHash"`
}

// BlockchainCheck reports the anchored certificate comparison
type BlockchainCheck struct {
	Available       bool   `json:"available"`
	Valid           bool   `json:"valid"`
	CertificateHash string `json:"certificateHash,omitempty"`
}

// VerificationResult is the verification endpoint contract
type VerificationResult struct {
	Verified   bool            `json:"verified"`
	Database   DatabaseCheck   `json:"database"`
	Blockchain BlockchainCheck `json:"blockchain"`
}

// VerifyDocumentIntegrity recomputes the document hash and compares it with
// the stored one and, when an anchor exists, with the anchored certificate.
// Mismatches are reported, never corrected.
func (s *AnchorService) VerifyDocumentIntegrity(ctx context.Context, id uint, content []byte) (*VerificationResult, error) {
	doc, err := s.repo.FindDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if content == nil {
		content, err = s.store.Download(ctx, doc.StorageURL)
		if err != nil {
			return nil, err
		}
	}
	currentHash := ledger.ComputeHash(content)

	result := &VerificationResult{
		Database: DatabaseCheck{
			Valid:       currentHash == doc.Hash,
			StoredHash:  doc.Hash,
			CurrentHash: currentHash,
		},
	}

	cert := s.fetchCertificate(ctx, doc)
	if cert != nil {
		result.Blockchain = BlockchainCheck{
			Available:       true,
			Valid:           cert.Hash == doc.Hash,
			CertificateHash: cert.Hash,
		}
	}

	result.Verified = result.Database.Valid && (!result.Blockchain.Available || result.Blockchain.Valid)
	return result, nil
}

// fetchCertificate loads the anchored certificate, from cache when warm,
// returning nil when no anchor exists or the ledger is unreachable.
func (s *AnchorService) fetchCertificate(ctx context.Context, doc *models.Document) *ledger.Certificate {
	if doc.LedgerFileID == nil || *doc.LedgerFileID == "" {
		return nil
	}

	if s.cache != nil {
		var cached ledger.Certificate
		if err := cache.GetJSON(ctx, s.cache, cache.CertificateKey(doc.ID), &cached); err == nil {
			return &cached
		}
	}

	if !s.client.Available() {
		return nil
	}
	raw, err := s.client.FetchFile(ctx, *doc.LedgerFileID)
	if err != nil {
		s.log.WithError(err).WithField("document_id", doc.ID).Warn("Failed to fetch anchored certificate")
		return nil
	}
	var cert ledger.Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		s.log.WithError(err).WithField("document_id", doc.ID).Warn("Anchored certificate is malformed")
		return nil
	}
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cache.CertificateKey(doc.ID), cert, 0); err != nil {
			s.log.WithError(err).Warn("Failed to cache certificate")
		}
	}
	return &cert
}

// DseGrantRequest records a patient sharing their health record
type DseGrantRequest struct {
	PatientID     uint
	DseID         uint
	GrantedToID   uint
	GrantedToRole string
	Scope         string
}

// RecordDseAccessGranted records a record-sharing grant in the audit log,
// queues the consensus trace and rewards the patient.
func (s *AnchorService) RecordDseAccessGranted(ctx context.Context, req DseGrantRequest) (*rewards.Result, error) {
	entry := &models.AuditLogEntry{
		Action:     string(ledger.EventDseAccessGranted),
		UserID:     req.PatientID,
		EntityType: string(ledger.EntityDse),
		EntityID:   req.DseID,
		Details:    fmt.Sprintf("access granted to user %d (%s)", req.GrantedToID, req.GrantedToRole),
	}
	if err := s.repo.CreateAuditLogEntry(ctx, entry); err != nil {
		return nil, err
	}
	s.indexAudit(ctx, entry)

	s.enqueueAuditEnvelope(ctx, entry, ledger.ComputeHash([]byte(entry.Details)), func(b *ledger.EnvelopeBuilder) {
		b.WithMetadata("grantedToId", req.GrantedToID).
			WithMetadata("grantedToRole", req.GrantedToRole)
		if req.Scope != "" {
			b.WithMetadata("scope", req.Scope)
		}
	})

	return s.rewards.RewardDseShared(ctx, req.PatientID, req.DseID)
}

// enqueueAuditEnvelope builds and queues the consensus envelope for an
// audit entry, best-effort: the audit row is already durable.
func (s *AnchorService) enqueueAuditEnvelope(ctx context.Context, entry *models.AuditLogEntry, dataHash string, decorate func(*ledger.EnvelopeBuilder)) {
	builder := ledger.NewEnvelopeBuilder(s.hmacSecret).
		WithEvent(ledger.EventType(entry.Action)).
		WithEntity(ledger.EntityType(entry.EntityType), entry.EntityID).
		WithActor(entry.UserID, "USER").
		WithDataHash(dataHash).
		WithEnvironment(s.environment)
	if decorate != nil {
		decorate(builder)
	}
	envelope, err := builder.Build()
	if err != nil {
		s.log.WithError(err).WithField("audit_id", entry.ID).Error("Failed to build audit envelope")
		return
	}
	if _, err := s.queue.AddConsensusJob(ctx, queue.ConsensusPayload{
		Envelope:   envelope,
		AuditLogID: entry.ID,
	}); err != nil {
		s.log.WithError(err).WithField("audit_id", entry.ID).Error("Failed to enqueue audit envelope")
	}
}

// SearchAuditEntries runs a raw query against the audit index. Fails when
// no search cluster is configured.
func (s *AnchorService) SearchAuditEntries(ctx context.Context, query interface{}) ([]json.RawMessage, error) {
	if s.index == nil {
		return nil, errors.New("audit search is not configured")
	}
	return s.index.SearchAuditEntries(ctx, query)
}

func (s *AnchorService) indexAudit(ctx context.Context, entry *models.AuditLogEntry) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexAuditEntry(ctx, entry); err != nil {
		s.log.WithError(err).Warn("Failed to index audit entry")
	}
}
