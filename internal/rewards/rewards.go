package rewards

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/santekene/services/ledger/internal/ledger"
	"example.com/santekene/services/ledger/internal/models"
	"example.com/santekene/services/ledger/internal/queue"
	"example.com/santekene/services/ledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Action identifies a rewardable platform action
type Action string

const (
	ActionConsultationCompleted Action = "CONSULTATION_COMPLETED"
	ActionDocumentUploaded      Action = "DOCUMENT_UPLOADED"
	ActionDseShared             Action = "DSE_SHARED"
	ActionAppointmentCompleted  Action = "APPOINTMENT_COMPLETED"
	ActionPrescriptionFollowed  Action = "PRESCRIPTION_FOLLOWED"
	ActionFirstLogin            Action = "FIRST_LOGIN"
	ActionProfileCompleted      Action = "PROFILE_COMPLETED"
	ActionReferralSuccess       Action = "REFERRAL_SUCCESS"
	ActionFeedbackProvided      Action = "FEEDBACK_PROVIDED"
)

// Rule fixes the KènèPoints amount and user-facing message for one action.
// A zero amount disables the action.
type Rule struct {
	Action  Action `json:"action"`
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
	// OneTime actions are granted at most once per user regardless of entity
	OneTime bool `json:"oneTime"`
}

// rules is the static reward table. Amounts are policy, reviewed with the
// medical team before changes.
var rules = map[Action]Rule{
	ActionConsultationCompleted: {ActionConsultationCompleted, 150, "Consultation terminée : +150 KènèPoints", false},
	ActionDocumentUploaded:      {ActionDocumentUploaded, 5, "Document ajouté au DSE : +5 KènèPoints", false},
	ActionDseShared:             {ActionDseShared, 150, "DSE partagé avec un professionnel : +150 KènèPoints", false},
	ActionAppointmentCompleted:  {ActionAppointmentCompleted, 100, "Rendez-vous honoré : +100 KènèPoints", false},
	ActionPrescriptionFollowed:  {ActionPrescriptionFollowed, 25, "Ordonnance suivie : +25 KènèPoints", false},
	ActionFirstLogin:            {ActionFirstLogin, 0, "", true},
	ActionProfileCompleted:      {ActionProfileCompleted, 200, "Profil complété : +200 KènèPoints", true},
	ActionReferralSuccess:       {ActionReferralSuccess, 400, "Parrainage réussi : +400 KènèPoints", false},
	ActionFeedbackProvided:      {ActionFeedbackProvided, 40, "Avis partagé : +40 KènèPoints", false},
}

// Rules returns the reward table for display
func Rules() []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r)
	}
	return out
}

// Result reports the outcome of a reward attempt. A rejected reward is not
// an error, Success is simply false with the reason in Message.
type Result struct {
	Success       bool   `json:"success"`
	Amount        int64  `json:"amount"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Engine grants KènèPoints for platform actions. All ledger traffic goes
// through the job queue; the engine only writes local rows.
type Engine struct {
	wallets     repositories.WalletRepository
	queue       *queue.Service
	hmacSecret  string
	environment string
	log         *logrus.Logger
}

// NewEngine creates a reward engine
func NewEngine(wallets repositories.WalletRepository, q *queue.Service, hmacSecret, environment string, log *logrus.Logger) *Engine {
	return &Engine{
		wallets:     wallets,
		queue:       q,
		hmacSecret:  hmacSecret,
		environment: environment,
		log:         log,
	}
}

// Reward grants the points configured for action to userID. Duplicate
// grants are rejected against both settled and still-pending transactions,
// so a burst of identical calls produces exactly one credit.
func (e *Engine) Reward(ctx context.Context, userID uint, action Action, entityType string, entityID uint, meta map[string]string) (*Result, error) {
	rule, ok := rules[action]
	if !ok {
		return &Result{Success: false, Message: fmt.Sprintf("unknown action %s", action)}, nil
	}
	if rule.Amount <= 0 {
		return &Result{Success: false, Message: fmt.Sprintf("action %s is disabled", action)}, nil
	}

	wallet, err := e.wallets.FindOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	reason := string(action)
	var duplicate bool
	if rule.OneTime {
		duplicate, err = e.wallets.HasTransactionForReason(ctx, wallet.ID, reason)
	} else {
		duplicate, err = e.wallets.HasTransactionForEntity(ctx, wallet.ID, reason, entityType, entityID)
	}
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &Result{Success: false, Message: "already rewarded"}, nil
	}

	metaJSON := encodeMeta(meta)
	wtx := &models.WalletTransaction{
		UUID:              uuid.NewString(),
		WalletID:          wallet.ID,
		Type:              models.TransactionTypeReward,
		Amount:            rule.Amount,
		Reason:            reason,
		RelatedEntityType: entityType,
		RelatedEntityID:   entityID,
		Status:            models.TransactionStatusPending,
		Metadata:          metaJSON,
	}
	if err := e.wallets.CreateWalletTransaction(ctx, wtx); err != nil {
		return nil, err
	}

	jobID, err := e.queue.AddTokenTransferJob(ctx, queue.TokenTransferPayload{
		WalletTxUUID: wtx.UUID,
		UserID:       userID,
		Amount:       rule.Amount,
		Reason:       reason,
		EntityType:   entityType,
		EntityID:     entityID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.wallets.SetTransactionJobID(ctx, wtx.UUID, jobID); err != nil {
		e.log.WithError(err).WithField("wallet_tx", wtx.UUID).Warn("Failed to link transfer job")
	}

	e.logPointsAwarded(ctx, userID, wallet.ID, rule.Amount, reason, wtx.UUID)

	e.log.WithFields(logrus.Fields{
		"user_id": userID,
		"action":  action,
		"amount":  rule.Amount,
	}).Info("Reward granted")
	return &Result{
		Success:       true,
		Amount:        rule.Amount,
		Message:       rule.Message,
		TransactionID: wtx.UUID,
	}, nil
}

// logPointsAwarded enqueues the consensus trace of the grant, best-effort
func (e *Engine) logPointsAwarded(ctx context.Context, userID, walletID uint, amount int64, reason, txUUID string) {
	envelope, err := ledger.NewEnvelopeBuilder(e.hmacSecret).
		WithEvent(ledger.EventPointsAwarded).
		WithEntity(ledger.EntityWallet, walletID).
		WithActor(userID, "USER").
		WithDataHash(ledger.ComputeHash([]byte(txUUID))).
		WithEnvironment(e.environment).
		WithMetadata("amount", amount).
		WithMetadata("reason", reason).
		WithMetadata("transactionId", txUUID).
		Build()
	if err != nil {
		e.log.WithError(err).Error("Failed to build points envelope")
		return
	}
	if _, err := e.queue.AddConsensusJob(ctx, queue.ConsensusPayload{Envelope: envelope}); err != nil {
		e.log.WithError(err).Error("Failed to enqueue points envelope")
	}
}

func encodeMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(raw)
}

// RewardConsultationCompleted grants the consultation completion reward
func (e *Engine) RewardConsultationCompleted(ctx context.Context, userID, consultationID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionConsultationCompleted, string(ledger.EntityConsultation), consultationID, nil)
}

// RewardDocumentUploaded grants the document upload reward
func (e *Engine) RewardDocumentUploaded(ctx context.Context, userID, documentID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionDocumentUploaded, string(ledger.EntityDocument), documentID, nil)
}

// RewardDseShared grants the record sharing reward
func (e *Engine) RewardDseShared(ctx context.Context, userID, dseID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionDseShared, string(ledger.EntityDse), dseID, nil)
}

// RewardAppointmentCompleted grants the honored appointment reward
func (e *Engine) RewardAppointmentCompleted(ctx context.Context, userID, appointmentID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionAppointmentCompleted, string(ledger.EntityAppointment), appointmentID, nil)
}

// RewardPrescriptionFollowed grants the prescription adherence reward
func (e *Engine) RewardPrescriptionFollowed(ctx context.Context, userID, prescriptionID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionPrescriptionFollowed, string(ledger.EntityPrescription), prescriptionID, nil)
}

// RewardFirstLogin is currently disabled by the rule table
func (e *Engine) RewardFirstLogin(ctx context.Context, userID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionFirstLogin, string(ledger.EntityUser), userID, nil)
}

// RewardProfileCompleted grants the one-time profile completion reward
func (e *Engine) RewardProfileCompleted(ctx context.Context, userID uint) (*Result, error) {
	return e.Reward(ctx, userID, ActionProfileCompleted, string(ledger.EntityUser), userID, nil)
}
