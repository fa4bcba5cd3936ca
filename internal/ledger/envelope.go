package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EnvelopeVersion is the wire version of the consensus envelope format
const EnvelopeVersion = "1.0"

// EventType identifies the platform action an envelope records
type EventType string

const (
	EventConsultationCreated   EventType = "CONSULTATION_CREATED"
	EventConsultationCompleted EventType = "CONSULTATION_COMPLETED"
	EventPrescriptionIssued    EventType = "PRESCRIPTION_ISSUED"
	EventDocumentUploaded      EventType = "DOCUMENT_UPLOADED"
	EventDocumentDeleted       EventType = "DOCUMENT_DELETED"
	EventDseAccessGranted      EventType = "DSE_ACCESS_GRANTED"
	EventDseAccessRevoked      EventType = "DSE_ACCESS_REVOKED"
	EventAppointmentCreated    EventType = "APPOINTMENT_CREATED"
	EventAppointmentCompleted  EventType = "APPOINTMENT_COMPLETED"
	EventPointsAwarded         EventType = "POINTS_AWARDED"
	EventPointsSpent           EventType = "POINTS_SPENT"
	EventAdminAction           EventType = "ADMIN_ACTION"
)

// EntityType identifies the kind of record an envelope refers to
type EntityType string

const (
	EntityConsultation EntityType = "CONSULTATION"
	EntityPrescription EntityType = "PRESCRIPTION"
	EntityDocument     EntityType = "DOCUMENT"
	EntityDse          EntityType = "DSE"
	EntityAppointment  EntityType = "APPOINTMENT"
	EntityWallet       EntityType = "WALLET"
	EntityUser         EntityType = "USER"
)

// Envelope is the message submitted to the consensus log. It carries a hash
// of the underlying data, never the data itself.
type Envelope struct {
	Version     string            `json:"version"`
	EventType   EventType         `json:"eventType"`
	EntityType  EntityType        `json:"entityType"`
	EntityID    uint              `json:"entityId"`
	ActorID     uint              `json:"actorId"`
	ActorRole   string            `json:"actorRole"`
	DataHash    string            `json:"dataHash"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Timestamp   string            `json:"timestamp"`
	Signature   string            `json:"signature,omitempty"`
}

// allowedMetadataKeys restricts which metadata keys each event type may
// carry. Event types absent from the map accept any scalar metadata.
var allowedMetadataKeys = map[EventType]map[string]bool{
	EventDocumentUploaded: {
		"documentType": true, "mimeType": true, "size": true, "filename": true,
	},
	EventDseAccessGranted: {
		"grantedToId": true, "grantedToRole": true, "scope": true, "expiresAt": true,
	},
	EventDseAccessRevoked: {
		"revokedFromId": true, "reason": true,
	},
	EventPointsAwarded: {
		"amount": true, "reason": true, "transactionId": true,
	},
	EventPointsSpent: {
		"amount": true, "reason": true, "transactionId": true,
	},
	EventConsultationCompleted: {
		"doctorId": true, "patientId": true, "durationMinutes": true,
	},
	EventAppointmentCompleted: {
		"doctorId": true, "patientId": true,
	},
}

// EnvelopeBuilder assembles consensus envelopes field by field.
// Build validates completeness and metadata shape and signs the result.
type EnvelopeBuilder struct {
	envelope Envelope
	secret   []byte
	metaErrs []string
}

// NewEnvelopeBuilder creates a builder. The secret signs the envelope;
// an empty secret produces unsigned envelopes.
func NewEnvelopeBuilder(secret string) *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: Envelope{Version: EnvelopeVersion},
		secret:   []byte(secret),
	}
}

// WithEvent sets the event type
func (b *EnvelopeBuilder) WithEvent(eventType EventType) *EnvelopeBuilder {
	b.envelope.EventType = eventType
	return b
}

// WithEntity sets the entity reference
func (b *EnvelopeBuilder) WithEntity(entityType EntityType, entityID uint) *EnvelopeBuilder {
	b.envelope.EntityType = entityType
	b.envelope.EntityID = entityID
	return b
}

// WithActor sets the acting user and their role
func (b *EnvelopeBuilder) WithActor(actorID uint, role string) *EnvelopeBuilder {
	b.envelope.ActorID = actorID
	b.envelope.ActorRole = role
	return b
}

// WithDataHash sets the digest of the underlying data
func (b *EnvelopeBuilder) WithDataHash(hash string) *EnvelopeBuilder {
	b.envelope.DataHash = hash
	return b
}

// WithEnvironment tags the envelope with the emitting environment
func (b *EnvelopeBuilder) WithEnvironment(env string) *EnvelopeBuilder {
	b.envelope.Environment = env
	return b
}

// WithMetadata adds a metadata pair. Values must be scalar; structured
// values are rejected at Build time.
func (b *EnvelopeBuilder) WithMetadata(key string, value any) *EnvelopeBuilder {
	if b.envelope.Metadata == nil {
		b.envelope.Metadata = make(map[string]any)
	}
	if !isScalar(value) {
		b.metaErrs = append(b.metaErrs, fmt.Sprintf("metadata %q is not scalar", key))
		return b
	}
	b.envelope.Metadata[key] = value
	return b
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// Build validates the envelope, stamps it and signs it. Missing required
// fields yield ErrIncompleteEnvelope naming every absent field.
func (b *EnvelopeBuilder) Build() (*Envelope, error) {
	var missing []string
	if b.envelope.EventType == "" {
		missing = append(missing, "eventType")
	}
	if b.envelope.EntityType == "" {
		missing = append(missing, "entityType")
	}
	if b.envelope.ActorID == 0 {
		missing = append(missing, "actor")
	}
	if b.envelope.DataHash == "" {
		missing = append(missing, "dataHash")
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrIncompleteEnvelope, "missing %s", strings.Join(missing, ", "))
	}

	if len(b.metaErrs) > 0 {
		return nil, errors.Errorf("invalid metadata: %s", strings.Join(b.metaErrs, "; "))
	}
	if allowed, ok := allowedMetadataKeys[b.envelope.EventType]; ok {
		for key := range b.envelope.Metadata {
			if !allowed[key] {
				return nil, errors.Errorf("invalid metadata: key %q not allowed for %s", key, b.envelope.EventType)
			}
		}
	}

	env := b.envelope
	env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if len(b.secret) > 0 {
		sig, err := signEnvelope(&env, b.secret)
		if err != nil {
			return nil, err
		}
		env.Signature = sig
	}
	return &env, nil
}

// Serialize returns the envelope as JSON for submission to the consensus log
func (e *Envelope) Serialize() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize envelope")
	}
	return data, nil
}

// canonicalize renders the envelope with key-sorted JSON and the signature
// field removed, so signing and verification agree on the exact bytes.
func canonicalize(e *Envelope) ([]byte, error) {
	unsigned := *e
	unsigned.Signature = ""
	raw, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "failed to canonicalize envelope")
	}
	delete(m, "signature")
	// encoding/json sorts map keys deterministically
	return json.Marshal(m)
}

func signEnvelope(e *Envelope, secret []byte) (string, error) {
	canonical, err := canonicalize(e)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyEnvelopeSignature recomputes the envelope signature and compares it
// in constant time with the embedded one.
func VerifyEnvelopeSignature(e *Envelope, secret string) (bool, error) {
	if e.Signature == "" {
		return false, nil
	}
	expected, err := signEnvelope(e, []byte(secret))
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(e.Signature)), nil
}
