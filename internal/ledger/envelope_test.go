package ledger

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func completeBuilder() *EnvelopeBuilder {
	return NewEnvelopeBuilder(testSecret).
		WithEvent(EventDocumentUploaded).
		WithEntity(EntityDocument, 12).
		WithActor(42, "DOCTOR").
		WithDataHash(ComputeHash([]byte("content")))
}

func TestBuildCompleteEnvelope(t *testing.T) {
	env, err := completeBuilder().
		WithMetadata("documentType", "PRESCRIPTION").
		WithMetadata("size", 2048).
		Build()
	require.NoError(t, err)

	require.Equal(t, EnvelopeVersion, env.Version)
	require.Equal(t, EventDocumentUploaded, env.EventType)
	require.Equal(t, uint(12), env.EntityID)
	require.NotEmpty(t, env.Timestamp)
	require.NotEmpty(t, env.Signature)
}

func TestBuildIncompleteEnvelope(t *testing.T) {
	_, err := NewEnvelopeBuilder(testSecret).
		WithEvent(EventDocumentUploaded).
		Build()

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIncompleteEnvelope))
	require.Contains(t, err.Error(), "entityType")
	require.Contains(t, err.Error(), "actor")
	require.Contains(t, err.Error(), "dataHash")
}

func TestBuildRejectsStructuredMetadata(t *testing.T) {
	_, err := completeBuilder().
		WithMetadata("documentType", map[string]string{"nested": "value"}).
		Build()

	require.Error(t, err)
	require.Contains(t, err.Error(), "not scalar")
}

func TestBuildRejectsUnknownMetadataKey(t *testing.T) {
	_, err := completeBuilder().
		WithMetadata("patientSsn", "should-never-be-logged").
		Build()

	require.Error(t, err)
	require.Contains(t, err.Error(), "not allowed")
}

func TestSignatureVerification(t *testing.T) {
	env, err := completeBuilder().Build()
	require.NoError(t, err)

	ok, err := VerifyEnvelopeSignature(env, testSecret)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyEnvelopeSignature(env, "wrong-secret")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignatureDetectsTampering(t *testing.T) {
	env, err := completeBuilder().Build()
	require.NoError(t, err)

	env.DataHash = ComputeHash([]byte("altered content"))

	ok, err := VerifyEnvelopeSignature(env, testSecret)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnsignedEnvelopeDoesNotVerify(t *testing.T) {
	env, err := NewEnvelopeBuilder("").
		WithEvent(EventDseAccessGranted).
		WithEntity(EntityDse, 3).
		WithActor(7, "PATIENT").
		WithDataHash(ComputeHash([]byte("grant"))).
		Build()
	require.NoError(t, err)
	require.Empty(t, env.Signature)

	ok, err := VerifyEnvelopeSignature(env, testSecret)
	require.NoError(t, err)
	require.False(t, ok)
}
