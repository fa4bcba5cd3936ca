package ledger

import "github.com/pkg/errors"

var (
	// ErrLedgerUnavailable indicates the network cannot be reached or the
	// call timed out. Callers treat this as retryable.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrLedgerNotConfigured indicates the operation needs operator,
	// topic or token configuration that is absent. No retry can fix it.
	ErrLedgerNotConfigured = errors.New("ledger not configured")

	// ErrLedgerRejected indicates the network processed the transaction
	// and returned a non-success receipt.
	ErrLedgerRejected = errors.New("ledger rejected transaction")

	// ErrEncryptionKeyMissing indicates a file anchor was requested
	// without an AES key configured.
	ErrEncryptionKeyMissing = errors.New("encryption key missing")

	// ErrIncompleteEnvelope indicates Build was called before all
	// required envelope fields were set.
	ErrIncompleteEnvelope = errors.New("incomplete envelope")
)
