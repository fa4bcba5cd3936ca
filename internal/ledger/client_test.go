package ledger

import (
	"context"
	"testing"
	"time"

	"example.com/santekene/services/ledger/config"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestCallReturnsValue(t *testing.T) {
	got, err := call(context.Background(), 0, func() (string, error) {
		return "tx-0.0.1234@1700000000", nil
	})
	require.NoError(t, err)
	require.Equal(t, "tx-0.0.1234@1700000000", got)
}

func TestCallHonorsTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := call(context.Background(), 20*time.Millisecond, func() (string, error) {
		<-block
		return "", nil
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLedgerUnavailable))
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestCallHonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := call(ctx, time.Minute, func() (string, error) {
		<-block
		return "", nil
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrLedgerUnavailable))
}

func TestUnconfiguredClientReportsNotConfigured(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	client, err := NewClient(config.HederaConfig{}, log)
	require.NoError(t, err)
	require.False(t, client.Available())

	_, err = client.SubmitToLog(context.Background(), []byte("x"))
	require.True(t, errors.Is(err, ErrLedgerNotConfigured))
	require.False(t, errors.Is(err, ErrLedgerUnavailable))

	_, err = client.TransferToken(context.Background(), "0.0.5005", 10, "memo")
	require.True(t, errors.Is(err, ErrLedgerNotConfigured))
}
