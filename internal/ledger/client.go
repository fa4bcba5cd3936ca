package ledger

import (
	"context"
	"time"

	"example.com/santekene/services/ledger/config"

	"github.com/hashgraph/hedera-sdk-go/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// fileChunkSize is the largest payload a single file transaction carries;
// larger payloads are split across append transactions.
const fileChunkSize = 5120

// Client is the interface to the distributed ledger. All methods block
// until the network acknowledges the transaction or ctx expires.
type Client interface {
	// Available reports whether the client is configured and can reach the network
	Available() bool

	// SubmitToLog submits a message to the consensus audit topic and
	// returns the consensus transaction id.
	SubmitToLog(ctx context.Context, message []byte) (string, error)

	// AnchorFile encrypts content and stores it on the ledger file
	// service, returning the file id.
	AnchorFile(ctx context.Context, content []byte) (string, error)

	// FetchFile retrieves and decrypts a previously anchored file
	FetchFile(ctx context.Context, fileID string) ([]byte, error)

	// CreateFungibleToken creates the platform points token, one-shot administrative call
	CreateFungibleToken(ctx context.Context, name, symbol string, initialSupply uint64) (string, error)

	// TransferToken moves token units from the operator treasury to an
	// account, stamping the transfer memo on the ledger record.
	TransferToken(ctx context.Context, to string, amount int64, memo string) (string, error)

	// Close releases the underlying network client
	Close() error
}

type hederaClient struct {
	client      *hedera.Client
	operatorID  hedera.AccountID
	topicID     hedera.TopicID
	tokenID     hedera.TokenID
	hasTopic    bool
	hasToken    bool
	cipher      *FileCipher
	maxFee      hedera.Hbar
	callTimeout time.Duration
	log         *logrus.Logger
}

// NewClient builds a ledger client from configuration. When no operator is
// configured the returned client reports unavailable and every call fails
// with ErrLedgerNotConfigured, mirroring how the service degrades without a
// service-bus connection.
func NewClient(cfg config.HederaConfig, log *logrus.Logger) (Client, error) {
	if cfg.OperatorID == "" || cfg.OperatorKey == "" {
		log.Warn("Ledger operator not configured, client will report unavailable")
		return &unavailableClient{}, nil
	}

	operatorID, err := hedera.AccountIDFromString(cfg.OperatorID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid operator account id")
	}
	operatorKey, err := hedera.PrivateKeyFromString(cfg.OperatorKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid operator key")
	}

	var client *hedera.Client
	switch cfg.Network {
	case "mainnet":
		client = hedera.ClientForMainnet()
	default:
		client = hedera.ClientForTestnet()
	}
	client.SetOperator(operatorID, operatorKey)

	c := &hederaClient{
		client:      client,
		operatorID:  operatorID,
		maxFee:      hedera.NewHbar(cfg.MaxFeeHbar),
		callTimeout: cfg.CallTimeout,
		log:         log,
	}

	if cfg.TopicID != "" {
		topicID, err := hedera.TopicIDFromString(cfg.TopicID)
		if err != nil {
			return nil, errors.Wrap(err, "invalid topic id")
		}
		c.topicID = topicID
		c.hasTopic = true
	}
	if cfg.TokenID != "" {
		tokenID, err := hedera.TokenIDFromString(cfg.TokenID)
		if err != nil {
			return nil, errors.Wrap(err, "invalid token id")
		}
		c.tokenID = tokenID
		c.hasToken = true
	}
	if cfg.EncryptionKey != "" {
		cipher, err := NewFileCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		c.cipher = cipher
	}

	log.WithFields(logrus.Fields{
		"network":  cfg.Network,
		"operator": cfg.OperatorID,
	}).Info("Ledger client initialized")
	return c, nil
}

func (c *hederaClient) Available() bool {
	return true
}

func (c *hederaClient) Close() error {
	return c.client.Close()
}

// call runs fn on a goroutine so SDK calls honor ctx cancellation.
// A positive timeout bounds the single call independently of ctx.
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(ErrLedgerUnavailable, ctx.Err().Error())
	case r := <-ch:
		return r.value, r.err
	}
}

func (c *hederaClient) SubmitToLog(ctx context.Context, message []byte) (string, error) {
	if !c.hasTopic {
		return "", errors.Wrap(ErrLedgerNotConfigured, "no consensus topic")
	}
	return call(ctx, c.callTimeout, func() (string, error) {
		resp, err := hedera.NewTopicMessageSubmitTransaction().
			SetTopicID(c.topicID).
			SetMessage(message).
			Execute(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		receipt, err := resp.GetReceipt(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		if receipt.Status != hedera.StatusSuccess {
			return "", errors.Wrapf(ErrLedgerRejected, "status %s", receipt.Status)
		}
		return resp.TransactionID.String(), nil
	})
}

func (c *hederaClient) AnchorFile(ctx context.Context, content []byte) (string, error) {
	if c.cipher == nil {
		return "", ErrEncryptionKeyMissing
	}
	encrypted, err := c.cipher.Encrypt(content)
	if err != nil {
		return "", err
	}

	return call(ctx, c.callTimeout, func() (string, error) {
		first := encrypted
		if len(first) > fileChunkSize {
			first = encrypted[:fileChunkSize]
		}

		resp, err := hedera.NewFileCreateTransaction().
			SetKeys(c.client.GetOperatorPublicKey()).
			SetContents(first).
			SetMemo("santekene integrity certificate").
			SetMaxTransactionFee(c.maxFee).
			Execute(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		receipt, err := resp.GetReceipt(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		if receipt.Status != hedera.StatusSuccess || receipt.FileID == nil {
			return "", errors.Wrapf(ErrLedgerRejected, "status %s", receipt.Status)
		}
		fileID := *receipt.FileID

		for offset := fileChunkSize; offset < len(encrypted); offset += fileChunkSize {
			end := offset + fileChunkSize
			if end > len(encrypted) {
				end = len(encrypted)
			}
			appendResp, err := hedera.NewFileAppendTransaction().
				SetFileID(fileID).
				SetContents(encrypted[offset:end]).
				SetMaxTransactionFee(c.maxFee).
				Execute(c.client)
			if err != nil {
				return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
			}
			appendReceipt, err := appendResp.GetReceipt(c.client)
			if err != nil {
				return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
			}
			if appendReceipt.Status != hedera.StatusSuccess {
				return "", errors.Wrapf(ErrLedgerRejected, "append status %s", appendReceipt.Status)
			}
		}

		return fileID.String(), nil
	})
}

func (c *hederaClient) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	if c.cipher == nil {
		return nil, ErrEncryptionKeyMissing
	}
	id, err := hedera.FileIDFromString(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid file id")
	}
	encrypted, err := call(ctx, c.callTimeout, func() ([]byte, error) {
		contents, err := hedera.NewFileContentsQuery().
			SetFileID(id).
			Execute(c.client)
		if err != nil {
			return nil, errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		return contents, nil
	})
	if err != nil {
		return nil, err
	}
	return c.cipher.Decrypt(encrypted)
}

func (c *hederaClient) CreateFungibleToken(ctx context.Context, name, symbol string, initialSupply uint64) (string, error) {
	return call(ctx, c.callTimeout, func() (string, error) {
		tx, err := hedera.NewTokenCreateTransaction().
			SetTokenName(name).
			SetTokenSymbol(symbol).
			SetTokenType(hedera.TokenTypeFungibleCommon).
			SetDecimals(0).
			SetInitialSupply(initialSupply).
			SetTreasuryAccountID(c.operatorID).
			SetAdminKey(c.client.GetOperatorPublicKey()).
			SetSupplyKey(c.client.GetOperatorPublicKey()).
			SetMaxTransactionFee(hedera.NewHbar(30)).
			FreezeWith(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		resp, err := tx.Execute(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		receipt, err := resp.GetReceipt(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		if receipt.Status != hedera.StatusSuccess || receipt.TokenID == nil {
			return "", errors.Wrapf(ErrLedgerRejected, "status %s", receipt.Status)
		}
		return receipt.TokenID.String(), nil
	})
}

func (c *hederaClient) TransferToken(ctx context.Context, to string, amount int64, memo string) (string, error) {
	if !c.hasToken {
		return "", errors.Wrap(ErrLedgerNotConfigured, "no token")
	}
	recipient, err := hedera.AccountIDFromString(to)
	if err != nil {
		return "", errors.Wrap(err, "invalid recipient account id")
	}
	return call(ctx, c.callTimeout, func() (string, error) {
		resp, err := hedera.NewTransferTransaction().
			AddTokenTransfer(c.tokenID, c.operatorID, -amount).
			AddTokenTransfer(c.tokenID, recipient, amount).
			SetTransactionMemo(memo).
			SetMaxTransactionFee(c.maxFee).
			Execute(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		receipt, err := resp.GetReceipt(c.client)
		if err != nil {
			return "", errors.Wrap(ErrLedgerUnavailable, err.Error())
		}
		if receipt.Status != hedera.StatusSuccess {
			return "", errors.Wrapf(ErrLedgerRejected, "status %s", receipt.Status)
		}
		return resp.TransactionID.String(), nil
	})
}

// unavailableClient stands in when no operator credentials are configured
type unavailableClient struct{}

func (u *unavailableClient) Available() bool { return false }
func (u *unavailableClient) Close() error    { return nil }

func (u *unavailableClient) SubmitToLog(context.Context, []byte) (string, error) {
	return "", ErrLedgerNotConfigured
}

func (u *unavailableClient) AnchorFile(context.Context, []byte) (string, error) {
	return "", ErrLedgerNotConfigured
}

func (u *unavailableClient) FetchFile(context.Context, string) ([]byte, error) {
	return nil, ErrLedgerNotConfigured
}

func (u *unavailableClient) CreateFungibleToken(context.Context, string, string, uint64) (string, error) {
	return "", ErrLedgerNotConfigured
}

func (u *unavailableClient) TransferToken(context.Context, string, int64, string) (string, error) {
	return "", ErrLedgerNotConfigured
}
