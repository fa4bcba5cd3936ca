package cmd

import (
	"context"
	"time"

	"example.com/santekene/services/ledger/config"
	"example.com/santekene/services/ledger/internal/ledger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	tokenName          string
	tokenSymbol        string
	tokenInitialSupply uint64
)

// createTokenCmd creates the KènèPoints fungible token. One-shot
// administrative command; record the resulting token id in configuration.
var createTokenCmd = &cobra.Command{
	Use:   "create-token",
	Short: "Create the points token on the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client, err := ledger.NewClient(cfg.Hedera, log)
		if err != nil {
			return err
		}
		defer client.Close()

		if !client.Available() {
			return errors.New("ledger operator is not configured")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		tokenID, err := client.CreateFungibleToken(ctx, tokenName, tokenSymbol, tokenInitialSupply)
		if err != nil {
			return err
		}

		log.WithField("token_id", tokenID).Info("Token created, set LEDGER_HEDERA_TOKENID to this value")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createTokenCmd)

	createTokenCmd.Flags().StringVar(&tokenName, "name", "KènèPoints", "Token name")
	createTokenCmd.Flags().StringVar(&tokenSymbol, "symbol", "KNP", "Token symbol")
	createTokenCmd.Flags().Uint64Var(&tokenInitialSupply, "initial-supply", 1_000_000_000, "Initial supply in whole units")
}
