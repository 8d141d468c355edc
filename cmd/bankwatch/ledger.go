package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/bankwatch/ledger"
	"github.com/ethpandaops/bankwatch/services"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Reconstruct balances from bank events",
	Long:  "Fetches the bank events of the configured block window once and prints the ranked balances as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLedger(cmd)
	},
}

func init() {
	ledgerCmd.Flags().Int("limit", 0, "Maximum number of ranked accounts to print, 0 prints all")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpcClient, err := newRPCClient(ctx, cfg)
	if err != nil {
		return err
	}

	bankService, err := newBankService(ctx, cfg, rpcClient, services.NewRPCHeadSource(rpcClient), logger)
	if err != nil {
		return err
	}

	snapshot, err := bankService.GetLedger(ctx)
	if err != nil {
		return err
	}

	ranking := snapshot.Ranking
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(ranking) > limit {
		ranking = ranking[:limit]
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		*services.LedgerSnapshot
		Ranking []*ledger.AccountBalance `json:"ranking"`
	}{snapshot, ranking})
}
