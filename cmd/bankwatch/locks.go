package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/bankwatch/services"
	"github.com/ethpandaops/bankwatch/slots"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Decode the lock records of a contract",
	Long:  "Reads the LockInfo array at the given storage slot once and prints the decoded records as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocks(cmd)
	},
}

func init() {
	locksCmd.Flags().String("contract", "", "Contract address, defaults to the configured locks contract")
	locksCmd.Flags().String("slot", "", "Base storage slot (decimal or 0x hex), defaults to the configured lock slot")
	rootCmd.AddCommand(locksCmd)
}

func runLocks(cmd *cobra.Command) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	contract := locksContract(cfg)
	if contractStr, _ := cmd.Flags().GetString("contract"); contractStr != "" {
		if !common.IsHexAddress(contractStr) {
			return fmt.Errorf("invalid contract address: %q", contractStr)
		}
		contract = common.HexToAddress(contractStr)
	}

	slotStr, _ := cmd.Flags().GetString("slot")
	if slotStr == "" {
		slotStr = cfg.Bank.LockSlot
	}
	slot, err := slots.ParseSlot(slotStr)
	if err != nil {
		return fmt.Errorf("invalid slot %q: %w", slotStr, err)
	}

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

	result, err := bankService.GetLockRecords(ctx, contract, slot)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
