package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/bankwatch/cache"
	"github.com/ethpandaops/bankwatch/clients/execution/rpc"
	"github.com/ethpandaops/bankwatch/contracts"
	"github.com/ethpandaops/bankwatch/ledger"
	"github.com/ethpandaops/bankwatch/services"
	"github.com/ethpandaops/bankwatch/slots"
	"github.com/ethpandaops/bankwatch/types"
	"github.com/ethpandaops/bankwatch/utils"
)

// loadConfig reads and validates the config named by the --config flag and sets up logging.
func loadConfig(cmd *cobra.Command) (*types.Config, *utils.LogWriter, logrus.FieldLogger, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg := &types.Config{}
	err := utils.ReadConfig(cfg, configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error reading config file: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %v", err)
	}
	utils.Config = cfg

	logWriter, logger := utils.InitLogger(cfg)
	logger.WithFields(logrus.Fields{
		"config":  configPath,
		"version": utils.GetBuildVersion(),
		"command": cmd.Name(),
	}).Info("starting")

	return cfg, logWriter, logger, nil
}

func storageLayout(cfg *types.Config) slots.StructLayout {
	return slots.StructLayout{
		Stride:    cfg.Storage.Stride,
		Owner:     slots.FieldSpec{Word: cfg.Storage.OwnerWord, Kind: slots.FieldAddress},
		StartTime: slots.FieldSpec{Word: cfg.Storage.StartTimeWord, Kind: slots.FieldUint, Bits: cfg.Storage.StartTimeBits},
		Amount:    slots.FieldSpec{Word: cfg.Storage.AmountWord, Kind: slots.FieldUint, Bits: cfg.Storage.AmountBits},
	}
}

func eventKinds(cfg *types.Config) ([]ledger.EventKind, error) {
	kinds := make([]ledger.EventKind, 0, len(cfg.Bank.EventKinds))
	for _, name := range cfg.Bank.EventKinds {
		kind, err := ledger.ParseEventKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func locksContract(cfg *types.Config) common.Address {
	if cfg.Bank.LocksContract != "" {
		return common.HexToAddress(cfg.Bank.LocksContract)
	}
	return common.HexToAddress(cfg.Bank.BankContract)
}

// newRPCClient dials the configured endpoint for commands that run without head tracking.
func newRPCClient(ctx context.Context, cfg *types.Config) (*rpc.ExecutionClient, error) {
	rpcClient, err := rpc.NewExecutionClient(cfg.ExecutionApi.Name, cfg.ExecutionApi.Endpoint, cfg.ExecutionApi.Headers, cfg.ExecutionApi.CallTimeout)
	if err != nil {
		return nil, err
	}
	if err := rpcClient.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to %v: %w", cfg.ExecutionApi.Endpoint, err)
	}
	return rpcClient, nil
}

func newPermitStore(ctx context.Context, cfg *types.Config, logger logrus.FieldLogger) (*services.PermitStore, error) {
	if !cfg.Permits.Enabled {
		return nil, nil
	}

	var backend cache.RemoteCache
	if cfg.Permits.RedisAddr != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		redisCache, err := cache.InitRedisCache(connectCtx, cfg.Permits.RedisAddr, cfg.Permits.Prefix)
		if err != nil {
			return nil, fmt.Errorf("error connecting to permit redis: %w", err)
		}
		backend = redisCache
	} else {
		logger.Warn("no permit redis configured, permits are kept in memory")
		backend = cache.NewLocalCache(10, cfg.Permits.Prefix)
	}

	return services.NewPermitStore(backend, cfg.Permits.Ttl, logger.WithField("module", "permits")), nil
}

// newBankService wires the storage resolver, balance cache and ledger builder on top of rpcClient.
func newBankService(ctx context.Context, cfg *types.Config, rpcClient *rpc.ExecutionClient, head services.HeadSource, logger logrus.FieldLogger) (*services.BankService, error) {
	bankAddress := common.HexToAddress(cfg.Bank.BankContract)

	kinds, err := eventKinds(cfg)
	if err != nil {
		return nil, err
	}

	var tokenFilter *common.Address
	if cfg.Bank.TokenFilter != "" {
		token := common.HexToAddress(cfg.Bank.TokenFilter)
		tokenFilter = &token
	}

	ledgerLogger := logger.WithField("module", "ledger")
	aggregator := ledger.NewAggregator(rpcClient, ledgerLogger, ledger.AggregatorOptions{
		BatchSize: cfg.ExecutionApi.LogBatchSize,
	})
	reconstructor := ledger.NewReconstructor(ledgerLogger, ledger.ReconstructorOptions{
		Token: tokenFilter,
	})
	ledgerBuilder := services.NewEventLedgerBuilder(aggregator, reconstructor, bankAddress, kinds, cfg.Bank.EventWindow, ledgerLogger)

	balances := services.NewBalanceCache(rpcClient, contracts.NewTokenBank(rpcClient, bankAddress), head, ledgerBuilder, logger.WithField("module", "balances"), services.BalanceCacheOptions{
		TTL:         cfg.Cache.Ttl,
		BlockGrace:  cfg.Cache.BlockGrace,
		CallTimeout: cfg.Cache.CallTimeout,
	})

	resolver := slots.NewResolver(rpcClient, logger.WithField("module", "slots"), slots.ResolverOptions{
		Strict:          cfg.Storage.StrictDecode,
		MaxElements:     cfg.Storage.MaxElements,
		ReadConcurrency: cfg.Storage.ReadConcurrency,
	})

	lockCache, err := cache.NewTieredCache(cfg.Cache.LocalCacheSize, cfg.Cache.RedisCacheAddr, cfg.Cache.RedisCachePrefix)
	if err != nil {
		return nil, fmt.Errorf("error initializing lock record cache: %w", err)
	}

	permits, err := newPermitStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	layout := storageLayout(cfg)
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage layout: %w", err)
	}

	return services.NewBankService(resolver, lockCache, balances, head, permits, logger.WithField("module", "bank"), services.BankServiceOptions{
		Layout:       layout,
		LockCacheTtl: cfg.Cache.LockRecordsTtl,
	}), nil
}
