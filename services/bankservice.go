package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/cache"
	"github.com/ethpandaops/bankwatch/clients/execution"
	"github.com/ethpandaops/bankwatch/ledger"
	"github.com/ethpandaops/bankwatch/slots"
	"github.com/ethpandaops/bankwatch/utils"
)

// LockRecordsResult is the decoded lock array of one contract at one block.
type LockRecordsResult struct {
	Contract common.Address      `json:"contract"`
	Slot     *uint256.Int        `json:"slot"`
	Block    uint64              `json:"block"`
	Records  []*slots.LockRecord `json:"records"`
}

// AccountBalances combines the direct reads of a cache entry with the reconstructed
// ledger position of the same account.
type AccountBalances struct {
	*BalanceSnapshot
	Ledger     *ledger.AccountBalance `json:"ledger,omitempty"`
	Block      uint64                 `json:"block"`
	CapturedAt time.Time              `json:"captured_at"`
	Stale      bool                   `json:"stale"`
}

type BankServiceOptions struct {
	Layout       slots.StructLayout
	LockCacheTtl time.Duration
}

type BankService struct {
	resolver  *slots.Resolver
	lockCache *cache.TieredCache
	balances  *BalanceCache
	head      HeadSource
	permits   *PermitStore
	logger    logrus.FieldLogger
	options   BankServiceOptions
}

func NewBankService(resolver *slots.Resolver, lockCache *cache.TieredCache, balances *BalanceCache, head HeadSource, permits *PermitStore, logger logrus.FieldLogger, options BankServiceOptions) *BankService {
	if options.Layout.Stride == 0 {
		options.Layout = slots.LockInfoLayout
	}

	return &BankService{
		resolver:  resolver,
		lockCache: lockCache,
		balances:  balances,
		head:      head,
		permits:   permits,
		logger:    logger,
		options:   options,
	}
}

func (bs *BankService) Permits() *PermitStore {
	return bs.permits
}

// GetLockRecords decodes the lock array at slot, with every read pinned to the current head.
// Results are cached per contract, slot and block.
func (bs *BankService) GetLockRecords(ctx context.Context, contract common.Address, slot *uint256.Int) (*LockRecordsResult, error) {
	head, err := bs.head.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoHead, err)
	}

	cacheKey := fmt.Sprintf("locks:%v:%v:%v", contract.Hex(), slot.Dec(), head)
	if bs.lockCache != nil {
		cached := &LockRecordsResult{}
		err := bs.lockCache.Get(ctx, cacheKey, cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.CacheMissError) {
			bs.logger.Debugf("lock cache lookup failed: %v", err)
		}
	}

	records, err := bs.resolver.ReadStructArrayAt(ctx, contract, slot, bs.options.Layout, new(big.Int).SetUint64(head))
	if err != nil {
		return nil, err
	}

	result := &LockRecordsResult{
		Contract: contract,
		Slot:     slot,
		Block:    head,
		Records:  records,
	}

	if bs.lockCache != nil {
		if err := bs.lockCache.Set(ctx, cacheKey, result, bs.options.LockCacheTtl); err != nil {
			utils.LogError(err, "error caching lock records", 0, map[string]interface{}{"key": cacheKey})
		}
	}

	return result, nil
}

// GetAccountBalances returns the cached balances for key. When the refresh fails softly
// and an older entry exists, that entry is returned with Stale set and a nil error.
func (bs *BankService) GetAccountBalances(ctx context.Context, key BalanceKey) (*AccountBalances, error) {
	entry, err := bs.balances.Get(ctx, key)
	stale := false
	if err != nil {
		if entry == nil || !IsSoftFailure(err) {
			return nil, err
		}
		bs.logger.WithField("key", key.String()).Infof("serving stale balances: %v", err)
		stale = true
	}

	result := &AccountBalances{
		BalanceSnapshot: entry.Snapshot,
		Block:           entry.CapturedAtBlock,
		CapturedAt:      entry.CapturedAtTime,
		Stale:           stale,
	}

	ledgerSnapshot := bs.balances.Ledger()
	if ledgerSnapshot == nil {
		ledgerSnapshot = entry.Ledger
	}
	result.Ledger = ledgerSnapshot.Balance(key.Account)

	return result, nil
}

// RefreshBalances schedules a background refresh of key.
func (bs *BankService) RefreshBalances(key BalanceKey) {
	bs.balances.TriggerRefresh(key)
}

// GetLedger returns the latest reconstructed ledger, building one first if none exists yet.
func (bs *BankService) GetLedger(ctx context.Context) (*LedgerSnapshot, error) {
	if snapshot := bs.balances.Ledger(); snapshot != nil {
		return snapshot, nil
	}

	head, err := bs.head.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoHead, err)
	}

	snapshot, err := bs.balances.RefreshLedger(ctx, head)
	if snapshot != nil && err != nil && IsSoftFailure(err) {
		return snapshot, nil
	}
	if snapshot == nil && err == nil {
		return nil, fmt.Errorf("ledger reconstruction is not configured")
	}
	return snapshot, err
}

// FollowHeads rebuilds the ledger on every head update until ctx is done.
func (bs *BankService) FollowHeads(ctx context.Context, heads <-chan *execution.HeadUpdate) {
	defer utils.HandleSubroutinePanic("BankService.FollowHeads")

	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				return
			}
			bs.balances.TriggerLedgerRefresh(head.Number)
		}
	}
}
