package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bankwatch/cache"
	"github.com/ethpandaops/bankwatch/contracts"
	"github.com/ethpandaops/bankwatch/ledger"
	"github.com/ethpandaops/bankwatch/slots"
)

func (fc *fakeChain) setStorage(slot *uint256.Int, value []byte) {
	fc.storage[slots.SlotHash(slot)] = common.LeftPadBytes(value, 32)
}

func (fc *fakeChain) writeLock(base *uint256.Int, index uint64, owner common.Address, startTime uint64, amount uint64) {
	dataStart := slots.DataStartSlot(base)
	fc.setStorage(lockSlot(dataStart, index, 0), owner.Bytes())
	fc.setStorage(lockSlot(dataStart, index, 1), new(big.Int).SetUint64(startTime).Bytes())
	fc.setStorage(lockSlot(dataStart, index, 2), new(big.Int).SetUint64(amount).Bytes())
}

func lockSlot(dataStart *uint256.Int, index, word uint64) *uint256.Int {
	return slots.ElementSlot(dataStart, slots.LockInfoLayout.Stride, index, word)
}

type bankServiceFixture struct {
	chain   *fakeChain
	head    *fakeHead
	clock   *fakeClock
	builder *fakeLedgerBuilder
	service *BankService
}

func newBankServiceFixture(t *testing.T, ledgerBuilder *fakeLedgerBuilder) *bankServiceFixture {
	fixture := &bankServiceFixture{
		chain:   newFakeChain(),
		head:    &fakeHead{head: 100},
		clock:   newFakeClock(),
		builder: ledgerBuilder,
	}

	lockCache, err := cache.NewTieredCache(1, "", "")
	require.NoError(t, err)

	var builder LedgerBuilder
	if ledgerBuilder != nil {
		builder = ledgerBuilder
	}

	balances := NewBalanceCache(fixture.chain, contracts.NewTokenBank(fixture.chain, bankAddr), fixture.head, builder, nullLogger(), BalanceCacheOptions{
		TTL:        30 * time.Second,
		BlockGrace: 5,
		Now:        fixture.clock.Now,
	})
	resolver := slots.NewResolver(fixture.chain, nullLogger(), slots.ResolverOptions{})
	permits := NewPermitStore(cache.NewLocalCache(1, "permits-"), time.Hour, nullLogger())

	fixture.service = NewBankService(resolver, lockCache, balances, fixture.head, permits, nullLogger(), BankServiceOptions{
		LockCacheTtl: time.Minute,
	})
	return fixture
}

func TestGetLockRecords(t *testing.T) {
	ctx := context.Background()
	fixture := newBankServiceFixture(t, nil)
	base := uint256.NewInt(1)

	fixture.chain.setStorage(base, []byte{2})
	fixture.chain.writeLock(base, 0, userAddr, 1700000000, 50)
	fixture.chain.writeLock(base, 1, tokenAddr, 1700000100, 75)

	result, err := fixture.service.GetLockRecords(ctx, bankAddr, base)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.Block)
	require.Len(t, result.Records, 2)
	assert.Equal(t, userAddr, result.Records[0].Owner)
	assert.Equal(t, uint64(1700000000), result.Records[0].StartTime)
	assert.Equal(t, uint64(50), result.Records[0].Amount.Uint64())
	assert.Equal(t, tokenAddr, result.Records[1].Owner)
	assert.Equal(t, uint64(75), result.Records[1].Amount.Uint64())

	// length plus three words per element
	assert.Equal(t, 7, fixture.chain.readCount())

	cached, err := fixture.service.GetLockRecords(ctx, bankAddr, base)
	require.NoError(t, err)
	assert.Equal(t, 7, fixture.chain.readCount())
	require.Len(t, cached.Records, 2)
	assert.Equal(t, uint64(75), cached.Records[1].Amount.Uint64())
	assert.Equal(t, userAddr, cached.Records[0].Owner)

	// a new head reads the chain again
	fixture.head.set(101)
	_, err = fixture.service.GetLockRecords(ctx, bankAddr, base)
	require.NoError(t, err)
	assert.Equal(t, 14, fixture.chain.readCount())
}

func TestGetLockRecordsEmptyArray(t *testing.T) {
	fixture := newBankServiceFixture(t, nil)
	fixture.chain.setStorage(uint256.NewInt(5), []byte{0})

	result, err := fixture.service.GetLockRecords(context.Background(), bankAddr, uint256.NewInt(5))
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Equal(t, 1, fixture.chain.readCount())
}

func TestGetLockRecordsMissingLength(t *testing.T) {
	fixture := newBankServiceFixture(t, nil)

	_, err := fixture.service.GetLockRecords(context.Background(), bankAddr, uint256.NewInt(9))
	assert.ErrorIs(t, err, slots.ErrStorageRead)
}

func TestGetLockRecordsNoHead(t *testing.T) {
	fixture := newBankServiceFixture(t, nil)
	fixture.head.err = ErrNoHead

	_, err := fixture.service.GetLockRecords(context.Background(), bankAddr, uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrNoHead)
	assert.Equal(t, 0, fixture.chain.readCount())
}

func TestGetAccountBalancesStale(t *testing.T) {
	ctx := context.Background()
	fixture := newBankServiceFixture(t, nil)
	key := BalanceKey{Account: userAddr}

	fresh, err := fixture.service.GetAccountBalances(ctx, key)
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
	assert.Equal(t, uint64(100), fresh.Block)
	assert.Equal(t, uint64(10), fresh.BankBalance.Uint64())
	assert.Nil(t, fresh.Ledger)

	fixture.chain.setFailing("ethBalanceOf", true)
	fixture.head.set(200)

	stale, err := fixture.service.GetAccountBalances(ctx, key)
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, uint64(100), stale.Block)
}

func TestGetAccountBalancesNodeDown(t *testing.T) {
	ctx := context.Background()
	fixture := newBankServiceFixture(t, nil)
	key := BalanceKey{Account: userAddr}

	_, err := fixture.service.GetAccountBalances(ctx, key)
	require.NoError(t, err)

	// the head stays where it was while every read fails
	for _, method := range []string{"wallet", "ethBalanceOf", "totalEthDeposits"} {
		fixture.chain.setFailing(method, true)
	}
	fixture.clock.Advance(10 * time.Minute)

	result, err := fixture.service.GetAccountBalances(ctx, key)
	require.NoError(t, err)
	assert.True(t, result.Stale)
	assert.Equal(t, uint64(100), result.Block)
}

func TestGetAccountBalancesUnavailable(t *testing.T) {
	fixture := newBankServiceFixture(t, nil)
	fixture.chain.setFailing("totalEthDeposits", true)

	_, err := fixture.service.GetAccountBalances(context.Background(), BalanceKey{Account: userAddr})
	assert.ErrorIs(t, err, ErrDirectRead)
}

func TestGetAccountBalancesWithLedger(t *testing.T) {
	ctx := context.Background()
	reconstructed := ledger.NewReconstructor(nullLogger(), ledger.ReconstructorOptions{}).Reconstruct([]*ledger.LedgerEvent{
		{Kind: ledger.EthDeposit, Account: userAddr, Amount: uint256.NewInt(40), BlockNumber: 90},
	})
	builder := &fakeLedgerBuilder{
		result: func(head uint64) *LedgerSnapshot {
			return &LedgerSnapshot{ToBlock: head, ledger: reconstructed}
		},
	}
	fixture := newBankServiceFixture(t, builder)

	_, err := fixture.service.balances.RefreshLedger(ctx, 100)
	require.NoError(t, err)

	result, err := fixture.service.GetAccountBalances(ctx, BalanceKey{Account: userAddr})
	require.NoError(t, err)
	require.NotNil(t, result.Ledger)
	assert.Equal(t, uint64(40), result.Ledger.EthBalance.Uint64())
}

func TestGetLedger(t *testing.T) {
	ctx := context.Background()

	fixture := newBankServiceFixture(t, nil)
	_, err := fixture.service.GetLedger(ctx)
	assert.Error(t, err)

	builder := &fakeLedgerBuilder{}
	fixture = newBankServiceFixture(t, builder)

	snapshot, err := fixture.service.GetLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), snapshot.ToBlock)

	again, err := fixture.service.GetLedger(ctx)
	require.NoError(t, err)
	assert.Same(t, snapshot, again)
	assert.Equal(t, 1, builder.calls)
}
