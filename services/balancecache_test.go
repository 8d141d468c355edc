package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/bankwatch/contracts"
	"github.com/ethpandaops/bankwatch/ledger"
)

type balanceCacheFixture struct {
	chain *fakeChain
	head  *fakeHead
	clock *fakeClock
	cache *BalanceCache
}

func newBalanceCacheFixture(ledgerBuilder LedgerBuilder) *balanceCacheFixture {
	fixture := &balanceCacheFixture{
		chain: newFakeChain(),
		head:  &fakeHead{head: 100},
		clock: newFakeClock(),
	}
	fixture.cache = NewBalanceCache(fixture.chain, contracts.NewTokenBank(fixture.chain, bankAddr), fixture.head, ledgerBuilder, nullLogger(), BalanceCacheOptions{
		TTL:        30 * time.Second,
		BlockGrace: 5,
		Now:        fixture.clock.Now,
	})
	return fixture
}

func TestBalanceCacheFreshness(t *testing.T) {
	ctx := context.Background()
	fixture := newBalanceCacheFixture(nil)
	key := BalanceKey{Account: userAddr}

	first, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, uint64(100), first.CapturedAtBlock)
	assert.Equal(t, 3, fixture.chain.readCount())
	assert.Equal(t, uint64(1000), first.Snapshot.WalletEthBalance.Uint64())
	assert.Equal(t, uint64(10), first.Snapshot.BankBalance.Uint64())
	assert.Equal(t, uint64(500), first.Snapshot.TotalDeposits.Uint64())
	assert.Nil(t, first.Snapshot.WalletTokenBalance)

	// within both bounds the same entry is served without chain reads
	fixture.clock.Advance(10 * time.Second)
	fixture.head.set(102)
	second, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 3, fixture.chain.readCount())

	// past the ttl exactly one refresh happens
	fixture.clock.Advance(21 * time.Second)
	third, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, uint64(102), third.CapturedAtBlock)
	assert.Equal(t, 6, fixture.chain.readCount())

	fourth, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Same(t, third, fourth)
	assert.Equal(t, 6, fixture.chain.readCount())
}

func TestBalanceCacheBlockGrace(t *testing.T) {
	ctx := context.Background()
	fixture := newBalanceCacheFixture(nil)
	key := BalanceKey{Account: userAddr}

	first, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)

	fixture.head.set(104)
	entry, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Same(t, first, entry)

	fixture.head.set(105)
	entry, err = fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), entry.CapturedAtBlock)
	assert.Equal(t, 6, fixture.chain.readCount())

	// direct reads are pinned to the anchor block
	for _, block := range fixture.chain.blocks[3:] {
		assert.Equal(t, uint64(105), block)
	}
}

func TestBalanceCacheTokenView(t *testing.T) {
	fixture := newBalanceCacheFixture(nil)
	token := tokenAddr

	entry, err := fixture.cache.Get(context.Background(), BalanceKey{Account: userAddr, Token: &token})
	require.NoError(t, err)
	assert.Equal(t, 4, fixture.chain.readCount())
	assert.Equal(t, uint64(30), entry.Snapshot.WalletTokenBalance.Uint64())
	assert.Equal(t, uint64(20), entry.Snapshot.BankBalance.Uint64())
	assert.Equal(t, uint64(700), entry.Snapshot.TotalDeposits.Uint64())

	// eth and token views are cached separately
	assert.Nil(t, fixture.cache.Peek(BalanceKey{Account: userAddr}))
}

func TestBalanceCachePartialFailure(t *testing.T) {
	ctx := context.Background()
	fixture := newBalanceCacheFixture(nil)
	token := tokenAddr
	key := BalanceKey{Account: userAddr, Token: &token}

	first, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)

	fixture.chain.setFailing("tokenBalanceOf", true)
	fixture.head.set(110)

	entry, err := fixture.cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrDirectRead)
	assert.True(t, IsSoftFailure(err))
	assert.Same(t, first, entry)
	assert.Same(t, first, fixture.cache.Peek(key))

	fixture.chain.setFailing("tokenBalanceOf", false)
	entry, err = fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), entry.CapturedAtBlock)
}

func TestBalanceCacheNoHead(t *testing.T) {
	fixture := newBalanceCacheFixture(nil)
	fixture.head.err = errors.New("no head block known")

	entry, err := fixture.cache.Get(context.Background(), BalanceKey{Account: userAddr})
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, ErrNoHead)
	assert.True(t, IsSoftFailure(err))
	assert.Equal(t, 0, fixture.chain.readCount())
}

func TestBalanceCacheUnchangedHead(t *testing.T) {
	ctx := context.Background()
	fixture := newBalanceCacheFixture(nil)
	key := BalanceKey{Account: userAddr}

	first, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)

	// within the ttl a refresh at the same head issues no reads
	fixture.clock.Advance(10 * time.Second)
	entry, err := fixture.cache.Refresh(ctx, key)
	require.NoError(t, err)
	assert.Same(t, first, entry)
	assert.Equal(t, 3, fixture.chain.readCount())

	// past the ttl the reads run again but the entry keeps its anchor
	fixture.clock.Advance(time.Minute)
	entry, err = fixture.cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Same(t, first, entry)
	assert.Same(t, first, fixture.cache.Peek(key))
	assert.Equal(t, 6, fixture.chain.readCount())
}

func TestBalanceCacheUnchangedHeadReadsFailing(t *testing.T) {
	ctx := context.Background()
	fixture := newBalanceCacheFixture(nil)
	key := BalanceKey{Account: userAddr}

	first, err := fixture.cache.Get(ctx, key)
	require.NoError(t, err)

	for _, method := range []string{"wallet", "ethBalanceOf", "totalEthDeposits"} {
		fixture.chain.setFailing(method, true)
	}
	fixture.clock.Advance(10 * time.Minute)

	entry, err := fixture.cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrDirectRead)
	assert.True(t, IsSoftFailure(err))
	assert.Same(t, first, entry)
}

func TestBalanceCacheSingleFlight(t *testing.T) {
	fixture := newBalanceCacheFixture(nil)
	fixture.chain.gate = make(chan struct{})
	fixture.chain.entered = make(chan struct{})
	key := BalanceKey{Account: userAddr}

	results := make([]*CacheEntry, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := fixture.cache.Refresh(context.Background(), key)
			assert.NoError(t, err)
			results[i] = entry
		}()
	}

	<-fixture.chain.entered
	time.Sleep(50 * time.Millisecond)
	close(fixture.chain.gate)
	wg.Wait()

	assert.Equal(t, 3, fixture.chain.readCount())
	for _, entry := range results {
		assert.Same(t, results[0], entry)
	}
}

func TestBalanceCacheDiscardsOlderAnchor(t *testing.T) {
	fixture := newBalanceCacheFixture(nil)
	key := BalanceKey{Account: userAddr}

	newer := &CacheEntry{CapturedAtBlock: 12}
	older := &CacheEntry{CapturedAtBlock: 10}
	equal := &CacheEntry{CapturedAtBlock: 12}

	assert.Same(t, newer, fixture.cache.publish(key, newer))
	assert.Same(t, newer, fixture.cache.publish(key, older))
	assert.Same(t, newer, fixture.cache.publish(key, equal))
	assert.Same(t, newer, fixture.cache.Peek(key))
}

func TestBalanceCacheLedger(t *testing.T) {
	ctx := context.Background()
	builder := &fakeLedgerBuilder{}
	fixture := newBalanceCacheFixture(builder)

	snapshot, err := fixture.cache.RefreshLedger(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), snapshot.ToBlock)
	assert.Same(t, snapshot, fixture.cache.Ledger())

	// a pass for an older head does not run
	again, err := fixture.cache.RefreshLedger(ctx, 99)
	require.NoError(t, err)
	assert.Same(t, snapshot, again)
	assert.Equal(t, 1, builder.calls)

	builder.err = ledger.ErrLogFetch
	kept, err := fixture.cache.RefreshLedger(ctx, 120)
	assert.ErrorIs(t, err, ledger.ErrLogFetch)
	assert.True(t, IsSoftFailure(err))
	assert.Same(t, snapshot, kept)
	assert.Same(t, snapshot, fixture.cache.Ledger())

	// snapshots only move forward
	assert.Same(t, snapshot, fixture.cache.publishLedger(&LedgerSnapshot{ToBlock: 90}))
}

func TestBalanceCacheLedgerCatchesUp(t *testing.T) {
	ctx := context.Background()
	builder := &fakeLedgerBuilder{
		gate:    make(chan struct{}),
		entered: make(chan uint64, 4),
	}
	fixture := newBalanceCacheFixture(builder)

	firstDone := make(chan *LedgerSnapshot, 1)
	go func() {
		snapshot, _ := fixture.cache.RefreshLedger(ctx, 100)
		firstDone <- snapshot
	}()
	assert.Equal(t, uint64(100), <-builder.entered)

	// a newer head arrives while the pass for 100 is running
	secondDone := make(chan *LedgerSnapshot, 1)
	go func() {
		snapshot, _ := fixture.cache.RefreshLedger(ctx, 101)
		secondDone <- snapshot
	}()
	time.Sleep(50 * time.Millisecond)

	builder.gate <- struct{}{}
	assert.Equal(t, uint64(100), (<-firstDone).ToBlock)

	assert.Equal(t, uint64(101), <-builder.entered)
	builder.gate <- struct{}{}
	assert.Equal(t, uint64(101), (<-secondDone).ToBlock)
	assert.Equal(t, uint64(101), fixture.cache.Ledger().ToBlock)
	assert.Equal(t, 2, builder.calls)
}

func TestBalanceCacheRefreshTriggersLedger(t *testing.T) {
	builder := &fakeLedgerBuilder{}
	fixture := newBalanceCacheFixture(builder)

	_, err := fixture.cache.Get(context.Background(), BalanceKey{Account: userAddr})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snapshot := fixture.cache.Ledger()
		return snapshot != nil && snapshot.ToBlock == 100
	}, time.Second, 10*time.Millisecond)
}

func TestBalanceCacheOptionDefaults(t *testing.T) {
	chain := newFakeChain()
	bank := contracts.NewTokenBank(chain, bankAddr)

	cache := NewBalanceCache(chain, bank, &fakeHead{}, nil, nullLogger(), BalanceCacheOptions{})
	assert.Equal(t, 30*time.Second, cache.options.TTL)
	assert.Equal(t, uint64(5), cache.options.BlockGrace)
	assert.Equal(t, 10*time.Second, cache.options.CallTimeout)
	assert.NotNil(t, cache.options.Now)

	cache = NewBalanceCache(chain, bank, &fakeHead{}, nil, nullLogger(), BalanceCacheOptions{
		TTL:        time.Minute,
		BlockGrace: 1,
	})
	assert.Equal(t, time.Minute, cache.options.TTL)
	assert.Equal(t, uint64(1), cache.options.BlockGrace)
	assert.Equal(t, 10*time.Second, cache.options.CallTimeout)
}

func TestBalanceKeyString(t *testing.T) {
	token := tokenAddr
	assert.Equal(t, userAddr.Hex(), BalanceKey{Account: userAddr}.String())
	assert.Equal(t, userAddr.Hex()+":"+tokenAddr.Hex(), BalanceKey{Account: userAddr, Token: &token}.String())
}
