package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ethpandaops/bankwatch/contracts"
	"github.com/ethpandaops/bankwatch/ledger"
	"github.com/ethpandaops/bankwatch/utils"
)

var (
	ErrDirectRead = errors.New("direct read failure")
	ErrNoHead     = errors.New("head block unavailable")
)

// IsSoftFailure reports whether err leaves previously published data valid to serve.
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrDirectRead) ||
		errors.Is(err, ErrNoHead) ||
		errors.Is(err, ledger.ErrLogFetch) ||
		errors.Is(err, context.DeadlineExceeded)
}

const ledgerFlightKey = "ledger"

var (
	balanceCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankwatch_balance_cache_requests_total",
		Help: "Number of balance cache lookups by result",
	}, []string{"result"})
	balanceCacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankwatch_balance_cache_refreshes_total",
		Help: "Number of balance refreshes by outcome",
	}, []string{"outcome"})
	balanceCacheRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bankwatch_balance_cache_refresh_duration",
		Help:    "Duration of direct balance reads in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	ledgerPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankwatch_ledger_passes_total",
		Help: "Number of ledger reconstruction passes by outcome",
	}, []string{"outcome"})
)

// HeadSource yields the latest known block number.
type HeadSource interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// BalanceReader is the part of the execution client the direct reads need.
type BalanceReader interface {
	contracts.ContractCaller
	BalanceAt(ctx context.Context, wallet common.Address, blockNumber *big.Int) (*big.Int, error)
}

// BalanceKey selects one account view. A nil Token selects the ETH view.
type BalanceKey struct {
	Account common.Address
	Token   *common.Address
}

func (key BalanceKey) String() string {
	if key.Token == nil {
		return key.Account.Hex()
	}
	return key.Account.Hex() + ":" + key.Token.Hex()
}

// BalanceSnapshot holds the direct reads of one refresh, all taken at the same block.
type BalanceSnapshot struct {
	Account            common.Address  `json:"account"`
	Token              *common.Address `json:"token,omitempty"`
	WalletEthBalance   *uint256.Int    `json:"wallet_eth_balance"`
	WalletTokenBalance *uint256.Int    `json:"wallet_token_balance,omitempty"`
	BankBalance        *uint256.Int    `json:"bank_balance"`
	TotalDeposits      *uint256.Int    `json:"total_deposits"`
}

// CacheEntry is published as a whole and never modified afterwards.
type CacheEntry struct {
	Snapshot        *BalanceSnapshot
	Ledger          *LedgerSnapshot
	CapturedAtBlock uint64
	CapturedAtTime  time.Time
}

type BalanceCacheOptions struct {
	TTL         time.Duration
	BlockGrace  uint64
	CallTimeout time.Duration
	Now         func() time.Time
}

// BalanceCache serves balance snapshots that are refreshed once they are older than
// TTL or more than BlockGrace blocks behind the head.
type BalanceCache struct {
	reader        BalanceReader
	bank          *contracts.TokenBank
	head          HeadSource
	ledgerBuilder LedgerBuilder
	logger        logrus.FieldLogger
	options       BalanceCacheOptions

	entriesMutex sync.Mutex
	entries      map[BalanceKey]*atomic.Pointer[CacheEntry]
	ledger       atomic.Pointer[LedgerSnapshot]
	flight       singleflight.Group
}

var defaultBalanceCacheOptions = BalanceCacheOptions{
	TTL:         30 * time.Second,
	BlockGrace:  5,
	CallTimeout: 10 * time.Second,
}

func NewBalanceCache(reader BalanceReader, bank *contracts.TokenBank, head HeadSource, ledgerBuilder LedgerBuilder, logger logrus.FieldLogger, options BalanceCacheOptions) *BalanceCache {
	// unset options take the defaults
	if err := mergo.Merge(&options, defaultBalanceCacheOptions); err != nil {
		logger.Warnf("error applying balance cache defaults: %v", err)
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	return &BalanceCache{
		reader:        reader,
		bank:          bank,
		head:          head,
		ledgerBuilder: ledgerBuilder,
		logger:        logger,
		options:       options,
		entries:       map[BalanceKey]*atomic.Pointer[CacheEntry]{},
	}
}

func (bc *BalanceCache) slot(key BalanceKey) *atomic.Pointer[CacheEntry] {
	bc.entriesMutex.Lock()
	defer bc.entriesMutex.Unlock()

	slot := bc.entries[key]
	if slot == nil {
		slot = &atomic.Pointer[CacheEntry]{}
		bc.entries[key] = slot
	}
	return slot
}

// Peek returns the published entry for key without checking freshness.
func (bc *BalanceCache) Peek(key BalanceKey) *CacheEntry {
	return bc.slot(key).Load()
}

// Ledger returns the latest published ledger snapshot.
func (bc *BalanceCache) Ledger() *LedgerSnapshot {
	return bc.ledger.Load()
}

func (bc *BalanceCache) isFresh(entry *CacheEntry, head uint64) bool {
	if bc.options.Now().Sub(entry.CapturedAtTime) >= bc.options.TTL {
		return false
	}

	var lag uint64
	if head > entry.CapturedAtBlock {
		lag = head - entry.CapturedAtBlock
	}
	return lag < bc.options.BlockGrace
}

// Get returns the entry for key, refreshing it first when it is stale or missing.
// On a soft failure the previous entry (possibly nil) is returned along with the error.
func (bc *BalanceCache) Get(ctx context.Context, key BalanceKey) (*CacheEntry, error) {
	entry := bc.Peek(key)
	if entry != nil {
		head, err := bc.head.CurrentBlock(ctx)
		if err == nil && bc.isFresh(entry, head) {
			balanceCacheRequests.WithLabelValues("hit").Inc()
			return entry, nil
		}
		balanceCacheRequests.WithLabelValues("stale").Inc()
	} else {
		balanceCacheRequests.WithLabelValues("miss").Inc()
	}

	return bc.Refresh(ctx, key)
}

// Refresh re-reads key at the current head. Concurrent refreshes of the same key share
// one read. The refresh keeps running for the other waiters when ctx is cancelled.
func (bc *BalanceCache) Refresh(ctx context.Context, key BalanceKey) (*CacheEntry, error) {
	resultChan := bc.flight.DoChan(key.String(), func() (interface{}, error) {
		return bc.refresh(key)
	})

	select {
	case result := <-resultChan:
		entry, _ := result.Val.(*CacheEntry)
		return entry, result.Err
	case <-ctx.Done():
		return bc.Peek(key), ctx.Err()
	}
}

// TriggerRefresh refreshes key in the background.
func (bc *BalanceCache) TriggerRefresh(key BalanceKey) {
	go func() {
		defer utils.HandleSubroutinePanic("BalanceCache.TriggerRefresh")

		if _, err := bc.Refresh(context.Background(), key); err != nil {
			bc.logger.WithField("key", key.String()).Warnf("background balance refresh failed: %v", err)
		}
	}()
}

func (bc *BalanceCache) refresh(key BalanceKey) (*CacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bc.options.CallTimeout)
	defer cancel()

	previous := bc.Peek(key)

	anchor, err := bc.head.CurrentBlock(ctx)
	if err != nil {
		balanceCacheRefreshes.WithLabelValues("no_head").Inc()
		return previous, fmt.Errorf("%w: %w", ErrNoHead, err)
	}

	bc.TriggerLedgerRefresh(anchor)

	unchanged := previous != nil && anchor <= previous.CapturedAtBlock
	if unchanged && bc.options.Now().Sub(previous.CapturedAtTime) < bc.options.TTL {
		// nothing newer to read
		balanceCacheRefreshes.WithLabelValues("unchanged").Inc()
		return previous, nil
	}

	// past the ttl an entry is only served again once the node answered the reads
	startTime := time.Now()
	snapshot, err := bc.readDirect(ctx, key, anchor)
	balanceCacheRefreshDuration.Observe(float64(time.Since(startTime).Milliseconds()))
	if err != nil {
		balanceCacheRefreshes.WithLabelValues("failed").Inc()
		bc.logger.WithFields(logrus.Fields{
			"key":   key.String(),
			"block": anchor,
		}).Warnf("direct balance read failed: %v", err)
		return previous, fmt.Errorf("%w: %w", ErrDirectRead, err)
	}

	if unchanged {
		// the reads confirm the entry, which keeps its anchor
		balanceCacheRefreshes.WithLabelValues("confirmed").Inc()
		return previous, nil
	}

	entry := &CacheEntry{
		Snapshot:        snapshot,
		Ledger:          bc.ledger.Load(),
		CapturedAtBlock: anchor,
		CapturedAtTime:  bc.options.Now(),
	}

	published := bc.publish(key, entry)
	if published == entry {
		balanceCacheRefreshes.WithLabelValues("published").Inc()
	} else {
		balanceCacheRefreshes.WithLabelValues("superseded").Inc()
	}
	return published, nil
}

// publish stores entry unless an entry for the same or a later block is already published,
// in which case that entry is returned instead.
func (bc *BalanceCache) publish(key BalanceKey, entry *CacheEntry) *CacheEntry {
	slot := bc.slot(key)
	for {
		current := slot.Load()
		if current != nil && entry.CapturedAtBlock <= current.CapturedAtBlock {
			return current
		}
		if slot.CompareAndSwap(current, entry) {
			return entry
		}
	}
}

func (bc *BalanceCache) readDirect(ctx context.Context, key BalanceKey, anchor uint64) (*BalanceSnapshot, error) {
	blockNumber := new(big.Int).SetUint64(anchor)
	snapshot := &BalanceSnapshot{
		Account: key.Account,
		Token:   key.Token,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		balance, err := bc.reader.BalanceAt(groupCtx, key.Account, blockNumber)
		if err != nil {
			return fmt.Errorf("wallet balance: %w", err)
		}
		value, overflow := uint256.FromBig(balance)
		if overflow {
			return fmt.Errorf("wallet balance overflows uint256")
		}
		snapshot.WalletEthBalance = value
		return nil
	})

	if key.Token == nil {
		group.Go(func() error {
			balance, err := bc.bank.EthBalanceOf(groupCtx, key.Account, blockNumber)
			snapshot.BankBalance = balance
			return err
		})
		group.Go(func() error {
			total, err := bc.bank.TotalEthDeposits(groupCtx, blockNumber)
			snapshot.TotalDeposits = total
			return err
		})
	} else {
		token := *key.Token
		group.Go(func() error {
			balance, err := contracts.TokenBalanceOf(groupCtx, bc.reader, token, key.Account, blockNumber)
			snapshot.WalletTokenBalance = balance
			return err
		})
		group.Go(func() error {
			balance, err := bc.bank.TokenBalanceOf(groupCtx, token, key.Account, blockNumber)
			snapshot.BankBalance = balance
			return err
		})
		group.Go(func() error {
			total, err := bc.bank.TotalTokenDeposits(groupCtx, token, blockNumber)
			snapshot.TotalDeposits = total
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// TriggerLedgerRefresh rebuilds the ledger for head in the background.
func (bc *BalanceCache) TriggerLedgerRefresh(head uint64) {
	if bc.ledgerBuilder == nil {
		return
	}

	go func() {
		defer utils.HandleSubroutinePanic("BalanceCache.TriggerLedgerRefresh")

		if _, err := bc.RefreshLedger(context.Background(), head); err != nil {
			bc.logger.Warnf("background ledger refresh failed: %v", err)
		}
	}()
}

// RefreshLedger runs a ledger pass for head unless one is already running. A failed pass
// keeps the previous snapshot, which is returned along with the error.
func (bc *BalanceCache) RefreshLedger(ctx context.Context, head uint64) (*LedgerSnapshot, error) {
	if bc.ledgerBuilder == nil {
		return nil, nil
	}

	for {
		if current := bc.ledger.Load(); current != nil && current.ToBlock >= head {
			return current, nil
		}

		resultChan := bc.flight.DoChan(ledgerFlightKey, func() (interface{}, error) {
			return bc.buildLedger(head)
		})

		select {
		case result := <-resultChan:
			snapshot, _ := result.Val.(*LedgerSnapshot)
			if result.Err == nil && result.Shared && (snapshot == nil || snapshot.ToBlock < head) {
				// joined a pass for an older head, run again for this one
				continue
			}
			return snapshot, result.Err
		case <-ctx.Done():
			return bc.ledger.Load(), ctx.Err()
		}
	}
}

func (bc *BalanceCache) buildLedger(head uint64) (*LedgerSnapshot, error) {
	passCtx, cancel := context.WithTimeout(context.Background(), 10*bc.options.CallTimeout)
	defer cancel()

	snapshot, err := bc.ledgerBuilder.BuildLedger(passCtx, head)
	if err != nil {
		ledgerPasses.WithLabelValues("failed").Inc()
		return bc.ledger.Load(), err
	}

	ledgerPasses.WithLabelValues("published").Inc()
	return bc.publishLedger(snapshot), nil
}

func (bc *BalanceCache) publishLedger(snapshot *LedgerSnapshot) *LedgerSnapshot {
	for {
		current := bc.ledger.Load()
		if current != nil && snapshot.ToBlock <= current.ToBlock {
			return current
		}
		if bc.ledger.CompareAndSwap(current, snapshot) {
			return snapshot
		}
	}
}
