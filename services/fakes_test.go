package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var (
	bankAddr  = common.HexToAddress("0x8b1f7b359590b375deee61878c2238b8f003325e")
	tokenAddr = common.HexToAddress("0x4D34f0c563d09DAC60B7E12dDBAaDE86aBd47014")
	userAddr  = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

func selector(signature string) string {
	return string(crypto.Keccak256([]byte(signature))[:4])
}

var selectorNames = map[string]string{
	selector("ethBalanceOf(address)"):           "ethBalanceOf",
	selector("totalEthDeposits()"):              "totalEthDeposits",
	selector("tokenBalanceOf(address,address)"): "tokenBalanceOf",
	selector("getTotalTokenDeposits(address)"):  "getTotalTokenDeposits",
	selector("balanceOf(address)"):              "balanceOf",
}

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (fc *fakeClock) Now() time.Time {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	return fc.now
}

func (fc *fakeClock) Advance(d time.Duration) {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	fc.now = fc.now.Add(d)
}

type fakeHead struct {
	mutex sync.Mutex
	head  uint64
	err   error
}

func (fh *fakeHead) CurrentBlock(ctx context.Context) (uint64, error) {
	fh.mutex.Lock()
	defer fh.mutex.Unlock()
	return fh.head, fh.err
}

func (fh *fakeHead) set(head uint64) {
	fh.mutex.Lock()
	defer fh.mutex.Unlock()
	fh.head = head
}

// fakeChain answers every view call with a fixed value per method.
type fakeChain struct {
	mutex     sync.Mutex
	values    map[string]int64
	failing   map[string]bool
	reads     int
	blocks    []uint64
	storage   map[common.Hash][]byte
	gate      chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		values: map[string]int64{
			"wallet":                1000,
			"ethBalanceOf":          10,
			"totalEthDeposits":      500,
			"tokenBalanceOf":        20,
			"getTotalTokenDeposits": 700,
			"balanceOf":             30,
		},
		failing: map[string]bool{},
		storage: map[common.Hash][]byte{},
	}
}

func (fc *fakeChain) record(method string, blockNumber *big.Int) (int64, error) {
	if fc.gate != nil {
		fc.enterOnce.Do(func() { close(fc.entered) })
		<-fc.gate
	}

	fc.mutex.Lock()
	defer fc.mutex.Unlock()

	fc.reads++
	if blockNumber != nil {
		fc.blocks = append(fc.blocks, blockNumber.Uint64())
	}
	if fc.failing[method] {
		return 0, errors.New("execution reverted")
	}
	return fc.values[method], nil
}

func (fc *fakeChain) readCount() int {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	return fc.reads
}

func (fc *fakeChain) setFailing(method string, failing bool) {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	fc.failing[method] = failing
}

func (fc *fakeChain) BalanceAt(ctx context.Context, wallet common.Address, blockNumber *big.Int) (*big.Int, error) {
	value, err := fc.record("wallet", blockNumber)
	if err != nil {
		return nil, err
	}
	return big.NewInt(value), nil
}

func (fc *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method := selectorNames[string(msg.Data[:4])]
	value, err := fc.record(method, blockNumber)
	if err != nil {
		return nil, err
	}
	return common.LeftPadBytes(big.NewInt(value).Bytes(), 32), nil
}

func (fc *fakeChain) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()

	fc.reads++
	return fc.storage[key], nil
}

type fakeLedgerBuilder struct {
	mutex   sync.Mutex
	calls   int
	err     error
	result  func(head uint64) *LedgerSnapshot
	gate    chan struct{}
	entered chan uint64
}

func (fb *fakeLedgerBuilder) BuildLedger(ctx context.Context, head uint64) (*LedgerSnapshot, error) {
	if fb.gate != nil {
		fb.entered <- head
		<-fb.gate
	}

	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	fb.calls++
	if fb.err != nil {
		return nil, fb.err
	}
	if fb.result != nil {
		return fb.result(head), nil
	}
	return &LedgerSnapshot{ToBlock: head}, nil
}
