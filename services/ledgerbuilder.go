package services

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/ledger"
)

// LedgerSnapshot is one reconstructed view of the bank's event ledger.
type LedgerSnapshot struct {
	FromBlock      uint64                   `json:"from_block"`
	ToBlock        uint64                   `json:"to_block"`
	EventCount     int                      `json:"event_count"`
	Applied        int                      `json:"applied"`
	Discarded      int                      `json:"discarded"`
	Ranking        []*ledger.AccountBalance `json:"ranking"`
	CapturedAtTime time.Time                `json:"captured_at"`

	ledger *ledger.Ledger
}

// Balance returns the reconstructed balance of account, or nil if it had no events in the window.
func (ls *LedgerSnapshot) Balance(account common.Address) *ledger.AccountBalance {
	if ls == nil || ls.ledger == nil {
		return nil
	}
	return ls.ledger.Balance(account)
}

// LedgerBuilder runs one aggregation and reconstruction pass.
type LedgerBuilder interface {
	BuildLedger(ctx context.Context, head uint64) (*LedgerSnapshot, error)
}

type EventLedgerBuilder struct {
	aggregator    *ledger.Aggregator
	reconstructor *ledger.Reconstructor
	contract      common.Address
	kinds         []ledger.EventKind
	maxWindow     uint64
	now           func() time.Time
	logger        logrus.FieldLogger
}

func NewEventLedgerBuilder(aggregator *ledger.Aggregator, reconstructor *ledger.Reconstructor, contract common.Address, kinds []ledger.EventKind, maxWindow uint64, logger logrus.FieldLogger) *EventLedgerBuilder {
	if len(kinds) == 0 {
		kinds = ledger.AllEventKinds
	}

	return &EventLedgerBuilder{
		aggregator:    aggregator,
		reconstructor: reconstructor,
		contract:      contract,
		kinds:         kinds,
		maxWindow:     maxWindow,
		now:           time.Now,
		logger:        logger,
	}
}

func (lb *EventLedgerBuilder) BuildLedger(ctx context.Context, head uint64) (*LedgerSnapshot, error) {
	events, err := lb.aggregator.Collect(ctx, lb.contract, lb.kinds, head, lb.maxWindow)
	if err != nil {
		return nil, err
	}

	result := lb.reconstructor.Reconstruct(events)
	fromBlock, toBlock := ledger.Window(head, lb.maxWindow)

	lb.logger.WithFields(logrus.Fields{
		"from":     fromBlock,
		"to":       toBlock,
		"events":   len(events),
		"accounts": len(result.Accounts),
	}).Debug("reconstructed ledger")

	return &LedgerSnapshot{
		FromBlock:      fromBlock,
		ToBlock:        toBlock,
		EventCount:     len(events),
		Applied:        result.Applied,
		Discarded:      result.Discarded,
		Ranking:        result.Ranking(),
		CapturedAtTime: lb.now(),
		ledger:         result,
	}, nil
}
