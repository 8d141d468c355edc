package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrLogFetch = errors.New("log fetch failure")

const defaultLogBatchSize = 1000

// LogFilterer is the part of the execution client the aggregator needs.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type AggregatorOptions struct {
	// BatchSize caps the block range of a single eth_getLogs request.
	BatchSize uint64
}

// Aggregator collects ledger events of several kinds over a bounded block window.
type Aggregator struct {
	filterer LogFilterer
	logger   logrus.FieldLogger
	options  AggregatorOptions
}

func NewAggregator(filterer LogFilterer, logger logrus.FieldLogger, options AggregatorOptions) *Aggregator {
	if options.BatchSize == 0 {
		options.BatchSize = defaultLogBatchSize
	}

	return &Aggregator{
		filterer: filterer,
		logger:   logger,
		options:  options,
	}
}

// Window returns the inclusive block range scanned for a given head.
func Window(currentBlock, maxWindow uint64) (fromBlock, toBlock uint64) {
	if currentBlock > maxWindow {
		fromBlock = currentBlock - maxWindow
	}
	return fromBlock, currentBlock
}

// Collect fetches every kind in kinds from the window ending at currentBlock and returns
// the events ordered by block number and log index. A failure on any kind fails the call.
func (a *Aggregator) Collect(ctx context.Context, contract common.Address, kinds []EventKind, currentBlock, maxWindow uint64) ([]*LedgerEvent, error) {
	fromBlock, toBlock := Window(currentBlock, maxWindow)

	kindEvents := make([][]*LedgerEvent, len(kinds))
	group, groupCtx := errgroup.WithContext(ctx)

	for idx, kind := range kinds {
		group.Go(func() error {
			events, err := a.collectKind(groupCtx, contract, kind, fromBlock, toBlock)
			if err != nil {
				return err
			}

			kindEvents[idx] = events
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	events := []*LedgerEvent{}
	for _, kEvents := range kindEvents {
		events = append(events, kEvents...)
	}
	sortEvents(events)

	a.logger.Debugf("collected %v ledger events for block %v - %v", len(events), fromBlock, toBlock)

	return events, nil
}

func (a *Aggregator) collectKind(ctx context.Context, contract common.Address, kind EventKind, fromBlock, toBlock uint64) ([]*LedgerEvent, error) {
	events := []*LedgerEvent{}

	for batchStart := fromBlock; batchStart <= toBlock; {
		batchEnd := batchStart + a.options.BatchSize - 1
		if batchEnd > toBlock || batchEnd < batchStart {
			batchEnd = toBlock
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(batchStart),
			ToBlock:   new(big.Int).SetUint64(batchEnd),
			Addresses: []common.Address{contract},
			Topics:    [][]common.Hash{{kind.Topic()}},
		}

		logs, err := a.filterer.FilterLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v logs for block %v - %v: %w", ErrLogFetch, kind, batchStart, batchEnd, err)
		}

		for idx := range logs {
			log := &logs[idx]
			if log.Removed {
				continue
			}

			event, err := decodeLog(kind, log)
			if err != nil {
				a.logger.WithField("tx", log.TxHash.Hex()).Warnf("skipping undecodable log: %v", err)
				continue
			}

			events = append(events, event)
		}

		if batchEnd == toBlock {
			break
		}
		batchStart = batchEnd + 1
	}

	return events, nil
}

// sortEvents orders events by block number, then log index. Full ties keep their input order.
func sortEvents(events []*LedgerEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
