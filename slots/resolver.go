package slots

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxElements     = 10000
	defaultReadConcurrency = 8
)

// StorageReader is the part of the execution client the resolver needs.
type StorageReader interface {
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// LockRecord is one decoded element of a LockInfo array.
type LockRecord struct {
	Index     uint64         `json:"index"`
	Owner     common.Address `json:"owner"`
	StartTime uint64         `json:"start_time"`
	Amount    *uint256.Int   `json:"amount"`
}

type ResolverOptions struct {
	// Strict fails the whole call when an element has absent words instead of skipping it.
	Strict          bool
	MaxElements     uint64
	ReadConcurrency int
}

// Resolver materializes dynamic arrays of fixed-size structs from raw contract storage.
type Resolver struct {
	reader  StorageReader
	logger  logrus.FieldLogger
	options ResolverOptions
}

func NewResolver(reader StorageReader, logger logrus.FieldLogger, options ResolverOptions) *Resolver {
	if options.MaxElements == 0 {
		options.MaxElements = defaultMaxElements
	}
	if options.ReadConcurrency <= 0 {
		options.ReadConcurrency = defaultReadConcurrency
	}

	return &Resolver{
		reader:  reader,
		logger:  logger,
		options: options,
	}
}

// ReadStructArray reads the array at baseSlot from the latest state.
func (r *Resolver) ReadStructArray(ctx context.Context, contract common.Address, baseSlot *uint256.Int, layout StructLayout) ([]*LockRecord, error) {
	return r.ReadStructArrayAt(ctx, contract, baseSlot, layout, nil)
}

// ReadStructArrayAt reads the array at baseSlot with every slot read pinned to blockNumber
// (nil for latest). Records are returned in ascending array index order.
func (r *Resolver) ReadStructArrayAt(ctx context.Context, contract common.Address, baseSlot *uint256.Int, layout StructLayout, blockNumber *big.Int) ([]*LockRecord, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	lengthWord, err := r.readWord(ctx, contract, baseSlot, blockNumber)
	if err != nil {
		return nil, err
	}
	if lengthWord.IsAbsent() {
		return nil, fmt.Errorf("%w: array length slot %v of %v is empty", ErrStorageRead, baseSlot.Dec(), contract.Hex())
	}

	lengthValue, err := Decode(lengthWord, FieldSpec{Kind: FieldUint, Bits: 256})
	if err != nil {
		return nil, err
	}
	if !lengthValue.Uint.IsUint64() || lengthValue.Uint.Uint64() > r.options.MaxElements {
		return nil, fmt.Errorf("%w: length %v, limit %v", ErrArrayTooLarge, lengthValue.Uint.Dec(), r.options.MaxElements)
	}

	length := lengthValue.Uint.Uint64()
	if length == 0 {
		return []*LockRecord{}, nil
	}

	dataStart := DataStartSlot(baseSlot)
	records := make([]*LockRecord, length)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.options.ReadConcurrency)

	for i := uint64(0); i < length; i++ {
		index := i
		group.Go(func() error {
			record, err := r.readElement(groupCtx, contract, dataStart, index, layout, blockNumber)
			if errors.Is(err, ErrElementDecodeGap) && !r.options.Strict {
				r.logger.WithFields(logrus.Fields{
					"contract": contract.Hex(),
					"slot":     baseSlot.Dec(),
					"index":    index,
				}).Warnf("skipping array element: %v", err)
				return nil
			}
			if err != nil {
				return err
			}

			records[index] = record
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := make([]*LockRecord, 0, length)
	for _, record := range records {
		if record != nil {
			result = append(result, record)
		}
	}

	return result, nil
}

func (r *Resolver) readElement(ctx context.Context, contract common.Address, dataStart *uint256.Int, index uint64, layout StructLayout, blockNumber *big.Int) (*LockRecord, error) {
	words := map[uint64]StorageWord{}
	for _, offset := range layout.words() {
		if _, ok := words[offset]; ok {
			continue
		}

		word, err := r.readWord(ctx, contract, ElementSlot(dataStart, layout.Stride, index, offset), blockNumber)
		if err != nil {
			return nil, err
		}
		if word.IsAbsent() {
			return nil, fmt.Errorf("%w: element %v word %v", ErrElementDecodeGap, index, offset)
		}

		words[offset] = word
	}

	owner, err := Decode(words[layout.Owner.Word], layout.Owner)
	if err != nil {
		return nil, err
	}
	startTime, err := Decode(words[layout.StartTime.Word], layout.StartTime)
	if err != nil {
		return nil, err
	}
	amount, err := Decode(words[layout.Amount.Word], layout.Amount)
	if err != nil {
		return nil, err
	}

	return &LockRecord{
		Index:     index,
		Owner:     owner.Address,
		StartTime: startTime.Uint.Uint64(),
		Amount:    amount.Uint,
	}, nil
}

func (r *Resolver) readWord(ctx context.Context, contract common.Address, slot *uint256.Int, blockNumber *big.Int) (StorageWord, error) {
	raw, err := r.reader.StorageAt(ctx, contract, SlotHash(slot), blockNumber)
	if err != nil {
		return StorageWord{}, fmt.Errorf("%w: slot %v: %w", ErrStorageRead, SlotHash(slot).Hex(), err)
	}

	return WordFromBytes(raw), nil
}
