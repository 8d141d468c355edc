package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/cache"
)

var (
	ErrPermitNotFound = errors.New("permit not found")
	ErrInvalidPermit  = errors.New("invalid permit")
)

const defaultPermitTtl = 24 * time.Hour

// Permit is an off-chain whitelist signature handed out to one address.
type Permit struct {
	Signature string `json:"signature"`
	TokenID   string `json:"tokenId"`
	Deadline  string `json:"deadline"`
}

// PermitStore keeps permits in a key-value backend with a fixed expiry.
type PermitStore struct {
	backend cache.RemoteCache
	ttl     time.Duration
	logger  logrus.FieldLogger
}

func NewPermitStore(backend cache.RemoteCache, ttl time.Duration, logger logrus.FieldLogger) *PermitStore {
	if ttl <= 0 {
		ttl = defaultPermitTtl
	}

	return &PermitStore{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
	}
}

func permitKey(address common.Address) string {
	return fmt.Sprintf("userPermit:user:%v", address.Hex())
}

func (ps *PermitStore) Set(ctx context.Context, address common.Address, permit *Permit) error {
	if permit == nil || permit.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidPermit)
	}

	if err := cache.SetJSON(ctx, ps.backend, permitKey(address), permit, ps.ttl); err != nil {
		return fmt.Errorf("error storing permit: %w", err)
	}

	ps.logger.WithField("address", address.Hex()).Debugf("stored permit for token %v", permit.TokenID)
	return nil
}

// Get returns the stored permit or ErrPermitNotFound.
func (ps *PermitStore) Get(ctx context.Context, address common.Address) (*Permit, error) {
	permit := &Permit{}
	err := cache.GetJSON(ctx, ps.backend, permitKey(address), permit)
	if errors.Is(err, cache.CacheMissError) {
		return nil, ErrPermitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading permit: %w", err)
	}

	return permit, nil
}

func (ps *PermitStore) Delete(ctx context.Context, address common.Address) error {
	deleted, err := ps.backend.Delete(ctx, permitKey(address))
	if err != nil {
		return fmt.Errorf("error deleting permit: %w", err)
	}
	if !deleted {
		return ErrPermitNotFound
	}

	return nil
}
