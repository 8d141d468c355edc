package rpc

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var ErrNotInitialized = errors.New("execution client not initialized")

type ExecutionClient struct {
	name        string
	endpoint    string
	headers     map[string]string
	callTimeout time.Duration
	rpcClient   *rpc.Client
	ethClient   *ethclient.Client
}

// NewExecutionClient is used to create a new execution client.
// A non-zero callTimeout bounds every chain read that does not carry an earlier deadline.
func NewExecutionClient(name, endpoint string, headers map[string]string, callTimeout time.Duration) (*ExecutionClient, error) {
	client := &ExecutionClient{
		name:        name,
		endpoint:    endpoint,
		headers:     headers,
		callTimeout: callTimeout,
	}

	return client, nil
}

func (ec *ExecutionClient) Initialize(ctx context.Context) error {
	if ec.ethClient != nil {
		return nil
	}

	rpcClient, err := rpc.DialContext(ctx, ec.endpoint)
	if err != nil {
		return err
	}

	for hKey, hVal := range ec.headers {
		rpcClient.SetHeader(hKey, hVal)
	}

	ec.rpcClient = rpcClient
	ec.ethClient = ethclient.NewClient(rpcClient)

	return nil
}

func (ec *ExecutionClient) GetName() string {
	return ec.name
}

func (ec *ExecutionClient) GetEthClient() *ethclient.Client {
	return ec.ethClient
}

func (ec *ExecutionClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ec.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ec.callTimeout)
}

func (ec *ExecutionClient) GetClientVersion(ctx context.Context) (string, error) {
	if ec.rpcClient == nil {
		return "", ErrNotInitialized
	}

	var result string
	err := ec.rpcClient.CallContext(ctx, &result, "web3_clientVersion")

	return result, err
}

// GetChainID returns the chain id reported by the node as a decimal string.
func (ec *ExecutionClient) GetChainID(ctx context.Context) (string, error) {
	if ec.ethClient == nil {
		return "", ErrNotInitialized
	}

	chainID, err := ec.ethClient.ChainID(ctx)
	if err != nil {
		return "", err
	}

	return chainID.String(), nil
}

// GetNodeSyncing returns the sync progress of the node, or nil when it is not syncing.
func (ec *ExecutionClient) GetNodeSyncing(ctx context.Context) (*ethereum.SyncProgress, error) {
	if ec.ethClient == nil {
		return nil, ErrNotInitialized
	}

	return ec.ethClient.SyncProgress(ctx)
}

type BlockFilterId string

func (ec *ExecutionClient) NewBlockFilter(ctx context.Context) (BlockFilterId, error) {
	var result BlockFilterId
	err := ec.rpcClient.CallContext(ctx, &result, "eth_newBlockFilter")
	return result, err
}

func (ec *ExecutionClient) GetFilterChanges(ctx context.Context, filterId BlockFilterId) ([]string, error) {
	var result []string
	err := ec.rpcClient.CallContext(ctx, &result, "eth_getFilterChanges", filterId)
	return result, err
}

func (ec *ExecutionClient) UninstallBlockFilter(ctx context.Context, filterId BlockFilterId) (bool, error) {
	var result bool
	err := ec.rpcClient.CallContext(ctx, &result, "eth_uninstallFilter", filterId)
	return result, err
}

func (ec *ExecutionClient) GetLatestHeader(ctx context.Context) (*types.Header, error) {
	if ec.ethClient == nil {
		return nil, ErrNotInitialized
	}

	header, err := ec.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}

	return header, nil
}

func (ec *ExecutionClient) GetHeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	header, err := ec.ethClient.HeaderByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	return header, nil
}

// BlockNumber returns the most recent block number known to the node.
func (ec *ExecutionClient) BlockNumber(ctx context.Context) (uint64, error) {
	if ec.ethClient == nil {
		return 0, ErrNotInitialized
	}

	ctx, cancel := ec.callContext(ctx)
	defer cancel()

	return ec.ethClient.BlockNumber(ctx)
}

// StorageAt reads one raw storage word of account at blockNumber (nil for latest).
func (ec *ExecutionClient) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	if ec.ethClient == nil {
		return nil, ErrNotInitialized
	}

	ctx, cancel := ec.callContext(ctx)
	defer cancel()

	return ec.ethClient.StorageAt(ctx, account, key, blockNumber)
}

func (ec *ExecutionClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if ec.ethClient == nil {
		return nil, ErrNotInitialized
	}

	ctx, cancel := ec.callContext(ctx)
	defer cancel()

	return ec.ethClient.FilterLogs(ctx, q)
}

func (ec *ExecutionClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if ec.ethClient == nil {
		return nil, ErrNotInitialized
	}

	ctx, cancel := ec.callContext(ctx)
	defer cancel()

	return ec.ethClient.CallContract(ctx, msg, blockNumber)
}

func (ec *ExecutionClient) BalanceAt(ctx context.Context, wallet common.Address, blockNumber *big.Int) (*big.Int, error) {
	if ec.ethClient == nil {
		return nil, ErrNotInitialized
	}

	ctx, cancel := ec.callContext(ctx)
	defer cancel()

	return ec.ethClient.BalanceAt(ctx, wallet, blockNumber)
}
