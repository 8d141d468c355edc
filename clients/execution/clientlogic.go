package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethpandaops/bankwatch/clients/execution/rpc"
)

const (
	rpcRequestTimeout = 10 * time.Second
	maxRetryDelay     = 5 * time.Minute
)

func (client *Client) runClientLoop() {
	defer func() {
		if err := recover(); err != nil {
			client.logger.Errorf("uncaught panic in execution client loop: %v, stack: %v", err, string(debug.Stack()))
			time.Sleep(10 * time.Second)

			go client.runClientLoop()
		}
	}()

	for {
		err := client.connect()
		if err == nil {
			err = client.trackHead()
		}
		if err == nil {
			return
		}

		client.setOnline(false)
		client.retryCounter++
		delay := retryDelay(client.endpointConfig.HeadPollInterval, client.retryCounter)
		client.logger.Warnf("execution client error: %v, retrying in %v", err, delay)

		select {
		case <-client.clientCtx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// retryDelay doubles the head poll interval with every failed attempt, up to maxRetryDelay.
func retryDelay(pollInterval time.Duration, attempt uint64) time.Duration {
	delay := pollInterval
	for i := uint64(1); i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// connect dials the node and checks it serves the chain seen on the first connection.
func (client *Client) connect() error {
	ctx, cancel := context.WithTimeout(client.clientCtx, 60*time.Second)
	defer cancel()

	if err := client.rpcClient.Initialize(ctx); err != nil {
		return fmt.Errorf("initialization of execution client failed: %w", err)
	}

	nodeVersion, err := client.rpcClient.GetClientVersion(ctx)
	if err != nil {
		return fmt.Errorf("error while fetching node version: %v", err)
	}
	client.versionStr = nodeVersion
	client.clientType = ParseClientVersion(nodeVersion)

	// contract addresses are only meaningful on the chain seen first
	chainID, err := client.rpcClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("error while fetching chain id: %v", err)
	}
	if client.chainID != "" && client.chainID != chainID {
		return fmt.Errorf("chain id changed from %v to %v", client.chainID, chainID)
	}
	client.chainID = chainID

	syncProgress, err := client.rpcClient.GetNodeSyncing(ctx)
	if err != nil {
		return fmt.Errorf("error while fetching synchronization status: %v", err)
	}
	client.setSyncing(syncProgress != nil)
	if syncProgress != nil {
		return fmt.Errorf("execution client is synchronizing (%.2f%%)", syncPercent(syncProgress.CurrentBlock, syncProgress.HighestBlock))
	}

	return nil
}

func syncPercent(current, highest uint64) float64 {
	if highest == 0 {
		return 0
	}
	return float64(current) / float64(highest) * 100
}

// trackHead follows the head block until the context is cancelled or the node stops answering.
// New heads come from an eth_newBlockFilter when the node supports one. The latest header is
// polled directly once no head arrived for three poll intervals.
func (client *Client) trackHead() error {
	if err := client.pollLatestHeader(); err != nil {
		return err
	}

	filter := client.installBlockFilter()
	defer func() {
		if filter != "" {
			ctx, cancel := context.WithTimeout(context.Background(), rpcRequestTimeout)
			defer cancel()
			client.rpcClient.UninstallBlockFilter(ctx, filter)
		}
	}()

	client.setOnline(true)
	client.retryCounter = 0
	client.logger.WithField("client_type", client.clientType.String()).Infof("execution client online: %v (chain %v)", client.versionStr, client.chainID)

	pollInterval := client.endpointConfig.HeadPollInterval
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.clientCtx.Done():
			return nil
		case <-ticker.C:
		}

		if filter != "" {
			hash, err := client.pollBlockFilter(filter)
			switch {
			case err != nil && strings.Contains(err.Error(), "not found"):
				client.logger.Warnf("block filter expired, installing a new one")
				filter = client.installBlockFilter()
			case err != nil:
				client.logger.Warnf("error polling block filter changes: %v", err)
			case hash != nil:
				if err := client.loadHeader(*hash); err != nil {
					client.logger.Warnf("error loading block: %v", err)
				}
			}
		}

		if client.sinceLastEvent() >= 3*pollInterval {
			if err := client.pollLatestHeader(); err != nil {
				return err
			}
		}
	}
}

func (client *Client) installBlockFilter() rpc.BlockFilterId {
	ctx, cancel := context.WithTimeout(client.clientCtx, rpcRequestTimeout)
	defer cancel()

	filter, err := client.rpcClient.NewBlockFilter(ctx)
	if err != nil {
		client.logger.Warnf("could not create block filter, polling the latest header instead: %v", err)
		return ""
	}
	return filter
}

func (client *Client) pollLatestHeader() error {
	ctx, cancel := context.WithTimeout(client.clientCtx, rpcRequestTimeout)
	defer cancel()

	header, err := client.rpcClient.GetLatestHeader(ctx)
	if err != nil {
		return fmt.Errorf("could not get latest header: %v", err)
	}

	return client.applyHeader(header)
}

func (client *Client) pollBlockFilter(filter rpc.BlockFilterId) (*common.Hash, error) {
	ctx, cancel := context.WithTimeout(client.clientCtx, rpcRequestTimeout)
	defer cancel()

	blockHashes, err := client.rpcClient.GetFilterChanges(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("could not get filter changes: %v", err)
	}
	if len(blockHashes) == 0 {
		return nil, nil
	}

	// only the newest block matters
	latest := common.HexToHash(blockHashes[len(blockHashes)-1])
	return &latest, nil
}

func (client *Client) loadHeader(hash common.Hash) error {
	ctx, cancel := context.WithTimeout(client.clientCtx, rpcRequestTimeout)
	defer cancel()

	header, err := client.rpcClient.GetHeaderByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("could not get header by hash %v: %v", hash.String(), err)
	}

	return client.applyHeader(header)
}

func (client *Client) applyHeader(header *types.Header) error {
	if header == nil {
		return fmt.Errorf("node returned no header")
	}

	client.setHead(header.Number.Uint64(), header.Hash())
	client.touch()
	return nil
}
