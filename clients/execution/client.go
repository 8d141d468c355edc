package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/clients/execution/rpc"
	"github.com/ethpandaops/bankwatch/utils"
)

var ErrNoHead = errors.New("no head block known")

var (
	clientInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bankwatch_execution_client_info",
		Help: "Execution client identity, 1 while the client is online",
	}, []string{"client", "client_type", "version"})
	clientHead = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bankwatch_execution_client_head",
		Help: "Latest head block seen by the execution client",
	}, []string{"client"})
)

type ClientStatus uint8

var (
	ClientStatusOnline        ClientStatus = 1
	ClientStatusOffline       ClientStatus = 2
	ClientStatusSynchronizing ClientStatus = 3
)

func (status ClientStatus) String() string {
	switch status {
	case ClientStatusOnline:
		return "online"
	case ClientStatusSynchronizing:
		return "synchronizing"
	default:
		return "offline"
	}
}

type ClientConfig struct {
	URL              string
	Name             string
	Headers          map[string]string
	CallTimeout      time.Duration
	HeadPollInterval time.Duration
}

// HeadUpdate is fired whenever the tracked head block changes.
type HeadUpdate struct {
	Number uint64
	Hash   common.Hash
}

// Client keeps a connection to one execution node and tracks its head block.
type Client struct {
	endpointConfig  *ClientConfig
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc
	rpcClient       *rpc.ExecutionClient
	logger          *logrus.Entry
	versionStr      string
	chainID         string
	clientType      ClientType
	retryCounter    uint64
	headDispatcher  utils.Dispatcher[*HeadUpdate]

	stateMutex sync.RWMutex
	isOnline   bool
	isSyncing  bool
	lastEvent  time.Time
	headHash   common.Hash
	headNumber uint64
}

func NewClient(ctx context.Context, endpoint *ClientConfig, logger logrus.FieldLogger) (*Client, error) {
	rpcClient, err := rpc.NewExecutionClient(endpoint.Name, endpoint.URL, endpoint.Headers, endpoint.CallTimeout)
	if err != nil {
		return nil, err
	}

	if endpoint.HeadPollInterval <= 0 {
		endpoint.HeadPollInterval = 12 * time.Second
	}

	client := Client{
		endpointConfig: endpoint,
		rpcClient:      rpcClient,
		logger:         logger.WithField("client", endpoint.Name),
	}
	client.clientCtx, client.clientCtxCancel = context.WithCancel(ctx)

	return &client, nil
}

// Start runs the connection and head tracking loop in the background until Stop is called.
func (client *Client) Start() {
	go client.runClientLoop()
}

func (client *Client) Stop() {
	client.clientCtxCancel()
}

func (client *Client) GetLastHead() (uint64, common.Hash) {
	client.stateMutex.RLock()
	defer client.stateMutex.RUnlock()

	return client.headNumber, client.headHash
}

func (client *Client) GetRPCClient() *rpc.ExecutionClient {
	return client.rpcClient
}

func (client *Client) GetStatus() ClientStatus {
	client.stateMutex.RLock()
	defer client.stateMutex.RUnlock()

	return client.getStatus()
}

func (client *Client) getStatus() ClientStatus {
	switch {
	case client.isSyncing:
		return ClientStatusSynchronizing
	case client.isOnline:
		return ClientStatusOnline
	default:
		return ClientStatusOffline
	}
}

// maxHeadAge is how long a head stays valid without the node confirming it. The head is
// re-polled after three quiet poll intervals, so one more interval covers a slow poll.
func (client *Client) maxHeadAge() time.Duration {
	return 4 * client.endpointConfig.HeadPollInterval
}

// CurrentBlock returns the tracked head block number without touching the node.
// It fails with ErrNoHead while the client is not online or the head has not been
// confirmed recently.
func (client *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	client.stateMutex.RLock()
	defer client.stateMutex.RUnlock()

	if client.headHash == (common.Hash{}) {
		return 0, ErrNoHead
	}
	if status := client.getStatus(); status != ClientStatusOnline {
		return 0, fmt.Errorf("%w: client %v", ErrNoHead, status)
	}
	if age := time.Since(client.lastEvent); age > client.maxHeadAge() {
		return 0, fmt.Errorf("%w: head %v not confirmed for %v", ErrNoHead, client.headNumber, age.Round(time.Second))
	}

	return client.headNumber, nil
}

// SubscribeHeads returns a subscription to head changes. A slow subscriber skips
// heads but always receives the latest one.
func (client *Client) SubscribeHeads(capacity int) *utils.Subscription[*HeadUpdate] {
	return client.headDispatcher.Subscribe(capacity)
}

func (client *Client) setOnline(online bool) {
	client.stateMutex.Lock()
	client.isOnline = online
	if online {
		client.lastEvent = time.Now()
	}
	client.stateMutex.Unlock()

	clientInfo.DeletePartialMatch(prometheus.Labels{"client": client.endpointConfig.Name})
	if online {
		clientInfo.WithLabelValues(client.endpointConfig.Name, client.clientType.String(), client.versionStr).Set(1)
	}
}

func (client *Client) setSyncing(syncing bool) {
	client.stateMutex.Lock()
	defer client.stateMutex.Unlock()

	client.isSyncing = syncing
}

// touch records that the node just confirmed the current head.
func (client *Client) touch() {
	client.stateMutex.Lock()
	defer client.stateMutex.Unlock()

	client.lastEvent = time.Now()
}

func (client *Client) sinceLastEvent() time.Duration {
	client.stateMutex.RLock()
	defer client.stateMutex.RUnlock()

	return time.Since(client.lastEvent)
}

func (client *Client) setHead(number uint64, hash common.Hash) {
	client.stateMutex.Lock()
	changed := client.headHash != hash
	client.headNumber = number
	client.headHash = hash
	client.stateMutex.Unlock()

	if changed {
		clientHead.WithLabelValues(client.endpointConfig.Name).Set(float64(number))
		client.headDispatcher.Fire(&HeadUpdate{
			Number: number,
			Hash:   hash,
		})
	}
}
