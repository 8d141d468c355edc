package ledger

import (
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

const tokenBankEventsAbi = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"EthDeposit","type":"event"},{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":true,"internalType":"address","name":"token","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"TokenDeposit","type":"event"},{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"EthWithdraw","type":"event"},{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"user","type":"address"},{"indexed":true,"internalType":"address","name":"token","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"TokenWithdraw","type":"event"}]`

var eventsAbi abi.ABI

func init() {
	var err error
	eventsAbi, err = abi.JSON(strings.NewReader(tokenBankEventsAbi))
	if err != nil {
		log.Fatal(err)
	}
}

// EventKind identifies one of the custodial contract's ledger events.
type EventKind uint8

const (
	EthDeposit EventKind = iota + 1
	TokenDeposit
	EthWithdraw
	TokenWithdraw
)

// AllEventKinds lists every kind in the order they are fetched.
var AllEventKinds = []EventKind{EthDeposit, TokenDeposit, EthWithdraw, TokenWithdraw}

func (k EventKind) String() string {
	switch k {
	case EthDeposit:
		return "EthDeposit"
	case TokenDeposit:
		return "TokenDeposit"
	case EthWithdraw:
		return "EthWithdraw"
	case TokenWithdraw:
		return "TokenWithdraw"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func ParseEventKind(name string) (EventKind, error) {
	for _, kind := range AllEventKinds {
		if strings.EqualFold(kind.String(), name) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}

func (k EventKind) IsDeposit() bool {
	return k == EthDeposit || k == TokenDeposit
}

func (k EventKind) IsToken() bool {
	return k == TokenDeposit || k == TokenWithdraw
}

// Topic returns the event signature hash used as topic0.
func (k EventKind) Topic() common.Hash {
	return eventsAbi.Events[k.String()].ID
}

// LedgerEvent is one decoded deposit or withdrawal.
type LedgerEvent struct {
	Kind        EventKind       `json:"kind"`
	Account     common.Address  `json:"account"`
	Token       *common.Address `json:"token,omitempty"`
	Amount      *uint256.Int    `json:"amount"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
	TxHash      common.Hash     `json:"tx_hash"`
}

// decodeLog parses a raw log of the given kind.
func decodeLog(kind EventKind, log *types.Log) (*LedgerEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != kind.Topic() {
		return nil, fmt.Errorf("log is not a %v event", kind)
	}

	topicCount := 2
	if kind.IsToken() {
		topicCount = 3
	}
	if len(log.Topics) != topicCount {
		return nil, fmt.Errorf("%v event has %v topics, expected %v", kind, len(log.Topics), topicCount)
	}

	values, err := eventsAbi.Unpack(kind.String(), log.Data)
	if err != nil {
		return nil, fmt.Errorf("error decoding %v event data: %w", kind, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%v event has %v data values, expected 1", kind, len(values))
	}

	amountBig, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%v event amount has unexpected type %T", kind, values[0])
	}
	amount, overflow := uint256.FromBig(amountBig)
	if overflow {
		return nil, fmt.Errorf("%v event amount overflows uint256", kind)
	}

	event := &LedgerEvent{
		Kind:        kind,
		Account:     common.BytesToAddress(log.Topics[1].Bytes()),
		Amount:      amount,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
	}
	if kind.IsToken() {
		token := common.BytesToAddress(log.Topics[2].Bytes())
		event.Token = &token
	}

	return event, nil
}
