package contracts

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const tokenBankViewAbi = `[{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"ethBalanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"totalEthDeposits","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"address","name":"user","type":"address"}],"name":"tokenBalanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"token","type":"address"}],"name":"getTotalTokenDeposits","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const erc20ViewAbi = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	bankAbi  abi.ABI
	erc20Abi abi.ABI
)

func init() {
	var err error
	bankAbi, err = abi.JSON(strings.NewReader(tokenBankViewAbi))
	if err != nil {
		log.Fatal(err)
	}
	erc20Abi, err = abi.JSON(strings.NewReader(erc20ViewAbi))
	if err != nil {
		log.Fatal(err)
	}
}

// ContractCaller is the part of the execution client needed for view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenBank reads the custodial contract's view functions. All reads accept a block
// number so callers can pin them to one anchor (nil for latest).
type TokenBank struct {
	caller ContractCaller
	bank   common.Address
}

func NewTokenBank(caller ContractCaller, bank common.Address) *TokenBank {
	return &TokenBank{
		caller: caller,
		bank:   bank,
	}
}

func (tb *TokenBank) Address() common.Address {
	return tb.bank
}

func (tb *TokenBank) EthBalanceOf(ctx context.Context, user common.Address, blockNumber *big.Int) (*uint256.Int, error) {
	return callUint(ctx, tb.caller, tb.bank, &bankAbi, "ethBalanceOf", blockNumber, user)
}

func (tb *TokenBank) TotalEthDeposits(ctx context.Context, blockNumber *big.Int) (*uint256.Int, error) {
	return callUint(ctx, tb.caller, tb.bank, &bankAbi, "totalEthDeposits", blockNumber)
}

func (tb *TokenBank) TokenBalanceOf(ctx context.Context, token, user common.Address, blockNumber *big.Int) (*uint256.Int, error) {
	return callUint(ctx, tb.caller, tb.bank, &bankAbi, "tokenBalanceOf", blockNumber, token, user)
}

func (tb *TokenBank) TotalTokenDeposits(ctx context.Context, token common.Address, blockNumber *big.Int) (*uint256.Int, error) {
	return callUint(ctx, tb.caller, tb.bank, &bankAbi, "getTotalTokenDeposits", blockNumber, token)
}

// TokenBalanceOf reads an ERC20 wallet balance.
func TokenBalanceOf(ctx context.Context, caller ContractCaller, token, user common.Address, blockNumber *big.Int) (*uint256.Int, error) {
	return callUint(ctx, caller, token, &erc20Abi, "balanceOf", blockNumber, user)
}

func callUint(ctx context.Context, caller ContractCaller, target common.Address, contractAbi *abi.ABI, method string, blockNumber *big.Int, args ...interface{}) (*uint256.Int, error) {
	callData, err := contractAbi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("error packing %v call: %w", method, err)
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{
		To:   &target,
		Data: callData,
	}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("%v call failed: %w", method, err)
	}

	values, err := contractAbi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("error decoding %v result: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%v returned %v values, expected 1", method, len(values))
	}

	valueBig, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%v returned unexpected type %T", method, values[0])
	}

	value, overflow := uint256.FromBig(valueBig)
	if overflow {
		return nil, fmt.Errorf("%v result overflows uint256", method)
	}

	return value, nil
}
