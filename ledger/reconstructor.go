package ledger

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// AccountState is the reconstructed custodial position of one account.
type AccountState struct {
	EthBalance      *uint256.Int
	TokenBalance    *uint256.Int
	LastUpdateBlock uint64
}

// Ledger is the result of replaying a set of events.
type Ledger struct {
	Accounts  map[common.Address]*AccountState
	Applied   int
	Discarded int
}

// AccountBalance is one row of a ledger ranking.
type AccountBalance struct {
	Account         common.Address `json:"account"`
	EthBalance      *uint256.Int   `json:"eth_balance"`
	TokenBalance    *uint256.Int   `json:"token_balance"`
	LastUpdateBlock uint64         `json:"last_update_block"`
}

type ReconstructorOptions struct {
	// Token restricts token events to a single token contract when set.
	Token *common.Address
}

// Reconstructor replays ledger events into per-account balances.
type Reconstructor struct {
	logger  logrus.FieldLogger
	options ReconstructorOptions
}

func NewReconstructor(logger logrus.FieldLogger, options ReconstructorOptions) *Reconstructor {
	return &Reconstructor{
		logger:  logger,
		options: options,
	}
}

// Reconstruct builds a fresh ledger from events. The input slice is not modified.
func (r *Reconstructor) Reconstruct(events []*LedgerEvent) *Ledger {
	return r.Apply(nil, events)
}

// Apply replays events on top of a copy of base (nil for an empty ledger).
// Events older than an account's last applied block are discarded. Withdrawals
// never take a balance below zero and deposits saturate at 2^256-1.
func (r *Reconstructor) Apply(base *Ledger, events []*LedgerEvent) *Ledger {
	ordered := make([]*LedgerEvent, len(events))
	copy(ordered, events)
	sortEvents(ordered)

	ledger := base.clone()

	for _, event := range ordered {
		if event.Kind.IsToken() && r.options.Token != nil && (event.Token == nil || *event.Token != *r.options.Token) {
			continue
		}

		state := ledger.Accounts[event.Account]
		if state == nil {
			state = &AccountState{
				EthBalance:   new(uint256.Int),
				TokenBalance: new(uint256.Int),
			}
			ledger.Accounts[event.Account] = state
		}

		if event.BlockNumber < state.LastUpdateBlock {
			ledger.Discarded++
			continue
		}

		balance := state.EthBalance
		if event.Kind.IsToken() {
			balance = state.TokenBalance
		}

		if event.Kind.IsDeposit() {
			if _, overflow := balance.AddOverflow(balance, event.Amount); overflow {
				r.logger.WithField("account", event.Account.Hex()).Debugf("%v of %v overflows, saturating", event.Kind, event.Amount.Dec())
				balance.SetAllOne()
			}
		} else if balance.Lt(event.Amount) {
			r.logger.WithField("account", event.Account.Hex()).Debugf("%v of %v exceeds balance %v, clamping to zero", event.Kind, event.Amount.Dec(), balance.Dec())
			balance.Clear()
		} else {
			balance.Sub(balance, event.Amount)
		}

		state.LastUpdateBlock = event.BlockNumber
		ledger.Applied++
	}

	return ledger
}

func (l *Ledger) clone() *Ledger {
	ledger := &Ledger{
		Accounts: map[common.Address]*AccountState{},
	}
	if l == nil {
		return ledger
	}

	for account, state := range l.Accounts {
		ledger.Accounts[account] = &AccountState{
			EthBalance:      state.EthBalance.Clone(),
			TokenBalance:    state.TokenBalance.Clone(),
			LastUpdateBlock: state.LastUpdateBlock,
		}
	}
	return ledger
}

// Balance returns a copy of the account's state, or nil if the account never appeared.
func (l *Ledger) Balance(account common.Address) *AccountBalance {
	state := l.Accounts[account]
	if state == nil {
		return nil
	}
	return newAccountBalance(account, state)
}

// Ranking lists accounts with a nonzero balance ordered by eth plus token balance,
// largest first. Ties are ordered by ascending address.
func (l *Ledger) Ranking() []*AccountBalance {
	type rankedAccount struct {
		balance *AccountBalance
		total   *big.Int
	}

	ranked := make([]rankedAccount, 0, len(l.Accounts))
	for account, state := range l.Accounts {
		if state.EthBalance.IsZero() && state.TokenBalance.IsZero() {
			continue
		}

		total := new(big.Int).Add(state.EthBalance.ToBig(), state.TokenBalance.ToBig())
		ranked = append(ranked, rankedAccount{
			balance: newAccountBalance(account, state),
			total:   total,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if cmp := ranked[i].total.Cmp(ranked[j].total); cmp != 0 {
			return cmp > 0
		}
		return bytes.Compare(ranked[i].balance.Account[:], ranked[j].balance.Account[:]) < 0
	})

	result := make([]*AccountBalance, len(ranked))
	for idx, entry := range ranked {
		result[idx] = entry.balance
	}
	return result
}

func newAccountBalance(account common.Address, state *AccountState) *AccountBalance {
	return &AccountBalance{
		Account:         account,
		EthBalance:      state.EthBalance.Clone(),
		TokenBalance:    state.TokenBalance.Clone(),
		LastUpdateBlock: state.LastUpdateBlock,
	}
}
