package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/bankwatch/ledger"
	"github.com/ethpandaops/bankwatch/services"
)

// APIBalancesData contains the balances of one account view
type APIBalancesData struct {
	Account       string                 `json:"account"`
	Token         string                 `json:"token,omitempty"`
	EthBalance    *uint256.Int           `json:"eth_balance"`
	TokenBalance  *uint256.Int           `json:"token_balance,omitempty"`
	BankBalance   *uint256.Int           `json:"bank_balance"`
	TotalDeposits *uint256.Int           `json:"total_deposits"`
	Ledger        *ledger.AccountBalance `json:"ledger,omitempty"`
	Block         uint64                 `json:"block"`
	CapturedAt    time.Time              `json:"captured_at"`
	Stale         bool                   `json:"stale"`
}

// APIBalancesRefreshData acknowledges a scheduled refresh
type APIBalancesRefreshData struct {
	Account string `json:"account"`
	Token   string `json:"token,omitempty"`
}

func parseBalanceKey(r *http.Request) (services.BalanceKey, error) {
	account, err := parseAddressParam("account", mux.Vars(r)["account"])
	if err != nil {
		return services.BalanceKey{}, err
	}
	token, err := parseOptionalAddressParam("token", r.URL.Query().Get("token"))
	if err != nil {
		return services.BalanceKey{}, err
	}

	return services.BalanceKey{
		Account: account,
		Token:   token,
	}, nil
}

// APIBalancesV1 returns the cached balances of an account
// @Summary Get account balances
// @Description Returns wallet and bank balances of an account. Without a token the ETH view is returned. Entries are refreshed when older than the cache ttl or too many blocks behind the head.
// @Tags balances
// @Produce json
// @Param account path string true "Account address"
// @Param token query string false "Token contract address"
// @Success 200 {object} ApiResponse{data=APIBalancesData}
// @Failure 400 {object} ApiResponse "Invalid parameters"
// @Failure 503 {object} ApiResponse "Balances unavailable"
// @Router /v1/balances/{account} [get]
// @ID getBalances
func (h *APIHandler) APIBalancesV1(w http.ResponseWriter, r *http.Request) {
	route := "balances"

	key, err := parseBalanceKey(r)
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}

	balances, err := h.bank.GetAccountBalances(r.Context(), key)
	if err != nil {
		sendServiceErrorResponse(w, route, err)
		return
	}

	data := &APIBalancesData{
		Account:       key.Account.Hex(),
		EthBalance:    balances.WalletEthBalance,
		TokenBalance:  balances.WalletTokenBalance,
		BankBalance:   balances.BankBalance,
		TotalDeposits: balances.TotalDeposits,
		Ledger:        balances.Ledger,
		Block:         balances.Block,
		CapturedAt:    balances.CapturedAt,
		Stale:         balances.Stale,
	}
	if key.Token != nil {
		data.Token = key.Token.Hex()
	}

	sendOKResponseWithCode(w, route, http.StatusOK, data)
}

// APIBalancesRefreshV1 schedules a balance refresh
// @Summary Refresh account balances
// @Description Schedules a background refresh of an account view. Concurrent refreshes of the same view are collapsed.
// @Tags balances
// @Produce json
// @Param account path string true "Account address"
// @Param token query string false "Token contract address"
// @Success 202 {object} ApiResponse{data=APIBalancesRefreshData}
// @Failure 400 {object} ApiResponse "Invalid parameters"
// @Failure 429 {object} ApiResponse "Rate limited"
// @Router /v1/balances/{account}/refresh [post]
// @ID refreshBalances
func (h *APIHandler) APIBalancesRefreshV1(w http.ResponseWriter, r *http.Request) {
	route := "balances/refresh"

	key, err := parseBalanceKey(r)
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}

	if err := h.rateLimiter.CheckCallLimit(r, refreshCallCost); err != nil {
		sendServiceErrorResponse(w, route, err)
		return
	}

	h.bank.RefreshBalances(key)

	data := &APIBalancesRefreshData{
		Account: key.Account.Hex(),
	}
	if key.Token != nil {
		data.Token = key.Token.Hex()
	}
	sendOKResponseWithCode(w, route, http.StatusAccepted, data)
}
