package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethpandaops/bankwatch/ledger"
)

// APILedgerData is the ranked ledger of the latest reconstruction pass
type APILedgerData struct {
	FromBlock  uint64                   `json:"from_block"`
	ToBlock    uint64                   `json:"to_block"`
	EventCount int                      `json:"event_count"`
	Applied    int                      `json:"applied"`
	Discarded  int                      `json:"discarded"`
	Accounts   int                      `json:"accounts"`
	Ranking    []*ledger.AccountBalance `json:"ranking"`
	CapturedAt time.Time                `json:"captured_at"`
}

// APILedgerV1 returns the reconstructed balances of all accounts
// @Summary Get reconstructed ledger
// @Description Returns balances reconstructed from bank deposit and withdraw events within the configured block window, ordered by total balance.
// @Tags ledger
// @Produce json
// @Param limit query int false "Maximum number of ranked accounts to return"
// @Success 200 {object} ApiResponse{data=APILedgerData}
// @Failure 400 {object} ApiResponse "Invalid parameters"
// @Failure 503 {object} ApiResponse "Event logs unavailable"
// @Router /v1/ledger [get]
// @ID getLedger
func (h *APIHandler) APILedgerV1(w http.ResponseWriter, r *http.Request) {
	route := "ledger"

	limit := -1
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.ParseUint(limitStr, 10, 32)
		if err != nil {
			sendBadRequestResponse(w, route, "invalid limit parameter")
			return
		}
		limit = int(parsed)
	}

	snapshot, err := h.bank.GetLedger(r.Context())
	if err != nil {
		sendServiceErrorResponse(w, route, err)
		return
	}

	ranking := snapshot.Ranking
	if limit >= 0 && len(ranking) > limit {
		ranking = ranking[:limit]
	}

	sendOKResponseWithCode(w, route, http.StatusOK, &APILedgerData{
		FromBlock:  snapshot.FromBlock,
		ToBlock:    snapshot.ToBlock,
		EventCount: snapshot.EventCount,
		Applied:    snapshot.Applied,
		Discarded:  snapshot.Discarded,
		Accounts:   len(snapshot.Ranking),
		Ranking:    ranking,
		CapturedAt: snapshot.CapturedAtTime,
	})
}
