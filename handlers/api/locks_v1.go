package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ethpandaops/bankwatch/slots"
)

// APILockRecordsData is the decoded lock array of one contract
type APILockRecordsData struct {
	Contract string              `json:"contract"`
	Slot     string              `json:"slot"`
	Block    uint64              `json:"block"`
	Count    int                 `json:"count"`
	Records  []*slots.LockRecord `json:"records"`
}

// APILockRecordsV1 decodes the LockInfo array stored at a contract slot
// @Summary Get lock records
// @Description Reads the dynamic LockInfo array at the given storage slot, pinned to the current head block.
// @Tags locks
// @Produce json
// @Param contract path string true "Contract address"
// @Param slot query string true "Base storage slot (decimal or 0x hex)"
// @Success 200 {object} ApiResponse{data=APILockRecordsData}
// @Failure 400 {object} ApiResponse "Invalid parameters"
// @Failure 503 {object} ApiResponse "Chain unavailable"
// @Router /v1/locks/{contract} [get]
// @ID getLockRecords
func (h *APIHandler) APILockRecordsV1(w http.ResponseWriter, r *http.Request) {
	route := "locks"
	vars := mux.Vars(r)

	contract, err := parseAddressParam("contract", vars["contract"])
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}
	slot, err := parseSlotParam(r.URL.Query().Get("slot"))
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}

	result, err := h.bank.GetLockRecords(r.Context(), contract, slot)
	if err != nil {
		sendServiceErrorResponse(w, route, err)
		return
	}

	sendOKResponseWithCode(w, route, http.StatusOK, &APILockRecordsData{
		Contract: result.Contract.Hex(),
		Slot:     result.Slot.Dec(),
		Block:    result.Block,
		Count:    len(result.Records),
		Records:  result.Records,
	})
}
