package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ethpandaops/bankwatch/services"
)

// APIPermitRequest is the body of a permit upload
type APIPermitRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	TokenID   string `json:"tokenId"`
	Deadline  string `json:"deadline"`
}

// APIPermitSetV1 stores a whitelist permit for an address
// @Summary Store permit
// @Description Stores an off-chain whitelist signature for an address. Permits expire after the configured ttl.
// @Tags permits
// @Accept json
// @Produce json
// @Param body body APIPermitRequest true "Permit"
// @Success 200 {object} ApiResponse
// @Failure 400 {object} ApiResponse "Invalid permit"
// @Router /v1/permits [post]
// @ID setPermit
func (h *APIHandler) APIPermitSetV1(w http.ResponseWriter, r *http.Request) {
	route := "permits"

	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		sendBadRequestResponse(w, route, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req APIPermitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		sendBadRequestResponse(w, route, "invalid JSON body")
		return
	}

	address, err := parseAddressParam("permit", req.Address)
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}

	err = h.bank.Permits().Set(r.Context(), address, &services.Permit{
		Signature: req.Signature,
		TokenID:   req.TokenID,
		Deadline:  req.Deadline,
	})
	if err != nil {
		sendServiceErrorResponse(w, route, err)
		return
	}

	sendOKResponseWithCode(w, route, http.StatusOK, nil)
}

// APIPermitGetV1 returns the permit of an address
// @Summary Get permit
// @Description Returns the stored permit of an address. Data is null when no permit is stored.
// @Tags permits
// @Produce json
// @Param address path string true "Address"
// @Success 200 {object} ApiResponse{data=services.Permit}
// @Failure 400 {object} ApiResponse "Invalid address"
// @Router /v1/permits/{address} [get]
// @ID getPermit
func (h *APIHandler) APIPermitGetV1(w http.ResponseWriter, r *http.Request) {
	route := "permits"

	address, err := parseAddressParam("permit", mux.Vars(r)["address"])
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}

	permit, err := h.bank.Permits().Get(r.Context(), address)
	if err != nil && !errors.Is(err, services.ErrPermitNotFound) {
		sendServiceErrorResponse(w, route, err)
		return
	}

	sendOKResponseWithCode(w, route, http.StatusOK, permit)
}

// APIPermitDeleteV1 removes the permit of an address
// @Summary Delete permit
// @Tags permits
// @Produce json
// @Param address path string true "Address"
// @Success 200 {object} ApiResponse
// @Failure 404 {object} ApiResponse "No permit stored"
// @Router /v1/permits/{address} [delete]
// @ID deletePermit
func (h *APIHandler) APIPermitDeleteV1(w http.ResponseWriter, r *http.Request) {
	route := "permits"

	address, err := parseAddressParam("permit", mux.Vars(r)["address"])
	if err != nil {
		sendBadRequestResponse(w, route, err.Error())
		return
	}

	if err := h.bank.Permits().Delete(r.Context(), address); err != nil {
		sendServiceErrorResponse(w, route, err)
		return
	}

	sendOKResponseWithCode(w, route, http.StatusOK, nil)
}
