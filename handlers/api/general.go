package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/services"
	"github.com/ethpandaops/bankwatch/slots"
)

type ApiResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
}

func parseAddressParam(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %v address: %v", name, value)
	}
	return common.HexToAddress(value), nil
}

// parseOptionalAddressParam returns nil for an empty value.
func parseOptionalAddressParam(name, value string) (*common.Address, error) {
	if value == "" {
		return nil, nil
	}
	address, err := parseAddressParam(name, value)
	if err != nil {
		return nil, err
	}
	return &address, nil
}

func parseSlotParam(value string) (*uint256.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("missing slot parameter")
	}
	return slots.ParseSlot(value)
}

// sendServiceErrorResponse maps service errors onto http status codes.
func sendServiceErrorResponse(w http.ResponseWriter, route string, err error) {
	switch {
	case errors.Is(err, services.ErrPermitNotFound):
		sendErrorWithCodeResponse(w, route, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidPermit):
		sendBadRequestResponse(w, route, err.Error())
	case errors.Is(err, services.ErrCallRateLimited):
		sendErrorWithCodeResponse(w, route, err.Error(), http.StatusTooManyRequests)
	case services.IsSoftFailure(err):
		sendErrorWithCodeResponse(w, route, err.Error(), http.StatusServiceUnavailable)
	default:
		logrus.WithError(err).Warnf("error serving API %v route", route)
		sendServerErrorResponse(w, route, err.Error())
	}
}

func sendBadRequestResponse(w http.ResponseWriter, route, message string) {
	sendErrorWithCodeResponse(w, route, message, http.StatusBadRequest)
}

func sendServerErrorResponse(w http.ResponseWriter, route, message string) {
	sendErrorWithCodeResponse(w, route, message, http.StatusInternalServerError)
}

func sendErrorWithCodeResponse(w http.ResponseWriter, route, message string, errorcode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errorcode)
	j := json.NewEncoder(w)
	response := &ApiResponse{}
	response.Status = "ERROR: " + message
	err := j.Encode(response)

	if err != nil {
		logrus.Errorf("error serializing json error for API %v route: %v", route, err)
	}
}

func SendOKResponse(j *json.Encoder, route string, data []interface{}) {
	response := &ApiResponse{}
	response.Status = "OK"

	if len(data) == 1 {
		response.Data = data[0]
	} else {
		response.Data = data
	}
	err := j.Encode(response)

	if err != nil {
		logrus.Errorf("error serializing json data for API %v route: %v", route, err)
	}
}

func sendOKResponseWithCode(w http.ResponseWriter, route string, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	SendOKResponse(json.NewEncoder(w), route, []interface{}{data})
}
