package api

// @title Bankwatch API
// @version 1.0
// @description Read-only access to token bank lock records, balances and the reconstructed event ledger.

// @BasePath /api/v1
// @schemes http https

// @tag.name locks
// @tag.description Lock records decoded from contract storage

// @tag.name balances
// @tag.description Cached wallet and bank balances

// @tag.name ledger
// @tag.description Balances reconstructed from bank events

// @tag.name permits
// @tag.description Off-chain whitelist permits

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/bankwatch/services"
)

// refreshCallCost is the rate limiter cost of one refresh trigger.
const refreshCallCost = 1

type APIHandler struct {
	bank        *services.BankService
	rateLimiter *services.CallRateLimiter
	logger      logrus.FieldLogger
}

func NewAPIHandler(bank *services.BankService, rateLimiter *services.CallRateLimiter, logger logrus.FieldLogger) *APIHandler {
	return &APIHandler{
		bank:        bank,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// RegisterRoutes adds the v1 API routes to router.
func (h *APIHandler) RegisterRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/locks/{contract}", h.APILockRecordsV1).Methods("GET")
	apiRouter.HandleFunc("/balances/{account}", h.APIBalancesV1).Methods("GET")
	apiRouter.HandleFunc("/balances/{account}/refresh", h.APIBalancesRefreshV1).Methods("POST")
	apiRouter.HandleFunc("/ledger", h.APILedgerV1).Methods("GET")

	if h.bank.Permits() != nil {
		apiRouter.HandleFunc("/permits", h.APIPermitSetV1).Methods("POST")
		apiRouter.HandleFunc("/permits/{address}", h.APIPermitGetV1).Methods("GET")
		apiRouter.HandleFunc("/permits/{address}", h.APIPermitDeleteV1).Methods("DELETE")
	}

	apiRouter.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendErrorWithCodeResponse(w, r.URL.Path, "route not found", http.StatusNotFound)
	})
	apiRouter.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendErrorWithCodeResponse(w, r.URL.Path, "method not allowed", http.StatusMethodNotAllowed)
	})
}
