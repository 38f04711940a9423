package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/balance"
	"github.com/pipelink-labs/pipelink-go/internal/platform/httpserver"
	"github.com/pipelink-labs/pipelink-go/internal/platform/requestid"
	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
)

type walletBalanceResponse struct {
	Address   string      `json:"address"`
	Balance   json.Number `json:"balance"`
	Lamports  uint64      `json:"lamports"`
	Unit      string      `json:"unit"`
	Timestamp time.Time   `json:"timestamp"`
}

func (api *pipelinesAPI) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		api.writeError(w, r, http.StatusBadRequest, "missing_address", "address query parameter is required")
		return
	}
	if _, err := walletauth.ParseWallet(address); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	if api.balances == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "balance_unavailable", "no rpc endpoint configured")
		return
	}

	lamports, err := api.balances.Lamports(r.Context(), address)
	if err != nil {
		id, _ := requestid.FromContext(r.Context())
		api.logger.Warn("balance lookup failed", "request_id", id, "address", address, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "balance_fetch_failed", "")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, walletBalanceResponse{
		Address:   address,
		Balance:   json.Number(balance.SOL(lamports).String()),
		Lamports:  lamports,
		Unit:      "SOL",
		Timestamp: api.now().UTC(),
	})
}
