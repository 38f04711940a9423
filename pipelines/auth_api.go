package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/auditlog"
	"github.com/pipelink-labs/pipelink-go/internal/platform/httpserver"
	"github.com/pipelink-labs/pipelink-go/internal/platform/requestid"
	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
)

type verifyWalletRequest struct {
	Wallet    string          `json:"wallet"`
	Message   string          `json:"message"`
	Signature json.RawMessage `json:"signature"`
}

type verifyWalletResponse struct {
	Verified  bool       `json:"verified"`
	Wallet    string     `json:"wallet"`
	Timestamp time.Time  `json:"timestamp"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (api *pipelinesAPI) handleVerifyWallet(w http.ResponseWriter, r *http.Request) {
	var req verifyWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req.Wallet = strings.TrimSpace(req.Wallet)
	if req.Wallet == "" || req.Message == "" || len(req.Signature) == 0 || string(req.Signature) == "null" {
		api.writeError(w, r, http.StatusBadRequest, "invalid_request", "wallet, message and signature are required")
		return
	}
	if _, err := walletauth.ParseWallet(req.Wallet); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_wallet", err.Error())
		return
	}
	sig, err := walletauth.DecodeSignature(req.Signature)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_signature_encoding", err.Error())
		return
	}

	now := api.now().UTC()
	if err := walletauth.Verify(req.Wallet, req.Message, sig); err != nil {
		if !errors.Is(err, walletauth.ErrVerifyFailed) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_signature_encoding", err.Error())
			return
		}
		api.auditVerify(r, req.Wallet, false, now)
		httpserver.WriteJSON(w, http.StatusUnauthorized, verifyWalletResponse{Verified: false, Wallet: req.Wallet, Timestamp: now})
		return
	}

	resp := verifyWalletResponse{Verified: true, Wallet: req.Wallet, Timestamp: now}
	if api.sessions != nil {
		token, expiresAt, err := api.sessions.Issue(req.Wallet)
		if err != nil {
			id, _ := requestid.FromContext(r.Context())
			api.logger.Error("issue session failed", "request_id", id, "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error", "")
			return
		}
		resp.Token = token
		resp.ExpiresAt = &expiresAt
	}
	api.auditVerify(r, req.Wallet, true, now)
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

// auditVerify records a verification attempt. Failures are logged only.
func (api *pipelinesAPI) auditVerify(r *http.Request, wallet string, verified bool, at time.Time) {
	if api.audit == nil {
		return
	}
	info := api.auditInfo(r)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(ctx, api.audit, auditlog.Event{
		OccurredAt:   at,
		Actor:        wallet,
		Action:       auditlog.ActionWalletVerify,
		ResourceType: "wallet",
		ResourceID:   wallet,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload: map[string]any{
			"service":  serviceName,
			"verified": verified,
		},
	})
	if err != nil {
		api.logger.Warn("audit wallet verify failed", "request_id", info.RequestID, "error", err)
	}
}
