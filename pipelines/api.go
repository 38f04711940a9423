package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/execution/orchestrator"
	"github.com/pipelink-labs/pipelink-go/internal/pipeline/codec"
	"github.com/pipelink-labs/pipelink-go/internal/platform/auditlog"
	"github.com/pipelink-labs/pipelink-go/internal/platform/balance"
	"github.com/pipelink-labs/pipelink-go/internal/platform/httpserver"
	"github.com/pipelink-labs/pipelink-go/internal/platform/ratelimit"
	"github.com/pipelink-labs/pipelink-go/internal/platform/requestid"
	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
	pipelinesvc "github.com/pipelink-labs/pipelink-go/internal/service/pipelines"
)

const (
	serviceName  = "pipelines"
	maxBodyBytes = 1 << 20
)

type pipelinesAPI struct {
	logger   *slog.Logger
	svc      *pipelinesvc.Service
	sessions *walletauth.Sessions
	// guard is set when create and execute require a wallet session.
	guard   *walletauth.Middleware
	audit   auditlog.QueryRower
	limiter *ratelimit.PerIP
	// balances is nil when no rpc endpoint is configured.
	balances balance.Source
	openapi  []byte
	now      func() time.Time
}

func (api *pipelinesAPI) register(mux *http.ServeMux) {
	create := http.Handler(http.HandlerFunc(api.handleCreatePipeline))
	execute := http.Handler(http.HandlerFunc(api.handleExecutePipeline))
	if api.guard != nil {
		create = api.guard.Wrap(create)
		execute = api.guard.Wrap(execute)
	}
	mux.Handle("POST /pipelines", create)
	mux.HandleFunc("GET /pipelines", api.handleListPipelines)
	mux.HandleFunc("GET /pipelines/{id}", api.handleGetPipeline)
	mux.Handle("POST /pipelines/{id}/execute", execute)
	mux.HandleFunc("GET /pipelines/{id}/attempts", api.handleListAttempts)
	mux.HandleFunc("GET /step-types", api.handleStepTypes)
	mux.HandleFunc("GET /wallet/balance", api.handleWalletBalance)

	verify := http.Handler(http.HandlerFunc(api.handleVerifyWallet))
	if api.limiter != nil {
		verify = api.limiter.Middleware(verify)
	}
	mux.Handle("POST /auth/verify", verify)

	if len(api.openapi) > 0 {
		mux.HandleFunc("GET /openapi.json", api.handleOpenAPI)
	}
}

type createPipelineRequest struct {
	Owner       string               `json:"owner"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Entries     []codec.EntryPayload `json:"entries"`
}

type createPipelineResponse struct {
	ID       string                `json:"id"`
	Status   string                `json:"status"`
	Pipeline codec.PipelinePayload `json:"pipeline"`
}

type listPipelinesResponse struct {
	Owner     string                  `json:"owner"`
	Pipelines []codec.PipelinePayload `json:"pipelines"`
	Count     int                     `json:"count"`
}

type executePipelineRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

type executeResponse struct {
	Status         string `json:"status"`
	PipelineID     string `json:"pipelineId"`
	AttemptID      string `json:"attemptId"`
	ConfirmationID string `json:"confirmationId,omitempty"`
	Reason         string `json:"reason,omitempty"`
	FailingIndex   *int   `json:"failingIndex,omitempty"`
	Field          string `json:"field,omitempty"`
	Detail         string `json:"detail,omitempty"`
	Code           string `json:"code,omitempty"`
	Retryable      *bool  `json:"retryable,omitempty"`
}

type listAttemptsResponse struct {
	PipelineID string                `json:"pipelineId"`
	Attempts   []pipelinesvc.Receipt `json:"attempts"`
	Count      int                   `json:"count"`
}

func (api *pipelinesAPI) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if !api.ownedBySession(w, r, req.Owner) {
		return
	}

	p, err := api.svc.Create(r.Context(), pipelinesvc.CreateRequest{
		Owner:       req.Owner,
		Name:        req.Name,
		Description: req.Description,
		Entries:     req.Entries,
	}, api.auditInfo(r))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, createPipelineResponse{
		ID:       p.ID,
		Status:   string(p.Status),
		Pipeline: codec.FromDomain(p),
	})
}

func (api *pipelinesAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	list, err := api.svc.List(r.Context(), owner)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	out := make([]codec.PipelinePayload, 0, len(list))
	for _, p := range list {
		out = append(out, codec.FromDomain(p))
	}
	httpserver.WriteJSON(w, http.StatusOK, listPipelinesResponse{Owner: owner, Pipelines: out, Count: len(out)})
}

func (api *pipelinesAPI) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := api.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, codec.FromDomain(p))
}

func (api *pipelinesAPI) handleExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var req executePipelineRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	id := r.PathValue("id")
	if api.guard != nil {
		p, err := api.svc.Get(r.Context(), id)
		if err != nil {
			api.writeDomainError(w, r, err)
			return
		}
		if !api.ownedBySession(w, r, p.Owner) {
			return
		}
	}

	outcome, err := api.svc.Execute(r.Context(), id, req.Context, api.auditInfo(r))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, executeResponseFrom(outcome))
}

func executeResponseFrom(o orchestrator.Outcome) executeResponse {
	resp := executeResponse{
		Status:     string(o.Status),
		PipelineID: o.PipelineID,
		AttemptID:  o.AttemptID,
	}
	if o.Succeeded() {
		resp.ConfirmationID = o.ConfirmationID
		return resp
	}
	retryable := o.Retryable
	resp.Reason = string(o.Reason)
	resp.FailingIndex = o.FailingIndex
	resp.Field = o.Field
	resp.Detail = o.Detail
	resp.Code = o.Code
	resp.Retryable = &retryable
	return resp
}

func (api *pipelinesAPI) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := api.svc.Attempts(r.Context(), id)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	out := make([]pipelinesvc.Receipt, 0, len(records))
	for _, rec := range records {
		out = append(out, pipelinesvc.ReceiptFromRecord(rec))
	}
	httpserver.WriteJSON(w, http.StatusOK, listAttemptsResponse{PipelineID: strings.TrimSpace(id), Attempts: out, Count: len(out)})
}

func (api *pipelinesAPI) handleStepTypes(w http.ResponseWriter, r *http.Request) {
	names := api.svc.StepTypes()
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"stepTypes": names,
		"count":     len(names),
	})
}

func (api *pipelinesAPI) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.openapi)
}

// ownedBySession reports whether the request may act for owner. Without a
// guard every request may.
func (api *pipelinesAPI) ownedBySession(w http.ResponseWriter, r *http.Request, owner string) bool {
	if api.guard == nil {
		return true
	}
	wallet, ok := walletauth.WalletFromContext(r.Context())
	if !ok {
		api.guard.Deny(w, r, http.StatusUnauthorized, "unauthenticated", walletauth.ErrUnauthenticated)
		return false
	}
	if strings.TrimSpace(owner) != wallet {
		api.guard.Deny(w, r, http.StatusForbidden, "owner_mismatch", fmt.Errorf("session wallet %s does not own the pipeline", wallet))
		return false
	}
	return true
}

func (api *pipelinesAPI) auditInfo(r *http.Request) pipelinesvc.AuditInfo {
	id, _ := requestid.FromContext(r.Context())
	actor, _ := walletauth.WalletFromContext(r.Context())
	return pipelinesvc.AuditInfo{
		Actor:     actor,
		RequestID: id,
		UserAgent: r.UserAgent(),
		IP:        requestIP(r.RemoteAddr),
		Service:   serviceName,
	}
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNotExecutable, domain.KindExecutionInProgress, domain.KindPipelineFrozen, domain.KindAlreadyBuilt:
		return http.StatusConflict
	case domain.KindCanceled:
		return http.StatusServiceUnavailable
	}
	if kind.Class() == domain.ClassValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (api *pipelinesAPI) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	derr, ok := domain.AsError(err)
	if !ok {
		id, _ := requestid.FromContext(r.Context())
		api.logger.Error("request failed", "request_id", id, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}
	status := statusForKind(derr.Kind)
	if status == http.StatusInternalServerError {
		id, _ := requestid.FromContext(r.Context())
		api.logger.Error("request failed", "request_id", id, "path", r.URL.Path, "error", err)
	}

	body := map[string]any{
		"error":   string(derr.Kind),
		"message": derr.Message,
	}
	if derr.Message == "" {
		body["message"] = derr.Error()
	}
	if derr.Index >= 0 {
		body["index"] = derr.Index
	}
	if derr.Field != "" {
		body["field"] = derr.Field
	}
	if derr.State != "" {
		body["state"] = string(derr.State)
	}
	body["request_id"], _ = requestid.FromContext(r.Context())
	httpserver.WriteJSON(w, status, body)
}

func (api *pipelinesAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	id, _ := requestid.FromContext(r.Context())
	body := map[string]any{
		"error":      code,
		"request_id": id,
	}
	if message != "" {
		body["message"] = message
	}
	httpserver.WriteJSON(w, status, body)
}

// decodeJSON reads one JSON object with numbers kept as json.Number. An empty
// body yields io.EOF.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
