// Package relay submits bundles to an HTTP transaction relay.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/execution/backend"
)

const submitPath = "/v1/bundles"

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a relay client for baseURL. A nil httpClient gets a default
// with a 30s ceiling; callers bound individual submissions through ctx.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("relay url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

type submitRequest struct {
	PipelineID   string               `json:"pipelineId"`
	AttemptID    string               `json:"attemptId"`
	FeePayer     string               `json:"feePayer"`
	Instructions []instructionPayload `json:"instructions"`
}

type instructionPayload struct {
	ProgramID string           `json:"programId"`
	Accounts  []accountPayload `json:"accounts"`
	Data      []byte           `json:"data"`
}

type accountPayload struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type submitResponse struct {
	ConfirmationID string `json:"confirmationId"`
}

type errorResponse struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	InstructionIndex *int   `json:"instructionIndex"`
	Retryable        *bool  `json:"retryable"`
}

func (c *Client) Submit(ctx context.Context, bundle backend.Bundle) (backend.Receipt, error) {
	payload := submitRequest{
		PipelineID:   bundle.PipelineID,
		AttemptID:    bundle.AttemptID,
		FeePayer:     bundle.Owner,
		Instructions: make([]instructionPayload, 0, len(bundle.Instructions)),
	}
	for _, ins := range bundle.Instructions {
		accounts := make([]accountPayload, 0, len(ins.Accounts))
		for _, acc := range ins.Accounts {
			accounts = append(accounts, accountPayload{Pubkey: acc.Key, IsSigner: acc.Signer, IsWritable: acc.Writable})
		}
		payload.Instructions = append(payload.Instructions, instructionPayload{
			ProgramID: ins.Program,
			Accounts:  accounts,
			Data:      ins.Data,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return backend.Receipt{}, fmt.Errorf("marshal bundle: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return backend.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.Receipt{}, ctxErr
		}
		return backend.Receipt{}, backend.Reject(backend.CodeNetworkError, err.Error(), -1)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backend.Receipt{}, ctxErr
		}
		return backend.Receipt{}, backend.Reject(backend.CodeNetworkError, err.Error(), -1)
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		// Accepted without a usable confirmation id: outcome unknown.
		var out submitResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return backend.Receipt{}, backend.Reject(backend.CodeTimeout, fmt.Sprintf("relay accepted bundle but response is unreadable: %v; on-chain outcome unknown", err), -1)
		}
		if strings.TrimSpace(out.ConfirmationID) == "" {
			return backend.Receipt{}, backend.Reject(backend.CodeTimeout, "relay accepted bundle without a confirmation id; on-chain outcome unknown", -1)
		}
		return backend.Receipt{ConfirmationID: out.ConfirmationID}, nil
	}
	return backend.Receipt{}, rejection(resp.StatusCode, raw)
}

func rejection(status int, raw []byte) *backend.SubmissionError {
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil || strings.TrimSpace(body.Code) == "" {
		code := backend.CodeProgramFailed
		if status >= 500 || status == http.StatusTooManyRequests {
			code = backend.CodeNetworkError
		}
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return backend.Reject(code, fmt.Sprintf("relay status %d: %s", status, msg), -1)
	}
	index := -1
	if body.InstructionIndex != nil && *body.InstructionIndex >= 0 {
		index = *body.InstructionIndex
	}
	out := backend.Reject(strings.ToUpper(strings.TrimSpace(body.Code)), body.Message, index)
	if body.Retryable != nil {
		out.Retryable = *body.Retryable
	}
	return out
}
