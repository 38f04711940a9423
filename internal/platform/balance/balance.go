// Package balance reads wallet balances from a Solana JSON-RPC node.
package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pipelink-labs/pipelink-go/internal/platform/env"
	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
)

// LamportsPerSOL is the fixed SOL denomination.
const LamportsPerSOL = 1_000_000_000

var ErrUnavailable = errors.New("balance lookup unavailable")

// Source returns the lamport balance of a wallet address.
type Source interface {
	Lamports(ctx context.Context, address string) (uint64, error)
}

// SOL converts lamports to SOL without rounding.
func SOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

type Config struct {
	RPCURL     string
	Commitment string
	Timeout    time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("PIPELINK_RPC_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		RPCURL:     strings.TrimSpace(env.String("PIPELINK_RPC_URL", "")),
		Commitment: strings.ToLower(strings.TrimSpace(env.String("PIPELINK_RPC_COMMITMENT", "confirmed"))),
		Timeout:    timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("PIPELINK_RPC_COMMITMENT must be processed, confirmed or finalized, got %q", c.Commitment)
	}
	if c.Timeout <= 0 {
		return errors.New("PIPELINK_RPC_TIMEOUT must be positive")
	}
	if c.RPCURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.RPCURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid PIPELINK_RPC_URL %q", c.RPCURL)
	}
	return nil
}

func (c Config) Enabled() bool {
	return c.RPCURL != ""
}

// RPCClient calls getBalance on a JSON-RPC endpoint.
type RPCClient struct {
	url        string
	commitment string
	http       *http.Client
	nextID     atomic.Uint64
}

func NewRPCClient(cfg Config, httpClient *http.Client) (*RPCClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, errors.New("rpc url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &RPCClient{url: cfg.RPCURL, commitment: cfg.Commitment, http: httpClient}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result *struct {
		Value *uint64 `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) Lamports(ctx context.Context, address string) (uint64, error) {
	if _, err := walletauth.ParseWallet(address); err != nil {
		return 0, err
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "getBalance",
		Params:  []any{strings.TrimSpace(address), map[string]string{"commitment": c.commitment}},
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: rpc status %d", ErrUnavailable, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("%w: decode rpc response: %v", ErrUnavailable, err)
	}
	if out.Error != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, out.Error)
	}
	if out.Result == nil || out.Result.Value == nil {
		return 0, fmt.Errorf("%w: rpc response missing value", ErrUnavailable)
	}
	return *out.Result.Value, nil
}
