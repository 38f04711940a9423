package balance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
)

const testWallet = "11111111111111111111111111111111"

func newTestClient(t *testing.T, handler http.HandlerFunc) *RPCClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewRPCClient(Config{RPCURL: srv.URL, Commitment: "confirmed", Timeout: time.Second}, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestLamportsCallsGetBalance(t *testing.T) {
	var got rpcRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":42},"value":18446744073709551615}}`))
	})

	lamports, err := client.Lamports(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("lamports: %v", err)
	}
	if lamports != 18446744073709551615 {
		t.Fatalf("unexpected lamports %d", lamports)
	}
	if got.JSONRPC != "2.0" || got.Method != "getBalance" || len(got.Params) != 2 || got.Params[0] != testWallet {
		t.Fatalf("unexpected request %+v", got)
	}
	if opts, ok := got.Params[1].(map[string]any); !ok || opts["commitment"] != "confirmed" {
		t.Fatalf("unexpected commitment params %#v", got.Params[1])
	}
}

func TestLamportsFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"rpc error", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid param"}}`},
		{"missing value", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{}}`},
		{"bad json", http.StatusOK, `{"result":`},
		{"upstream status", http.StatusBadGateway, `bad gateway`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			if _, err := client.Lamports(context.Background(), testWallet); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestLamportsRejectsInvalidAddress(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls++ })
	if _, err := client.Lamports(context.Background(), "not-base58!"); !errors.Is(err, walletauth.ErrInvalidWallet) {
		t.Fatalf("expected ErrInvalidWallet, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no rpc call for an invalid address")
	}
}

func TestSOLConversionIsExact(t *testing.T) {
	if got := SOL(1_500_000_000).String(); got != "1.5" {
		t.Fatalf("expected 1.5, got %s", got)
	}
	if got := SOL(1).String(); got != "0.000000001" {
		t.Fatalf("expected 0.000000001, got %s", got)
	}
	if got := SOL(18446744073709551615).String(); got != "18446744073.709551615" {
		t.Fatalf("unexpected max conversion %s", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PIPELINK_RPC_URL", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Enabled() || cfg.Commitment != "confirmed" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	t.Setenv("PIPELINK_RPC_URL", "rpc.local")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for url without scheme")
	}

	t.Setenv("PIPELINK_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("PIPELINK_RPC_COMMITMENT", "eventual")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for unknown commitment")
	}
}
