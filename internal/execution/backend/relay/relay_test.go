package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
	"github.com/pipelink-labs/pipelink-go/internal/execution/backend"
)

func sampleBundle() backend.Bundle {
	return backend.Bundle{
		PipelineID: "p-1",
		AttemptID:  "a-1",
		Owner:      "wallet-1",
		Instructions: []domain.Instruction{
			{Program: "prog-a", Accounts: []domain.AccountMeta{{Key: "SOL", Writable: true}}, Data: []byte("x")},
			{Program: "prog-b", Data: []byte("y")},
		},
	}
}

func TestSubmitSuccess(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != submitPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"confirmationId":"sig-123"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	receipt, err := client.Submit(context.Background(), sampleBundle())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.ConfirmationID != "sig-123" {
		t.Fatalf("unexpected confirmation %q", receipt.ConfirmationID)
	}
	if got.FeePayer != "wallet-1" || len(got.Instructions) != 2 || got.Instructions[0].Accounts[0].Pubkey != "SOL" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if string(got.Instructions[1].Data) != "y" {
		t.Fatalf("unexpected data %q", got.Instructions[1].Data)
	}
}

func TestSubmitStructuredRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"insufficient_funds","message":"need 0.5 SOL","instructionIndex":1}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL, srv.Client())
	_, err := client.Submit(context.Background(), sampleBundle())
	serr, ok := backend.AsSubmissionError(err)
	if !ok {
		t.Fatalf("expected submission error, got %v", err)
	}
	if serr.Code != backend.CodeInsufficientFunds || serr.InstructionIndex != 1 || serr.Retryable {
		t.Fatalf("unexpected error: %+v", serr)
	}
}

func TestSubmitServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := New(srv.URL, srv.Client())
	_, err := client.Submit(context.Background(), sampleBundle())
	serr, ok := backend.AsSubmissionError(err)
	if !ok || serr.Code != backend.CodeNetworkError || !serr.Retryable || serr.InstructionIndex != -1 {
		t.Fatalf("expected retryable NETWORK_ERROR, got %v", err)
	}
}

func TestSubmitDeadlineReturnsContextError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, _ := New(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Submit(ctx, sampleBundle())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewValidatesURL(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := New("relay.local", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}

func TestSubmitAcceptedWithoutConfirmationIsUnknown(t *testing.T) {
	cases := map[string]string{
		"unreadable": `{"confirmationId":`,
		"missing id": `{"status":"queued"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			client, _ := New(srv.URL, srv.Client())
			_, err := client.Submit(context.Background(), sampleBundle())
			serr, ok := backend.AsSubmissionError(err)
			if !ok {
				t.Fatalf("expected submission error, got %v", err)
			}
			if serr.Code != backend.CodeTimeout || serr.Retryable || serr.InstructionIndex != -1 {
				t.Fatalf("expected non-retryable TIMEOUT, got %+v", serr)
			}
		})
	}
}
