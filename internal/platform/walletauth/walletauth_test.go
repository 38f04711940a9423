package walletauth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testKey() (string, ed25519.PrivateKey) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	return base58.Encode(priv.Public().(ed25519.PublicKey)), priv
}

func byteArrayJSON(sig []byte) json.RawMessage {
	parts := make([]string, len(sig))
	for i, b := range sig {
		parts[i] = strconv.Itoa(int(b))
	}
	return json.RawMessage("[" + strings.Join(parts, ",") + "]")
}

func quoted(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func TestVerify_AllSignatureEncodings(t *testing.T) {
	wallet, priv := testKey()
	message := "Sign in to Pipelink: nonce 42"
	sig := ed25519.Sign(priv, []byte(message))

	cases := map[string]json.RawMessage{
		"bytes":  byteArrayJSON(sig),
		"hex":    quoted(hex.EncodeToString(sig)),
		"base64": quoted(base64.StdEncoding.EncodeToString(sig)),
		"base58": quoted(base58.Encode(sig)),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := DecodeSignature(raw)
			if err != nil {
				t.Fatalf("DecodeSignature() err=%v", err)
			}
			if err := Verify(wallet, message, decoded); err != nil {
				t.Fatalf("Verify() err=%v", err)
			}
		})
	}
}

func TestVerify_Rejects(t *testing.T) {
	wallet, priv := testKey()
	sig := ed25519.Sign(priv, []byte("hello"))

	if err := Verify(wallet, "hello!", sig); !errors.Is(err, ErrVerifyFailed) {
		t.Fatalf("tampered message: err=%v, want ErrVerifyFailed", err)
	}
	if err := Verify("not-base58-0OIl", "hello", sig); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("bad wallet: err=%v", err)
	}
	if err := Verify(base58.Encode([]byte("short")), "hello", sig); !errors.Is(err, ErrInvalidWallet) {
		t.Fatalf("short wallet: err=%v", err)
	}
	if err := Verify(wallet, "hello", sig[:10]); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("short sig: err=%v", err)
	}
}

func TestDecodeSignature_Rejects(t *testing.T) {
	for name, raw := range map[string]json.RawMessage{
		"null":       json.RawMessage("null"),
		"empty":      quoted(""),
		"number":     json.RawMessage("12"),
		"overflow":   json.RawMessage("[256]"),
		"short":      json.RawMessage("[1,2,3]"),
		"not-encode": quoted("!!!"),
	} {
		if _, err := DecodeSignature(raw); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: err=%v, want ErrInvalidSignature", name, err)
		}
	}
}

func TestSessions_IssueAndParse(t *testing.T) {
	wallet, _ := testKey()
	s, err := NewSessions(testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewSessions() err=%v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, expiresAt, err := s.Issue(wallet)
	if err != nil {
		t.Fatalf("Issue() err=%v", err)
	}
	if !expiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expiresAt=%v", expiresAt)
	}
	got, err := s.Parse(token)
	if err != nil || got != wallet {
		t.Fatalf("Parse()=%q,%v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Parse(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	other, _ := NewSessions(strings.Repeat("x", 32), time.Minute)
	other.now = s.now
	if _, err := other.Parse(token); err == nil {
		t.Fatalf("expected foreign secret to be rejected")
	}
}

func TestNewSessions_ShortSecret(t *testing.T) {
	if _, err := NewSessions("short", time.Minute); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{SessionTTL: time.Minute, RequireSession: true}).Validate(); err == nil {
		t.Fatalf("expected secret to be required")
	}
	if err := (Config{SessionTTL: time.Minute}).Validate(); err != nil {
		t.Fatalf("sessions disabled should validate: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	wallet, _ := testKey()
	s, _ := NewSessions(testSecret, time.Minute)
	token, _, _ := s.Issue(wallet)

	var denied []DenyEvent
	var seen string
	h := Middleware{
		Sessions: s,
		Audit: func(ctx context.Context, event DenyEvent) error {
			denied = append(denied, event)
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WalletFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "http://example.test/pipelines", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen != wallet {
		t.Fatalf("status=%d wallet=%q", rec.Code, seen)
	}

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer nope",
		"scheme":  "Basic " + token,
	} {
		req := httptest.NewRequest(http.MethodPost, "http://example.test/pipelines", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d, want 401", name, rec.Code)
		}
	}
	if len(denied) != 3 {
		t.Fatalf("expected 3 audited denials, got %d", len(denied))
	}
	if denied[0].Status != http.StatusUnauthorized || denied[0].Path != "/pipelines" {
		t.Fatalf("unexpected deny event %+v", denied[0])
	}
}
