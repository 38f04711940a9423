package walletauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/httpserver"
	"github.com/pipelink-labs/pipelink-go/internal/platform/requestid"
)

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Wallet     string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

type walletKey struct{}

func ContextWithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, walletKey{}, wallet)
}

// WalletFromContext returns the wallet proven by the request's session token.
func WalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(walletKey{}).(string)
	return wallet, ok && wallet != ""
}

// Middleware requires a Bearer session token and stores its wallet in the
// request context. Matching the wallet to a resource owner is left to the
// handler.
type Middleware struct {
	Logger   *slog.Logger
	Sessions *Sessions
	Audit    AuditFunc
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.deny(w, r, http.StatusUnauthorized, "unauthenticated", ErrUnauthenticated)
			return
		}
		wallet, err := m.Sessions.Parse(token)
		if err != nil {
			m.deny(w, r, http.StatusUnauthorized, "invalid_token", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithWallet(r.Context(), wallet)))
	})
}

// Deny logs, audits and answers a refused request. Handlers call it when the
// session wallet does not own the addressed pipeline.
func (m Middleware) Deny(w http.ResponseWriter, r *http.Request, status int, reason string, err error) {
	m.deny(w, r, status, reason, err)
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, status int, reason string, err error) {
	requestID, _ := requestid.FromContext(r.Context())
	wallet, _ := WalletFromContext(r.Context())
	if m.Logger != nil {
		m.Logger.Warn("auth deny",
			"reason", reason,
			"status", status,
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	if m.Audit != nil {
		auditErr := m.Audit(r.Context(), DenyEvent{
			Time:       time.Now().UTC(),
			Status:     status,
			Reason:     reason,
			Error:      err.Error(),
			RequestID:  requestID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Wallet:     wallet,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
		if auditErr != nil && m.Logger != nil {
			m.Logger.Warn("audit deny failed", "request_id", requestID, "error", auditErr.Error())
		}
	}
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      reason,
		"request_id": requestID,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
