package auditlog

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pipelink-labs/pipelink-go/internal/platform/walletauth"
)

// DenyRecorder adapts InsertAuthDeny to walletauth.AuditFunc, bounding each
// insert by timeout.
func DenyRecorder(q QueryRower, service string, timeout time.Duration) walletauth.AuditFunc {
	return func(ctx context.Context, event walletauth.DenyEvent) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return InsertAuthDeny(ctx, q, service, event)
	}
}

// InsertAuthDeny stores a refused request as action "auth.<reason>" on the
// resource "METHOD path". Requests without a session are attributed to
// "anonymous".
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event walletauth.DenyEvent) error {
	_, err := Insert(ctx, q, denyEvent(service, event))
	return err
}

func denyEvent(service string, d walletauth.DenyEvent) Event {
	wallet := strings.TrimSpace(d.Wallet)
	actor := wallet
	if actor == "" {
		actor = "anonymous"
	}
	occurred := d.Time
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	payload := map[string]any{
		"service": service,
		"status":  d.Status,
		"reason":  d.Reason,
	}
	if d.Error != "" {
		payload["error"] = d.Error
	}
	if wallet != "" {
		payload["wallet"] = wallet
	}
	return Event{
		OccurredAt:   occurred,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(d.Reason),
		ResourceType: "http",
		ResourceID:   d.Method + " " + d.Path,
		RequestID:    d.RequestID,
		IP:           remoteIP(d.RemoteAddr),
		UserAgent:    d.UserAgent,
		Payload:      payload,
	}
}

func remoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
