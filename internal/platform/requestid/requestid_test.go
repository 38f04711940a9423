package requestid

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id := New()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("New()=%q not a uuid: %v", id, err)
	}
	if New() == id {
		t.Fatalf("expected unique ids")
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize(" rid-123 "); got != "rid-123" {
		t.Fatalf("Sanitize()=%q", got)
	}
	for _, bad := range []string{"", "has space", "line\nbreak", strings.Repeat("x", maxLen+1)} {
		if got := Sanitize(bad); got != "" {
			t.Fatalf("Sanitize(%q)=%q, want empty", bad, got)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no id on empty context")
	}
	ctx := WithContext(context.Background(), "rid-1")
	if got, ok := FromContext(ctx); !ok || got != "rid-1" {
		t.Fatalf("FromContext()=%q,%v", got, ok)
	}
}
