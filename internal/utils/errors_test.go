package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfUnwrapsChain(t *testing.T) {
	base := NewKindError(KindDecode, "parser", "invalid json", nil)
	wrapped := fmt.Errorf("stage: %w", base)

	if got := KindOf(wrapped); got != KindDecode {
		t.Fatalf("expected decode kind, got %s", got)
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
}

func TestTransportRetryable(t *testing.T) {
	cases := map[int]bool{0: true, 400: false, 401: false, 408: true, 429: true, 500: true, 503: true}
	for status, want := range cases {
		err := NewTransportError("invoke", status, nil)
		if got := IsRetryable(err); got != want {
			t.Fatalf("status %d: expected retryable=%v, got %v", status, want, got)
		}
	}
}

func TestCancelledNeverRetryable(t *testing.T) {
	err := NewKindError(KindCancelled, "invoke", "cancelled", context.Canceled)
	if IsRetryable(err) {
		t.Fatalf("cancelled errors must not be retried")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation cause to unwrap")
	}
}

func TestAppErrorIncludesStatus(t *testing.T) {
	err := NewTransportError("invoke", 503, nil)
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status in message, got %q", err.Error())
	}
}

func TestPreviewBoundsLongText(t *testing.T) {
	long := strings.Repeat("x", 10000)
	got := Preview(long, 0)
	if len(got) > PreviewLimit+32 {
		t.Fatalf("preview not bounded: %d bytes", len(got))
	}
	if !strings.Contains(got, "more bytes") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if Preview("short", 10) != "short" {
		t.Fatalf("short text must pass through")
	}
}

func TestPreviewKeepsRuneBoundary(t *testing.T) {
	got := Preview("ééééé", 3)
	if !strings.HasPrefix(got, "é...") {
		t.Fatalf("expected cut on rune boundary, got %q", got)
	}
}
