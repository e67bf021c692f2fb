package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestDetectContextOverflow(t *testing.T) {
	tests := []struct {
		msg      string
		window   int
		overflow bool
	}{
		{"the request exceeds the available context size, n_ctx = 8192", 8192, true},
		{"slot unavailable: n_ctx: 4096 context length exceeded", 4096, true},
		{"This model's maximum context length is 8192 tokens", 8192, true},
		{"prompt is too long: 210000 tokens > 200000 maximum", 200000, true},
		{"error code context_length_exceeded", 0, true},
		{"connection refused", 0, false},
		{"rate limit exceeded, retry after 30s", 0, false},
	}
	for _, tt := range tests {
		window, overflow := detectContextOverflow(tt.msg)
		if overflow != tt.overflow || window != tt.window {
			t.Errorf("detectContextOverflow(%q) = (%d, %v), want (%d, %v)",
				tt.msg, window, overflow, tt.window, tt.overflow)
		}
	}
}

func TestWrapChatErrorTypesOverflow(t *testing.T) {
	err := wrapChatError("local", errors.New("prompt is too long: 9000 tokens > 8192 maximum"))
	cse, ok := AsContextSizeError(err)
	if !ok {
		t.Fatalf("no ContextSizeError in %v", err)
	}
	if cse.Provider != "local" || cse.Window != 8192 {
		t.Errorf("cse = %+v", cse)
	}
}

func TestWrapChatErrorPassesThrough(t *testing.T) {
	base := errors.New("boom")
	err := wrapChatError("remote", base)
	if _, ok := AsContextSizeError(err); ok {
		t.Error("unexpected overflow classification")
	}
	if !errors.Is(err, base) {
		t.Error("cause not wrapped")
	}
	if err.Error() != "remote: chat: boom" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestWrapChatErrorWrapped(t *testing.T) {
	inner := &ContextSizeError{Provider: "local", Window: 2048}
	err := fmt.Errorf("turn 3: %w", inner)
	cse, ok := AsContextSizeError(err)
	if !ok || cse.Window != 2048 {
		t.Errorf("cse = %v, ok = %v", cse, ok)
	}
}

func TestWrapChatErrorNil(t *testing.T) {
	if wrapChatError("local", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
