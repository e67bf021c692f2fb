package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAcceptsSignedPost(t *testing.T) {
	wh := NewWebhook("deploy", "s", discardLogger())
	var got *Payload
	wh.Start(func(p Payload) { got = &p })

	body := `{"ref":"main"}`
	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", strings.NewReader(body))
	req.Header.Set("x-hub-signature-256", sign("s", body))
	rec := httptest.NewRecorder()
	wh.Handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("trigger not called")
	}
	if got.Source != "webhook" || !strings.Contains(got.Data, `"ref":"main"`) {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	wh := NewWebhook("deploy", "s", discardLogger())
	called := false
	wh.Start(func(Payload) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", strings.NewReader("b"))
	req.Header.Set("x-hub-signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	wh.Handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"Invalid signature"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if called {
		t.Error("trigger called despite bad signature")
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	wh := NewWebhook("deploy", "", discardLogger())
	wh.Start(func(Payload) {})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/hooks/deploy", nil)
		rec := httptest.NewRecorder()
		wh.Handler(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s status = %d, want 405", method, rec.Code)
		}
	}
}

func TestWebhookNoSecretSkipsVerification(t *testing.T) {
	wh := NewWebhook("open", "", discardLogger())
	var got *Payload
	wh.Start(func(p Payload) { got = &p })

	req := httptest.NewRequest(http.MethodPost, "/hooks/open", strings.NewReader("plain text body"))
	rec := httptest.NewRecorder()
	wh.Handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got == nil || got.Data != "plain text body" {
		t.Errorf("payload = %+v", got)
	}
}

func TestWebhookStoppedReturns503(t *testing.T) {
	wh := NewWebhook("deploy", "", discardLogger())
	wh.Start(func(Payload) {})
	wh.Stop()

	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	wh.Handler(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
