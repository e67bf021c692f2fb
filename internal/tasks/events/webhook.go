package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Webhook receives external POSTs, optionally verifying a GitHub-style HMAC
// signature, and turns valid bodies into payloads.
type Webhook struct {
	name   string
	secret string
	logger *slog.Logger

	mu        sync.Mutex
	onTrigger TriggerFunc
}

// NewWebhook creates a receiver. An empty secret disables verification.
func NewWebhook(name, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{name: name, secret: secret, logger: logger}
}

// Start arms the receiver. The caller is responsible for mounting Handler on
// an HTTP router. Idempotent.
func (w *Webhook) Start(onTrigger TriggerFunc) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTrigger = onTrigger
	return nil
}

// Stop disarms the receiver; subsequent requests get 503. Idempotent.
func (w *Webhook) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTrigger = nil
	return nil
}

// Handler serves the webhook route: POST only, signature-verified when a
// secret is configured.
func (w *Webhook) Handler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Unreadable body"})
		return
	}

	if w.secret != "" && !w.verify(body, r.Header.Get("x-hub-signature-256")) {
		w.logger.Warn("webhook signature mismatch", "webhook", w.name)
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}

	w.mu.Lock()
	trigger := w.onTrigger
	w.mu.Unlock()
	if trigger == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "Webhook not active"})
		return
	}

	data := string(body)
	var parsed any
	if json.Unmarshal(body, &parsed) == nil {
		if normalized, err := json.Marshal(parsed); err == nil {
			data = string(normalized)
		}
	}

	trigger(Payload{
		Source:  "webhook",
		Summary: "webhook " + w.name + " received",
		Data:    data,
	})
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func (w *Webhook) verify(body []byte, header string) bool {
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(body)
}
