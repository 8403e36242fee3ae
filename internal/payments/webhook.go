package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/whisperly/backend/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw POST body.
const SignatureHeader = "X-Qpay-Signature"

// ErrBadSignature is returned when a secret is configured and the request's
// signature is missing or does not match.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Reconciler is implemented by the payments Service.
type Reconciler interface {
	Reconcile(ctx context.Context, ev WebhookEvent) (*models.Invoice, error)
}

// WebhookHandler terminates the gateway's payment callbacks. The gateway
// may deliver the same event any number of times, over GET with query
// parameters or POST with a JSON body; the reconciler behind it is
// idempotent so every delivery after the first is a safe no-op.
type WebhookHandler struct {
	svc    Reconciler
	secret string
	log    *slog.Logger
}

func NewWebhookHandler(svc Reconciler, secret string, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	if secret == "" {
		// Supported for staging parity only; production must configure it.
		log.Warn("QPAY_WEBHOOK_SECRET is not set, webhook signatures will NOT be verified")
	}
	return &WebhookHandler{svc: svc, secret: secret, log: log}
}

func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var ev WebhookEvent
	switch r.Method {
	case http.MethodGet:
		ev = NormalizeQuery(r.URL.Query())
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeWebhook(w, http.StatusBadRequest, "ERROR", false)
			return
		}
		// Authenticate before any lookup happens.
		if h.secret != "" {
			if !verifySignature(body, r.Header.Get(SignatureHeader), h.secret) {
				h.log.Warn("webhook signature rejected", "remote", r.RemoteAddr)
				writeWebhook(w, http.StatusForbidden, "FORBIDDEN", false)
				return
			}
		} else {
			h.log.Warn("webhook accepted without signature verification")
		}
		ev, err = NormalizeBody(body)
		if err != nil {
			writeWebhook(w, http.StatusBadRequest, "ERROR", false)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !IsSuccessStatus(ev.Status) {
		h.log.Info("webhook with non-success status ignored", "status", ev.Status)
		writeWebhook(w, http.StatusOK, "IGNORED", true)
		return
	}

	_, err := h.svc.Reconcile(r.Context(), ev)
	switch {
	case err == nil:
		writeWebhook(w, http.StatusOK, models.InvoicePaid, true)
	case errors.Is(err, ErrMissingIdentifiers):
		writeWebhook(w, http.StatusBadRequest, "MISSING_IDENTIFIERS", false)
	case errors.Is(err, ErrInvoiceNotFound):
		// Expected on duplicate delivery; the invoice already left PENDING.
		writeWebhook(w, http.StatusNotFound, "NOT_FOUND", false)
	default:
		h.log.Error("webhook reconciliation failed", "gateway_id", ev.GatewayID, "local_id", ev.LocalID, "error", err)
		writeWebhook(w, http.StatusInternalServerError, "ERROR", false)
	}
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

func writeWebhook(w http.ResponseWriter, code int, status string, success bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "success": success})
}
