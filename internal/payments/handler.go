package payments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/whisperly/backend/internal/auth"
)

type CreateInvoiceRequest struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	NumHints int    `json:"num_hints"`
}

type CreateInvoiceResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message,omitempty"`
	InvoiceID string     `json:"invoice_id,omitempty"`
	QRImage   string     `json:"qr_image,omitempty"`
	Deeplinks []Deeplink `json:"deeplinks,omitempty"`
}

// Handler serves the invoice endpoints the UI calls; the gateway callback
// lives on WebhookHandler.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) ListPackages(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"packages": h.svc.Packages()})
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromCtx(r.Context())
	if !ok {
		writeInvoice(w, http.StatusUnauthorized, CreateInvoiceResponse{Message: "not authenticated"})
		return
	}
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvoice(w, http.StatusBadRequest, CreateInvoiceResponse{Message: "invalid JSON"})
		return
	}
	if req.Amount <= 0 || req.NumHints <= 0 {
		writeInvoice(w, http.StatusBadRequest, CreateInvoiceResponse{Message: "amount and num_hints must be positive"})
		return
	}

	res, err := h.svc.CreateInvoice(r.Context(), accountID, req.Name, req.Amount, req.NumHints)
	switch {
	case err == nil:
		writeInvoice(w, http.StatusCreated, CreateInvoiceResponse{
			Success:   true,
			InvoiceID: res.InvoiceID.String(),
			QRImage:   res.QRImage,
			Deeplinks: res.Deeplinks,
		})
	case errors.Is(err, ErrUnknownPackage):
		writeInvoice(w, http.StatusBadRequest, CreateInvoiceResponse{Message: "unknown hint package"})
	case errors.Is(err, ErrGatewayRejected):
		h.log.Error("gateway rejected invoice", "account_id", accountID, "error", err)
		writeInvoice(w, http.StatusBadGateway, CreateInvoiceResponse{Message: "payment provider unavailable, try again later"})
	default:
		h.log.Error("invoice creation failed", "account_id", accountID, "error", err)
		writeInvoice(w, http.StatusInternalServerError, CreateInvoiceResponse{Message: "internal error"})
	}
}

// GetInvoice lets the UI poll status while waiting for the gateway callback.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid invoice id", http.StatusBadRequest)
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "invoice not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("invoice lookup failed", "invoice_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if inv.AccountID != accountID {
		http.Error(w, "invoice not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(inv)
}

func writeInvoice(w http.ResponseWriter, code int, resp CreateInvoiceResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
