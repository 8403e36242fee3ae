package hints

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/whisperly/backend/internal/auth"
	"github.com/whisperly/backend/internal/ledger"
)

type RedeemRequest struct {
	MessageID string `json:"message_id"`
}

type RedeemResponse struct {
	Success bool    `json:"success"`
	Hint    *string `json:"hint"`
	Message string  `json:"message"`
}

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

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromCtx(r.Context())
	if !ok {
		writeRedeem(w, http.StatusUnauthorized, nil, "not authenticated")
		return
	}
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRedeem(w, http.StatusBadRequest, nil, "invalid JSON")
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeRedeem(w, http.StatusBadRequest, nil, "invalid message_id")
		return
	}

	hint, err := h.svc.Redeem(r.Context(), accountID, messageID)
	switch {
	case err == nil:
		writeRedeem(w, http.StatusOK, &hint, "")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeRedeem(w, http.StatusPaymentRequired, nil, "no hints left today, buy more to continue")
	case errors.Is(err, ErrNotRecipient):
		writeRedeem(w, http.StatusForbidden, nil, "message belongs to another account")
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, ledger.ErrMessageNotFound):
		writeRedeem(w, http.StatusNotFound, nil, "message not found")
	case errors.Is(err, ErrHintGenerationFailed):
		h.log.Error("hint generation failed", "account_id", accountID, "message_id", messageID, "error", err)
		writeRedeem(w, http.StatusBadGateway, nil, "could not generate a hint, you were not charged")
	case errors.Is(err, ledger.ErrTransient):
		h.log.Warn("redeem conflicted", "account_id", accountID, "message_id", messageID, "error", err)
		writeRedeem(w, http.StatusServiceUnavailable, nil, "temporary error, please retry")
	default:
		h.log.Error("redeem failed", "account_id", accountID, "message_id", messageID, "error", err)
		writeRedeem(w, http.StatusInternalServerError, nil, "internal error")
	}
}

func writeRedeem(w http.ResponseWriter, code int, hint *string, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(RedeemResponse{Success: code == http.StatusOK, Hint: hint, Message: msg})
}
