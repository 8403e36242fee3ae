package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/whisperly/backend/internal/auth"
	"github.com/whisperly/backend/internal/ledger"
)

type MeResponse struct {
	ID             string `json:"id"`
	DailyAvailable int    `json:"daily_available"`
	DailyQuota     int    `json:"daily_quota"`
	BonusHints     int    `json:"bonus_hints"`
}

type Handler struct {
	ledger ledger.Service
	log    *slog.Logger
}

func NewHandler(ledgerSvc ledger.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledgerSvc, log: log}
}

// GetMe reports the account's current hint balances.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	today, bonus, err := h.ledger.Available(r.Context(), accountID, time.Now())
	if err != nil {
		h.log.Error("balance lookup failed", "account_id", accountID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(MeResponse{
		ID:             accountID.String(),
		DailyAvailable: today,
		DailyQuota:     h.ledger.Quota(),
		BonusHints:     bonus,
	})
}
