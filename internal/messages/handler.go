package messages

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/whisperly/backend/internal/auth"
	"github.com/whisperly/backend/internal/models"
)

type CreateRequest struct {
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
	Frequency   string `json:"frequency"`
	Location    string `json:"location"`
}

const maxBodyLen = 1000

type Handler struct {
	repo *Repository
	log  *slog.Logger
}

func NewHandler(repo *Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, log: log}
}

// Create accepts an anonymous compliment. The request is authenticated (to
// rate-limit abuse) but the sender's account id is deliberately not written
// anywhere.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.AccountIDFromCtx(r.Context()); !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		http.Error(w, "invalid recipient_id", http.StatusBadRequest)
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" || len(body) > maxBodyLen {
		http.Error(w, "body must be 1-1000 characters", http.StatusBadRequest)
		return
	}

	msg := &models.Message{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Body:        body,
		Frequency:   strings.TrimSpace(req.Frequency),
		Location:    strings.TrimSpace(req.Location),
		Hints:       []string{},
	}
	if err := h.repo.Create(r.Context(), msg); err != nil {
		h.log.Error("message create failed", "recipient_id", recipientID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(msg)
}

// List returns the authenticated account's inbox, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := auth.AccountIDFromCtx(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	msgs, err := h.repo.ListByRecipient(r.Context(), accountID)
	if err != nil {
		h.log.Error("message list failed", "account_id", accountID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
}
