package models

import (
	"time"

	"github.com/google/uuid"
)

// Account carries the per-user hint ledger. DailyHintsUsed counts free hints
// consumed since LastDailyResetAt; a nil LastDailyResetAt means the daily
// counter was never reset. BonusHints is a durable purchased balance,
// independent of the daily cycle, and never goes negative.
type Account struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email,omitempty"`
	DisplayName      string     `json:"display_name,omitempty"`
	PasswordHash     string     `json:"-"`
	DailyHintsUsed   int        `json:"daily_hints_used"`
	LastDailyResetAt *time.Time `json:"last_daily_reset_at,omitempty"`
	BonusHints       int        `json:"bonus_hints"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
