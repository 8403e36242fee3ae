package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is an anonymous compliment sent to a recipient. The sender's
// identity is never persisted; Frequency and Location are the sender-supplied
// context the hint generator works from. Hints grows monotonically, one entry
// per successful redemption, and is never rolled back once committed.
type Message struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Body        string    `json:"body"`
	Frequency   string    `json:"frequency,omitempty"`
	Location    string    `json:"location,omitempty"`
	Hints       []string  `json:"hints"`
	CreatedAt   time.Time `json:"created_at"`
}
