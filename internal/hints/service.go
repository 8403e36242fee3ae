package hints

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/whisperly/backend/internal/ai"
	"github.com/whisperly/backend/internal/ledger"
	"github.com/whisperly/backend/internal/models"
)

// ErrHintGenerationFailed is returned when the completion collaborator
// fails or returns nothing usable. The ledger is never charged for it.
var ErrHintGenerationFailed = errors.New("hint generation failed")

// ErrNotRecipient is returned when an account tries to buy a hint for a
// message addressed to someone else.
var ErrNotRecipient = errors.New("message addressed to another account")

// MessageStore is the subset of the messages repository redemption needs.
type MessageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
}

// Ledger is the subset of the hint ledger redemption needs.
type Ledger interface {
	Available(ctx context.Context, accountID uuid.UUID, now time.Time) (int, int, error)
	SpendHint(ctx context.Context, accountID, messageID uuid.UUID, hint string, now time.Time) error
}

type Service struct {
	messages  MessageStore
	ledger    Ledger
	completer ai.Completer
	now       func() time.Time
}

func NewService(messages MessageStore, ledger Ledger, completer ai.Completer) *Service {
	return &Service{messages: messages, ledger: ledger, completer: completer, now: time.Now}
}

// Redeem generates one new clue for the message and charges one hint.
// Ordering matters: the completion call happens first, and the ledger
// decrement plus the hint-history append commit together afterwards, so a
// failed generation never costs anything and a committed charge always has
// its hint. The availability precondition is re-validated inside the
// transaction, which closes the stale-read race between concurrent calls.
func (s *Service) Redeem(ctx context.Context, accountID, messageID uuid.UUID) (string, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return "", err
	}
	if msg.RecipientID != accountID {
		return "", ErrNotRecipient
	}

	now := s.now()
	today, bonus, err := s.ledger.Available(ctx, accountID, now)
	if err != nil {
		return "", err
	}
	if today+bonus <= 0 {
		return "", ledger.ErrInsufficientBalance
	}

	hint, err := s.completer.NextHint(ctx, ai.HintPrompt{
		SubjectText:   msg.Body,
		Frequency:     msg.Frequency,
		Location:      msg.Location,
		PreviousHints: msg.Hints,
	})
	if err != nil {
		return "", errors.Join(ErrHintGenerationFailed, err)
	}

	if err := s.ledger.SpendHint(ctx, accountID, messageID, hint, now); err != nil {
		return "", err
	}
	return hint, nil
}
