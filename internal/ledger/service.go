package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Service interface {
	// Available returns (free hints left today, bonus balance).
	Available(ctx context.Context, accountID uuid.UUID, now time.Time) (int, int, error)
	// SpendHint atomically charges one hint and appends hint to the message.
	SpendHint(ctx context.Context, accountID, messageID uuid.UUID, hint string, now time.Time) error
	// Quota is the configured daily free-hint quota.
	Quota() int
}

type service struct {
	repo  *Repository
	quota int
	loc   *time.Location
}

func NewService(repo *Repository, dailyQuota int, loc *time.Location) Service {
	return &service{repo: repo, quota: dailyQuota, loc: loc}
}

var _ Service = (*service)(nil)

func (s *service) Available(ctx context.Context, accountID uuid.UUID, now time.Time) (int, int, error) {
	acc, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	return AvailableToday(acc, s.quota, now, s.loc), acc.BonusHints, nil
}

func (s *service) SpendHint(ctx context.Context, accountID, messageID uuid.UUID, hint string, now time.Time) error {
	return s.repo.SpendHint(ctx, accountID, messageID, hint, now)
}

func (s *service) Quota() int { return s.quota }

// ErrInsufficientBalance is returned when neither the daily pool nor the
// bonus balance can cover a redemption at transaction time.
var ErrInsufficientBalance = errInsufficientBalance

// ErrMessageNotFound is returned when the hinted message does not exist.
var ErrMessageNotFound = errMessageNotFound
