package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperly/backend/internal/models"
)

var (
	errInsufficientBalance = errors.New("insufficient hint balance")
	errMessageNotFound     = errors.New("message not found")
)

type Repository struct {
	pool  *pgxpool.Pool
	quota int
	loc   *time.Location
}

func NewRepository(pool *pgxpool.Pool, dailyQuota int, loc *time.Location) *Repository {
	return &Repository{pool: pool, quota: dailyQuota, loc: loc}
}

// Get returns the account's ledger fields. Accounts are created lazily on
// first write, so a missing row reads as a zero ledger rather than an error.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, daily_hints_used, last_daily_reset_at, bonus_hints, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.DailyHintsUsed, &a.LastDailyResetAt, &a.BonusHints, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Account{ID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SpendHint charges one hint and appends the hint text to the message's
// history in a single transaction: daily pool first (writing the deferred
// daily reset if one is due), then the bonus balance, guarded so the balance
// can never go negative even under concurrent redemptions. The account row
// is locked for the duration so the read-decide-write sequence is serialized.
func (r *Repository) SpendHint(ctx context.Context, accountID, messageID uuid.UUID, hint string, now time.Time) error {
	return WithRetry(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertAccount(ctx, tx, accountID); err != nil {
			return err
		}

		var acc models.Account
		acc.ID = accountID
		err := tx.QueryRow(ctx, `
			SELECT daily_hints_used, last_daily_reset_at, bonus_hints
			FROM accounts WHERE id = $1 FOR UPDATE
		`, accountID).Scan(&acc.DailyHintsUsed, &acc.LastDailyResetAt, &acc.BonusHints)
		if err != nil {
			return err
		}

		if AvailableToday(&acc, r.quota, now, r.loc) > 0 {
			if ResetDue(&acc, now, r.loc) {
				_, err = tx.Exec(ctx, `
					UPDATE accounts SET daily_hints_used = 1, last_daily_reset_at = $2, updated_at = now()
					WHERE id = $1
				`, accountID, now)
			} else {
				_, err = tx.Exec(ctx, `
					UPDATE accounts SET daily_hints_used = daily_hints_used + 1, updated_at = now()
					WHERE id = $1
				`, accountID)
			}
			if err != nil {
				return err
			}
		} else {
			result, err := tx.Exec(ctx, `
				UPDATE accounts SET bonus_hints = bonus_hints - 1, updated_at = now()
				WHERE id = $1 AND bonus_hints >= 1
			`, accountID)
			if err != nil {
				return err
			}
			if result.RowsAffected() == 0 {
				return errInsufficientBalance
			}
		}

		result, err := tx.Exec(ctx, `
			UPDATE messages SET hints = array_append(hints, $2) WHERE id = $1
		`, messageID, hint)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errMessageNotFound
		}
		return nil
	})
}

// upsertAccount establishes the account row if this is its first write.
// Field-level merge semantics: existing rows are left untouched.
func upsertAccount(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING
	`, id)
	return err
}
