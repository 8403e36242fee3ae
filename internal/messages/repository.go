package messages

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperly/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, m *models.Message) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, recipient_id, body, frequency, location, hints)
		VALUES ($1, $2, $3, $4, $5, '{}')
		RETURNING created_at
	`, m.ID, m.RecipientID, m.Body, m.Frequency, m.Location).Scan(&m.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var m models.Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, recipient_id, body, frequency, location, hints, created_at
		FROM messages WHERE id = $1
	`, id).Scan(&m.ID, &m.RecipientID, &m.Body, &m.Frequency, &m.Location, &m.Hints, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient_id, body, frequency, location, hints, created_at
		FROM messages WHERE recipient_id = $1 ORDER BY created_at DESC
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.Body, &m.Frequency, &m.Location, &m.Hints, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
