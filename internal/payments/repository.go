package payments

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperly/backend/internal/ledger"
	"github.com/whisperly/backend/internal/models"
	"github.com/whisperly/backend/internal/notify"
)

// ErrInvoiceNotFound is returned when no PENDING invoice matches. Benign:
// duplicate webhook deliveries land here once the invoice left PENDING.
var ErrInvoiceNotFound = errors.New("no pending invoice matched")

// InsertNotifyTxFunc enqueues a push notification within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertNotifyTxFunc func(ctx context.Context, tx pgx.Tx, args notify.SendPushArgs) error

type Repository struct {
	pool         *pgxpool.Pool
	insertNotify InsertNotifyTxFunc
}

func NewRepository(pool *pgxpool.Pool, insertNotify InsertNotifyTxFunc) *Repository {
	return &Repository{pool: pool, insertNotify: insertNotify}
}

const invoiceColumns = `id, gateway_invoice_id, gateway_payment_ref, account_id, amount, num_hints, status, created_at, paid_at`

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(&inv.ID, &inv.GatewayInvoiceID, &inv.GatewayPaymentRef, &inv.AccountID,
		&inv.Amount, &inv.NumHints, &inv.Status, &inv.CreatedAt, &inv.PaidAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreatePending persists the local invoice record. This write always happens
// before the gateway call so a crash mid-flow leaves a reconcilable PENDING
// orphan instead of an unmatched remote payment.
func (r *Repository) CreatePending(ctx context.Context, inv *models.Invoice) error {
	inv.Status = models.InvoicePending
	return r.pool.QueryRow(ctx, `
		INSERT INTO invoices (id, account_id, amount, num_hints, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		RETURNING created_at
	`, inv.ID, inv.AccountID, inv.Amount, inv.NumHints).Scan(&inv.CreatedAt)
}

// SetGatewayID links the gateway's id to the local invoice, exactly once.
func (r *Repository) SetGatewayID(ctx context.Context, id uuid.UUID, gatewayID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE invoices SET gateway_invoice_id = $2
		WHERE id = $1 AND gateway_invoice_id IS NULL
	`, id, gatewayID)
	return err
}

// MarkFailed moves a PENDING invoice to the terminal FAILED state.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE invoices SET status = 'FAILED' WHERE id = $1 AND status = 'PENDING'
	`, id)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1
	`, id))
}

var numericID = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// FindPendingByGatewayID looks up a PENDING invoice by the gateway's id.
// Two sequential lookups: exact string equality first, then numeric equality
// for ids a previous run may have persisted in a different numeric spelling.
// Returns nil when nothing matches.
func (r *Repository) FindPendingByGatewayID(ctx context.Context, gatewayID string) (*models.Invoice, error) {
	inv, err := r.findPending(ctx, `gateway_invoice_id = $1`, gatewayID)
	if inv != nil || err != nil {
		return inv, err
	}
	if !numericID.MatchString(gatewayID) {
		return nil, nil
	}
	return r.findPending(ctx, `gateway_invoice_id ~ '^[0-9]+(\.[0-9]+)?$' AND gateway_invoice_id::numeric = $1::numeric`, gatewayID)
}

// FindPendingByLocalID looks up a PENDING invoice by our own id, tolerating
// any textual spelling of the uuid. Returns nil when nothing matches.
func (r *Repository) FindPendingByLocalID(ctx context.Context, localID string) (*models.Invoice, error) {
	if id, err := uuid.Parse(localID); err == nil {
		return r.findPending(ctx, `id = $1`, id)
	}
	return r.findPending(ctx, `id::text = lower($1)`, localID)
}

func (r *Repository) findPending(ctx context.Context, where string, arg any) (*models.Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE status = 'PENDING' AND `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// ListStalePending returns PENDING invoices created before cutoff that
// already have a gateway id, oldest first, for the sweeper to re-check.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status = 'PENDING' AND gateway_invoice_id IS NOT NULL AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Invoice
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.GatewayInvoiceID, &inv.GatewayPaymentRef, &inv.AccountID,
			&inv.Amount, &inv.NumHints, &inv.Status, &inv.CreatedAt, &inv.PaidAt); err != nil {
			return nil, err
		}
		list = append(list, &inv)
	}
	return list, rows.Err()
}

// MarkPaidAndCredit performs the PAID transition and the bonus credit as one
// transaction. The UPDATE is guarded on status = 'PENDING', so a concurrent
// or repeated delivery finds zero rows and reports ErrInvoiceNotFound rather
// than crediting twice. The post-credit push notification is enqueued inside
// the same transaction and so is exactly-once with the credit.
func (r *Repository) MarkPaidAndCredit(ctx context.Context, id uuid.UUID, paymentRef string, now time.Time) error {
	return ledger.WithRetry(ctx, r.pool, func(tx pgx.Tx) error {
		var accountID uuid.UUID
		var numHints int
		err := tx.QueryRow(ctx, `
			UPDATE invoices SET status = 'PAID', paid_at = $2, gateway_payment_ref = $3
			WHERE id = $1 AND status = 'PENDING'
			RETURNING account_id, num_hints
		`, id, now, paymentRef).Scan(&accountID, &numHints)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		if err != nil {
			return err
		}

		// The buyer may never have touched the ledger before.
		if _, err := tx.Exec(ctx, `
			INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING
		`, accountID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET bonus_hints = bonus_hints + $2, updated_at = now() WHERE id = $1
		`, accountID, numHints); err != nil {
			return err
		}

		if r.insertNotify != nil {
			return r.insertNotify(ctx, tx, notify.SendPushArgs{
				AccountID: accountID,
				Title:     "Hints credited",
				Body:      "Your purchase went through, new hints are ready to use.",
			})
		}
		return nil
	})
}
