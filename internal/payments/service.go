package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/whisperly/backend/internal/models"
)

// ErrUnknownPackage is returned when the requested amount/hint combination
// is not one of the offered packages.
var ErrUnknownPackage = errors.New("unknown hint package")

// Package is one purchasable hint bundle, priced in whole currency units.
type Package struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	NumHints int    `json:"num_hints"`
}

// DefaultPackages is the offered price list. Invoice creation validates the
// caller's request against it so the client cannot name its own price.
var DefaultPackages = []Package{
	{Name: "starter", Amount: 3900, NumHints: 3},
	{Name: "popular", Amount: 6900, NumHints: 5},
	{Name: "super", Amount: 11900, NumHints: 10},
}

// InvoiceStore is the persistence surface the payment services need.
type InvoiceStore interface {
	CreatePending(ctx context.Context, inv *models.Invoice) error
	SetGatewayID(ctx context.Context, id uuid.UUID, gatewayID string) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindPendingByGatewayID(ctx context.Context, gatewayID string) (*models.Invoice, error)
	FindPendingByLocalID(ctx context.Context, localID string) (*models.Invoice, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invoice, error)
	MarkPaidAndCredit(ctx context.Context, id uuid.UUID, paymentRef string, now time.Time) error
}

// InvoiceResult is what the UI needs to present a payment.
type InvoiceResult struct {
	InvoiceID uuid.UUID
	QRImage   string
	Deeplinks []Deeplink
}

type Service struct {
	store      InvoiceStore
	gateway    Gateway
	appBaseURL string
	packages   []Package
	log        *slog.Logger
	now        func() time.Time
}

func NewService(store InvoiceStore, gateway Gateway, appBaseURL string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      store,
		gateway:    gateway,
		appBaseURL: appBaseURL,
		packages:   DefaultPackages,
		log:        log,
		now:        time.Now,
	}
}

func (s *Service) Packages() []Package { return s.packages }

func (s *Service) findPackage(amount int64, numHints int) *Package {
	for i := range s.packages {
		if s.packages[i].Amount == amount && s.packages[i].NumHints == numHints {
			return &s.packages[i]
		}
	}
	return nil
}

// CreateInvoice issues a PENDING local invoice, creates the remote invoice
// at the gateway, and links the gateway id. The local write strictly
// precedes the gateway call: a crash in between leaves a PENDING orphan the
// sweeper can still reconcile, never an unmatched remote payment.
func (s *Service) CreateInvoice(ctx context.Context, accountID uuid.UUID, name string, amount int64, numHints int) (*InvoiceResult, error) {
	pkg := s.findPackage(amount, numHints)
	if pkg == nil {
		return nil, ErrUnknownPackage
	}

	inv := &models.Invoice{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amount,
		NumHints:  numHints,
	}
	if err := s.store.CreatePending(ctx, inv); err != nil {
		return nil, err
	}

	// The callback carries our id so the webhook can match even if the
	// gateway never echoes its own id back in a recognizable field.
	callback := fmt.Sprintf("%s/api/v1/payments/qpay/callback?localId=%s",
		s.appBaseURL, url.QueryEscape(inv.ID.String()))

	desc := name
	if desc == "" {
		desc = pkg.Name
	}
	remote, err := s.gateway.CreateInvoice(ctx, GatewayInvoiceRequest{
		SenderInvoiceNo: inv.ID.String(),
		Description:     fmt.Sprintf("%s (%d hints)", desc, numHints),
		Amount:          amount,
		CallbackURL:     callback,
	})
	if err != nil {
		if markErr := s.store.MarkFailed(ctx, inv.ID); markErr != nil {
			s.log.Error("marking invoice FAILED after gateway rejection", "invoice_id", inv.ID, "error", markErr)
		}
		return nil, errors.Join(ErrGatewayRejected, err)
	}

	if err := s.store.SetGatewayID(ctx, inv.ID, remote.InvoiceID); err != nil {
		// The remote invoice exists; keep ours PENDING and recoverable by
		// localId via the callback round-trip.
		s.log.Error("linking gateway invoice id failed", "invoice_id", inv.ID, "gateway_invoice_id", remote.InvoiceID, "error", err)
		return nil, err
	}

	return &InvoiceResult{InvoiceID: inv.ID, QRImage: remote.QRImage, Deeplinks: remote.Deeplinks}, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return s.store.GetByID(ctx, id)
}

// Reconcile matches a normalized webhook event against a PENDING invoice and
// applies the PAID transition plus the bonus credit. Matching order: gateway
// id, then local id, then the gateway id reinterpreted as a local id (the
// gateway sometimes echoes the sender-supplied reference back in its own id
// field). Scoping every lookup to PENDING makes repeated deliveries natural
// no-ops: the second one matches nothing and gets ErrInvoiceNotFound.
func (s *Service) Reconcile(ctx context.Context, ev WebhookEvent) (*models.Invoice, error) {
	if ev.GatewayID == "" && ev.LocalID == "" {
		return nil, ErrMissingIdentifiers
	}

	var inv *models.Invoice
	var err error
	if ev.GatewayID != "" {
		if inv, err = s.store.FindPendingByGatewayID(ctx, ev.GatewayID); err != nil {
			return nil, err
		}
	}
	if inv == nil && ev.LocalID != "" {
		if inv, err = s.store.FindPendingByLocalID(ctx, ev.LocalID); err != nil {
			return nil, err
		}
	}
	if inv == nil && ev.GatewayID != "" {
		if inv, err = s.store.FindPendingByLocalID(ctx, ev.GatewayID); err != nil {
			return nil, err
		}
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}

	if err := s.store.MarkPaidAndCredit(ctx, inv.ID, ev.GatewayID, s.now()); err != nil {
		return nil, err
	}
	s.log.Info("invoice reconciled", "invoice_id", inv.ID, "account_id", inv.AccountID, "num_hints", inv.NumHints)
	return inv, nil
}

const (
	sweepMinAge = 10 * time.Minute
	sweepLimit  = 50
)

// SweepStale re-checks old PENDING invoices against the gateway's payment
// endpoint and reconciles any whose webhook was lost. Per-invoice failures
// are logged and skipped so one bad invoice cannot starve the rest.
func (s *Service) SweepStale(ctx context.Context) error {
	cutoff := s.now().Add(-sweepMinAge)
	stale, err := s.store.ListStalePending(ctx, cutoff, sweepLimit)
	if err != nil {
		return err
	}
	for _, inv := range stale {
		check, err := s.gateway.CheckPayment(ctx, *inv.GatewayInvoiceID)
		if err != nil {
			s.log.Warn("payment check failed", "invoice_id", inv.ID, "error", err)
			continue
		}
		if !check.Paid {
			continue
		}
		if err := s.store.MarkPaidAndCredit(ctx, inv.ID, check.PaymentRef, s.now()); err != nil && !errors.Is(err, ErrInvoiceNotFound) {
			s.log.Error("sweep reconcile failed", "invoice_id", inv.ID, "error", err)
			continue
		}
		s.log.Info("stale invoice reconciled by sweep", "invoice_id", inv.ID)
	}
	return nil
}
