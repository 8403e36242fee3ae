package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whisperly/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory InvoiceStore mirroring the repository's transactional semantics:
// lookups scoped to PENDING, the PAID transition guarded so it can apply at
// most once, and the bonus credit applied together with it.
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*models.Invoice
	bonus    map[uuid.UUID]int // account id -> bonus hints
	credits  int               // total credit applications, for idempotency asserts
}

func newMemStore() *memStore {
	return &memStore{
		invoices: make(map[uuid.UUID]*models.Invoice),
		bonus:    make(map[uuid.UUID]int),
	}
}

func (m *memStore) CreatePending(_ context.Context, inv *models.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.Status = models.InvoicePending
	inv.CreatedAt = time.Now()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *memStore) SetGatewayID(_ context.Context, id uuid.UUID, gatewayID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[id]; ok && inv.GatewayInvoiceID == nil {
		inv.GatewayInvoiceID = &gatewayID
	}
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[id]; ok && inv.Status == models.InvoicePending {
		inv.Status = models.InvoiceFailed
	}
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) FindPendingByGatewayID(_ context.Context, gatewayID string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.Status == models.InvoicePending && inv.GatewayInvoiceID != nil && *inv.GatewayInvoiceID == gatewayID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindPendingByLocalID(_ context.Context, localID string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.Status == models.InvoicePending && strings.EqualFold(inv.ID.String(), localID) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Invoice
	for _, inv := range m.invoices {
		if inv.Status == models.InvoicePending && inv.GatewayInvoiceID != nil && inv.CreatedAt.Before(cutoff) {
			cp := *inv
			list = append(list, &cp)
			if len(list) == limit {
				break
			}
		}
	}
	return list, nil
}

func (m *memStore) MarkPaidAndCredit(_ context.Context, id uuid.UUID, paymentRef string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.Status != models.InvoicePending {
		return ErrInvoiceNotFound
	}
	inv.Status = models.InvoicePaid
	inv.PaidAt = &now
	inv.GatewayPaymentRef = &paymentRef
	m.bonus[inv.AccountID] += inv.NumHints
	m.credits++
	return nil
}

// --- Gateway mock ---

type mockGateway struct {
	mu          sync.Mutex
	createErr   error
	created     []GatewayInvoiceRequest
	nextID      string
	checkPaid   map[string]string // gateway invoice id -> payment ref
	checkCalls  int
	checkFailOn string
}

func (g *mockGateway) CreateInvoice(_ context.Context, req GatewayInvoiceRequest) (*GatewayInvoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	id := g.nextID
	if id == "" {
		id = "GW-" + req.SenderInvoiceNo[:8]
	}
	return &GatewayInvoice{
		InvoiceID: id,
		QRImage:   "iVBORw0KGgo=",
		Deeplinks: []Deeplink{{Name: "Khan Bank", Link: "khan://pay", Logo: "khan.png"}},
	}, nil
}

func (g *mockGateway) CheckPayment(_ context.Context, gatewayInvoiceID string) (*PaymentCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkCalls++
	if gatewayInvoiceID == g.checkFailOn {
		return nil, errors.New("gateway timeout")
	}
	if ref, ok := g.checkPaid[gatewayInvoiceID]; ok {
		return &PaymentCheck{Paid: true, PaymentRef: ref}, nil
	}
	return &PaymentCheck{}, nil
}

func newTestService(store InvoiceStore, gw Gateway) *Service {
	return NewService(store, gw, "https://app.example.com", slog.New(slog.DiscardHandler))
}

// ---------------------------------------------------------------------------
// Invoice issuance
// ---------------------------------------------------------------------------

func TestCreateInvoiceHappyPath(t *testing.T) {
	store := newMemStore()
	gw := &mockGateway{}
	svc := newTestService(store, gw)
	account := uuid.New()

	res, err := svc.CreateInvoice(context.Background(), account, "popular", 6900, 5)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if res.QRImage == "" || len(res.Deeplinks) != 1 {
		t.Fatalf("result = %+v", res)
	}

	inv, err := store.GetByID(context.Background(), res.InvoiceID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != models.InvoicePending {
		t.Fatalf("status = %s, want PENDING", inv.Status)
	}
	if inv.GatewayInvoiceID == nil {
		t.Fatal("gateway id not linked")
	}
	if got := gw.created[0]; got.SenderInvoiceNo != res.InvoiceID.String() {
		t.Fatalf("sender_invoice_no = %q, want local id", got.SenderInvoiceNo)
	}
	if !strings.Contains(gw.created[0].CallbackURL, "localId="+res.InvoiceID.String()) {
		t.Fatalf("callback URL must round-trip the local id: %q", gw.created[0].CallbackURL)
	}
}

func TestCreateInvoiceLocalWritePrecedesGatewayCall(t *testing.T) {
	store := newMemStore()
	gw := &mockGateway{createErr: errors.New("connection refused")}
	svc := newTestService(store, gw)

	_, err := svc.CreateInvoice(context.Background(), uuid.New(), "", 6900, 5)
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("err = %v, want ErrGatewayRejected", err)
	}
	// A local record must exist and be FAILED, never a remote-only payment.
	if len(store.invoices) != 1 {
		t.Fatalf("invoices = %d, want 1", len(store.invoices))
	}
	for _, inv := range store.invoices {
		if inv.Status != models.InvoiceFailed {
			t.Fatalf("status = %s, want FAILED", inv.Status)
		}
	}
}

func TestCreateInvoiceRejectsUnknownPackage(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})
	_, err := svc.CreateInvoice(context.Background(), uuid.New(), "custom", 1, 100)
	if !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("err = %v, want ErrUnknownPackage", err)
	}
}

// ---------------------------------------------------------------------------
// Reconciliation matching + idempotency
// ---------------------------------------------------------------------------

func mustCreate(t *testing.T, svc *Service, store *memStore, account uuid.UUID) *models.Invoice {
	t.Helper()
	res, err := svc.CreateInvoice(context.Background(), account, "popular", 6900, 5)
	if err != nil {
		t.Fatal(err)
	}
	inv, err := store.GetByID(context.Background(), res.InvoiceID)
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestReconcileMatchesByGatewayID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockGateway{nextID: "GW-77"})
	account := uuid.New()
	inv := mustCreate(t, svc, store, account)

	got, err := svc.Reconcile(context.Background(), WebhookEvent{GatewayID: "GW-77"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.ID != inv.ID {
		t.Fatalf("matched %s, want %s", got.ID, inv.ID)
	}
	if store.bonus[account] != 5 {
		t.Fatalf("bonus = %d, want 5", store.bonus[account])
	}
	final, _ := store.GetByID(context.Background(), inv.ID)
	if final.Status != models.InvoicePaid || final.PaidAt == nil {
		t.Fatalf("invoice = %+v", final)
	}
}

func TestReconcileMatchesByLocalID(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockGateway{})
	account := uuid.New()
	inv := mustCreate(t, svc, store, account)

	if _, err := svc.Reconcile(context.Background(), WebhookEvent{LocalID: inv.ID.String()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if store.bonus[account] != 5 {
		t.Fatalf("bonus = %d, want 5", store.bonus[account])
	}
}

func TestReconcileGatewayEchoQuirk(t *testing.T) {
	// The gateway echoes our sender-supplied reference back in its own id
	// field; matching must fall through to the local id lookup.
	store := newMemStore()
	svc := newTestService(store, &mockGateway{})
	account := uuid.New()
	inv := mustCreate(t, svc, store, account)

	if _, err := svc.Reconcile(context.Background(), WebhookEvent{GatewayID: inv.ID.String()}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if store.bonus[account] != 5 {
		t.Fatalf("bonus = %d, want 5", store.bonus[account])
	}
}

func TestReconcileMissingIdentifiers(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})
	_, err := svc.Reconcile(context.Background(), WebhookEvent{})
	if !errors.Is(err, ErrMissingIdentifiers) {
		t.Fatalf("err = %v, want ErrMissingIdentifiers", err)
	}
}

func TestReconcileUnknownInvoice(t *testing.T) {
	svc := newTestService(newMemStore(), &mockGateway{})
	_, err := svc.Reconcile(context.Background(), WebhookEvent{GatewayID: "GW-404"})
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("err = %v, want ErrInvoiceNotFound", err)
	}
}

func TestReconcileDuplicateDeliveriesCreditOnce(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockGateway{nextID: "GW-1"})
	account := uuid.New()
	inv := mustCreate(t, svc, store, account)

	events := []WebhookEvent{
		{GatewayID: "GW-1"},
		{GatewayID: "GW-1"},
		{LocalID: inv.ID.String()},
		{GatewayID: "GW-1", LocalID: inv.ID.String()},
		{GatewayID: inv.ID.String()},
	}
	var paid, notFound int
	for _, ev := range events {
		_, err := svc.Reconcile(context.Background(), ev)
		switch {
		case err == nil:
			paid++
		case errors.Is(err, ErrInvoiceNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if paid != 1 || notFound != 4 {
		t.Fatalf("paid=%d notFound=%d, want 1/4", paid, notFound)
	}
	if store.bonus[account] != 5 || store.credits != 1 {
		t.Fatalf("bonus=%d credits=%d, want 5/1", store.bonus[account], store.credits)
	}
}

func TestReconcileConcurrentDeliveriesCreditOnce(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &mockGateway{nextID: "GW-2"})
	account := uuid.New()
	mustCreate(t, svc, store, account)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Reconcile(context.Background(), WebhookEvent{GatewayID: "GW-2"})
		}()
	}
	wg.Wait()
	if store.credits != 1 || store.bonus[account] != 5 {
		t.Fatalf("credits=%d bonus=%d, want 1/5", store.credits, store.bonus[account])
	}
}

// ---------------------------------------------------------------------------
// Sweeper
// ---------------------------------------------------------------------------

func TestSweepStaleReconcilesPaidInvoices(t *testing.T) {
	store := newMemStore()
	gw := &mockGateway{nextID: "GW-OLD", checkPaid: map[string]string{"GW-OLD": "PAY-1"}}
	svc := newTestService(store, gw)
	account := uuid.New()
	inv := mustCreate(t, svc, store, account)

	// Age the invoice past the sweep threshold.
	store.mu.Lock()
	store.invoices[inv.ID].CreatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	if err := svc.SweepStale(context.Background()); err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if store.bonus[account] != 5 {
		t.Fatalf("bonus = %d, want 5", store.bonus[account])
	}
	final, _ := store.GetByID(context.Background(), inv.ID)
	if final.Status != models.InvoicePaid || final.GatewayPaymentRef == nil || *final.GatewayPaymentRef != "PAY-1" {
		t.Fatalf("invoice = %+v", final)
	}
}

func TestSweepStaleSkipsUnpaidAndFresh(t *testing.T) {
	store := newMemStore()
	gw := &mockGateway{nextID: "GW-NEW", checkPaid: map[string]string{}}
	svc := newTestService(store, gw)
	account := uuid.New()
	inv := mustCreate(t, svc, store, account) // fresh, below threshold

	if err := svc.SweepStale(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gw.checkCalls != 0 {
		t.Fatalf("fresh invoice checked %d times, want 0", gw.checkCalls)
	}

	store.mu.Lock()
	store.invoices[inv.ID].CreatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()
	if err := svc.SweepStale(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gw.checkCalls != 1 || store.bonus[account] != 0 {
		t.Fatalf("checkCalls=%d bonus=%d, want 1/0 (unpaid stays PENDING)", gw.checkCalls, store.bonus[account])
	}
}
