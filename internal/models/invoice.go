package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice status values. PENDING may transition to PAID (exactly once, via
// the webhook reconciler) or FAILED (gateway rejected creation). PAID and
// FAILED are terminal.
const (
	InvoicePending = "PENDING"
	InvoicePaid    = "PAID"
	InvoiceFailed  = "FAILED"
)

// Invoice links a locally generated id to the id the payment gateway assigns
// once it accepts the invoice. GatewayInvoiceID is set exactly once and is
// immutable thereafter; GatewayPaymentRef records the gateway's payment
// reference on the PAID transition.
type Invoice struct {
	ID                uuid.UUID  `json:"id"`
	GatewayInvoiceID  *string    `json:"gateway_invoice_id,omitempty"`
	GatewayPaymentRef *string    `json:"gateway_payment_ref,omitempty"`
	AccountID         uuid.UUID  `json:"account_id"`
	Amount            int64      `json:"amount"`
	NumHints          int        `json:"num_hints"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}
