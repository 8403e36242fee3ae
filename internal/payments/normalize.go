package payments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingIdentifiers is returned when a webhook payload carries neither a
// gateway invoice id nor a local invoice id.
var ErrMissingIdentifiers = errors.New("webhook payload has no invoice identifiers")

// WebhookEvent is the strict internal form of a gateway callback. Empty
// string means the field was absent. Both ids are string-normalized: the
// gateway is free to send them as JSON strings or numbers.
type WebhookEvent struct {
	GatewayID string
	LocalID   string
	Status    string
}

// Field aliases the gateway has been observed using.
var (
	gatewayIDKeys = []string{"qpay_payment_id", "invoice_id"}
	localIDKeys   = []string{"sender_invoice_no", "localId"}
	statusKeys    = []string{"payment_status", "status"}
)

// NormalizeQuery maps GET query parameters into a WebhookEvent.
func NormalizeQuery(q url.Values) WebhookEvent {
	pick := func(keys []string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(q.Get(k)); v != "" {
				return v
			}
		}
		return ""
	}
	return WebhookEvent{
		GatewayID: pick(gatewayIDKeys),
		LocalID:   pick(localIDKeys),
		Status:    pick(statusKeys),
	}
}

// NormalizeBody maps a POST JSON body into a WebhookEvent. Numbers are
// decoded as json.Number so an id like 5031 normalizes to "5031" without
// float formatting artifacts.
func NormalizeBody(body []byte) (WebhookEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("decoding webhook body: %w", err)
	}
	pick := func(keys []string) string {
		for _, k := range keys {
			if v, ok := payload[k]; ok {
				if s := stringify(v); s != "" {
					return s
				}
			}
		}
		return ""
	}
	return WebhookEvent{
		GatewayID: pick(gatewayIDKeys),
		LocalID:   pick(localIDKeys),
		Status:    pick(statusKeys),
	}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// IsSuccessStatus reports whether the payload's status string means the
// payment went through. An absent status defaults to success: the gateway
// only calls back on completed payments.
func IsSuccessStatus(status string) bool {
	if status == "" {
		return true
	}
	switch strings.ToUpper(status) {
	case "PAID", "SUCCESS", "TRUE", "DONE":
		return true
	}
	return false
}
