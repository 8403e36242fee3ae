package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrGatewayRejected is returned when the payment gateway answers a request
// with a non-success status or an unusable body.
var ErrGatewayRejected = errors.New("payment gateway rejected request")

// GatewayInvoiceRequest is the outbound invoice-creation call.
type GatewayInvoiceRequest struct {
	SenderInvoiceNo string // our localInvoiceId, round-tripped by the gateway
	Description     string
	Amount          int64
	CallbackURL     string
}

// Deeplink is one bank-app entry the gateway returns alongside the QR.
type Deeplink struct {
	Name string `json:"name"`
	Link string `json:"link"`
	Logo string `json:"logo"`
}

// GatewayInvoice is the gateway's answer to invoice creation.
type GatewayInvoice struct {
	InvoiceID string
	QRImage   string // base64 PNG
	Deeplinks []Deeplink
}

// PaymentCheck is the result of an explicit payment-status poll.
type PaymentCheck struct {
	Paid       bool
	PaymentRef string
}

// Gateway is the narrow payment-provider interface the services depend on.
type Gateway interface {
	CreateInvoice(ctx context.Context, req GatewayInvoiceRequest) (*GatewayInvoice, error)
	CheckPayment(ctx context.Context, gatewayInvoiceID string) (*PaymentCheck, error)
}

// QPayClient talks to the QPay merchant API. The bearer token is cached
// process-wide and refreshed transparently; an authentication failure
// invalidates the cache and the call is retried once with a fresh token.
type QPayClient struct {
	baseURL     string
	username    string
	password    string
	invoiceCode string
	tokens      *TokenCache
	httpClient  *http.Client
}

func NewQPayClient(baseURL, username, password, invoiceCode string) *QPayClient {
	c := &QPayClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		username:    username,
		password:    password,
		invoiceCode: invoiceCode,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
	c.tokens = NewTokenCache(c.fetchToken)
	return c
}

var _ Gateway = (*QPayClient)(nil)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *QPayClient) fetchToken(ctx context.Context) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", nil)
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("%w: token endpoint status %d", ErrGatewayRejected, resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrGatewayRejected)
	}
	return tok.AccessToken, tok.ExpiresIn, nil
}

type createInvoiceBody struct {
	InvoiceCode     string `json:"invoice_code"`
	SenderInvoiceNo string `json:"sender_invoice_no"`
	Description     string `json:"invoice_description"`
	Amount          int64  `json:"amount"`
	CallbackURL     string `json:"callback_url"`
}

type createInvoiceResponse struct {
	InvoiceID string `json:"invoice_id"`
	QRImage   string `json:"qr_image"`
	URLs      []struct {
		Name string `json:"name"`
		Link string `json:"link"`
		Logo string `json:"logo"`
	} `json:"urls"`
}

func (c *QPayClient) CreateInvoice(ctx context.Context, req GatewayInvoiceRequest) (*GatewayInvoice, error) {
	body, err := json.Marshal(createInvoiceBody{
		InvoiceCode:     c.invoiceCode,
		SenderInvoiceNo: req.SenderInvoiceNo,
		Description:     req.Description,
		Amount:          req.Amount,
		CallbackURL:     req.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	var parsed createInvoiceResponse
	if err := c.doAuthed(ctx, "/invoice", body, &parsed); err != nil {
		return nil, err
	}
	if parsed.InvoiceID == "" {
		return nil, fmt.Errorf("%w: invoice response missing invoice_id", ErrGatewayRejected)
	}
	out := &GatewayInvoice{InvoiceID: parsed.InvoiceID, QRImage: parsed.QRImage}
	for _, u := range parsed.URLs {
		out.Deeplinks = append(out.Deeplinks, Deeplink{Name: u.Name, Link: u.Link, Logo: u.Logo})
	}
	return out, nil
}

type checkPaymentBody struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
}

type checkPaymentResponse struct {
	Count int `json:"count"`
	Rows  []struct {
		PaymentID     string `json:"payment_id"`
		PaymentStatus string `json:"payment_status"`
	} `json:"rows"`
}

func (c *QPayClient) CheckPayment(ctx context.Context, gatewayInvoiceID string) (*PaymentCheck, error) {
	body, err := json.Marshal(checkPaymentBody{ObjectType: "INVOICE", ObjectID: gatewayInvoiceID})
	if err != nil {
		return nil, err
	}
	var parsed checkPaymentResponse
	if err := c.doAuthed(ctx, "/payment/check", body, &parsed); err != nil {
		return nil, err
	}
	for _, row := range parsed.Rows {
		if strings.EqualFold(row.PaymentStatus, "PAID") {
			return &PaymentCheck{Paid: true, PaymentRef: row.PaymentID}, nil
		}
	}
	return &PaymentCheck{}, nil
}

// doAuthed posts body to path with a bearer token, retrying once on 401
// after invalidating the token cache.
func (c *QPayClient) doAuthed(ctx context.Context, path string, body []byte, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.GetOrRefresh(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			c.tokens.Invalidate()
			continue
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%w: %s status %d", ErrGatewayRejected, path, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("%w: authentication kept failing", ErrGatewayRejected)
}
