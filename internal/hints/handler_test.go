package hints

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/whisperly/backend/internal/auth"
)

func doRedeem(t *testing.T, svc *Service, accountID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(svc, slog.New(slog.DiscardHandler))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hints/redeem", strings.NewReader(body))
	req = req.WithContext(auth.WithAccountID(req.Context(), accountID))
	rr := httptest.NewRecorder()
	h.Redeem(rr, req)
	return rr
}

func TestRedeemHandlerSuccess(t *testing.T) {
	account := uuid.New()
	msg := testMessage(account)
	svc := newTestService(&mockLedger{daily: 1}, newMockMessages(msg), &mockCompleter{})

	rr := doRedeem(t, svc, account, `{"message_id":"`+msg.ID.String()+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rr.Code, rr.Body)
	}
	var resp RedeemResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp.Success || resp.Hint == nil || *resp.Hint == "" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRedeemHandlerInsufficientBalance(t *testing.T) {
	account := uuid.New()
	msg := testMessage(account)
	svc := newTestService(&mockLedger{}, newMockMessages(msg), &mockCompleter{})

	rr := doRedeem(t, svc, account, `{"message_id":"`+msg.ID.String()+`"}`)
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("code = %d, want 402", rr.Code)
	}
	var resp RedeemResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Success || resp.Hint != nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRedeemHandlerGenerationFailure(t *testing.T) {
	account := uuid.New()
	msg := testMessage(account)
	svc := newTestService(&mockLedger{daily: 1}, newMockMessages(msg), &mockCompleter{err: errors.New("timeout")})

	rr := doRedeem(t, svc, account, `{"message_id":"`+msg.ID.String()+`"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502", rr.Code)
	}
}

func TestRedeemHandlerBadInput(t *testing.T) {
	account := uuid.New()
	svc := newTestService(&mockLedger{daily: 1}, newMockMessages(), &mockCompleter{})

	if rr := doRedeem(t, svc, account, `{not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid JSON: code = %d", rr.Code)
	}
	if rr := doRedeem(t, svc, account, `{"message_id":"not-a-uuid"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid: code = %d", rr.Code)
	}
	if rr := doRedeem(t, svc, account, `{"message_id":"`+uuid.NewString()+`"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown message: code = %d", rr.Code)
	}
}

func TestRedeemHandlerUnauthenticated(t *testing.T) {
	svc := newTestService(&mockLedger{daily: 1}, newMockMessages(), &mockCompleter{})
	h := NewHandler(svc, slog.New(slog.DiscardHandler))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hints/redeem", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.Redeem(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}
