package router

import (
	"net/http"

	"github.com/whisperly/backend/internal/auth"
	"github.com/whisperly/backend/internal/dashboard"
	"github.com/whisperly/backend/internal/hints"
	"github.com/whisperly/backend/internal/messages"
	"github.com/whisperly/backend/internal/payments"
)

// New returns an http.Handler serving the API under /api/v1. The payment
// callback is the only route outside the auth middleware besides
// register/login: the gateway authenticates with its body signature, not a
// bearer token, and must accept both GET and POST.
func New(
	authSvc auth.Service,
	authHandler *auth.Handler,
	dashHandler *dashboard.Handler,
	msgHandler *messages.Handler,
	hintsHandler *hints.Handler,
	payHandler *payments.Handler,
	webhookHandler *payments.WebhookHandler,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(authHandler.Login))
	mux.HandleFunc(base+"/hints/packages", methodGET(payHandler.ListPackages))
	mux.HandleFunc(base+"/payments/qpay/callback", webhookHandler.Callback)

	authed := auth.RequireAccount(authSvc)
	mux.Handle(base+"/account/me", authed(methodGET(dashHandler.GetMe)))
	mux.Handle(base+"/messages", authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			msgHandler.Create(w, r)
		case http.MethodGet:
			msgHandler.List(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle(base+"/hints/redeem", authed(methodPOST(hintsHandler.Redeem)))
	mux.Handle(base+"/invoices", authed(methodPOST(payHandler.CreateInvoice)))
	mux.Handle(base+"/invoices/", authed(methodGET(payHandler.GetInvoice)))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
