// Package handler implements the JSON HTTP API over the order service and
// the tax resolver.
package handler

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xenking/mothership-commerce/internal/domain/auth"
	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// Scopes checked by the API routes.
const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
	ScopeTaxRead     = "tax:read"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the API routes.
type Handler struct {
	orders   *order.Service
	resolver tax.RateResolver
	auth     *auth.Authenticator
	validate *validator.Validate
}

// New constructs a Handler. A nil authenticator disables API key checks.
func New(orders *order.Service, resolver tax.RateResolver, authenticator *auth.Authenticator) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &Handler{
		orders:   orders,
		resolver: resolver,
		auth:     authenticator,
		validate: v,
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/tax/resolve", h.secured(ScopeTaxRead, h.ResolveTax))
	mux.Handle("POST /api/order", h.secured(ScopeOrdersWrite, h.PlaceOrder))
	mux.Handle("GET /api/order/{id}", h.secured(ScopeOrdersRead, h.GetOrder))
	mux.Handle("POST /api/order/{id}/payment", h.secured(ScopeOrdersWrite, h.AddPayment))
	mux.Handle("POST /api/order/{id}/refund", h.secured(ScopeOrdersWrite, h.AddRefund))
	mux.Handle("POST /api/order/{id}/complete", h.secured(ScopeOrdersWrite, h.CompleteOrder))
	mux.Handle("POST /api/order/{id}/cancel", h.secured(ScopeOrdersWrite, h.CancelOrder))
}
