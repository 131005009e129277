package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/order"
)

type itemRequest struct {
	UnitID        string          `json:"unit_id" validate:"required"`
	Quantity      int             `json:"quantity" validate:"required,min=1,max=999"`
	StockLocation string          `json:"stock_location" validate:"required"`
	ActualPrice   decimal.Decimal `json:"actual_price"`
}

type addressRequest struct {
	Type      string   `json:"type" validate:"required,oneof=delivery billing"`
	Name      string   `json:"name" validate:"required,max=200"`
	Lines     []string `json:"lines" validate:"max=4"`
	Town      string   `json:"town" validate:"required"`
	Postcode  string   `json:"postcode"`
	CountryID string   `json:"country_id" validate:"required,max=16"`
	RegionID  string   `json:"region_id" validate:"max=16"`
}

type shippingRequest struct {
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price"`
}

type paymentRequest struct {
	Method    string          `json:"method" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Change    decimal.Decimal `json:"change"`
	Reference string          `json:"reference"`
}

type refundRequest struct {
	PaymentID string          `json:"payment_id"`
	Method    string          `json:"method" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
}

type placeOrderRequest struct {
	Currency     string           `json:"currency" validate:"required,len=3"`
	Items        []itemRequest    `json:"items" validate:"dive"`
	Addresses    []addressRequest `json:"addresses" validate:"dive"`
	DiscountCode string           `json:"discount_code" validate:"max=32"`
	Shipping     *shippingRequest `json:"shipping"`
	Payments     []paymentRequest `json:"payments" validate:"dive"`
	Note         string           `json:"note" validate:"max=2000"`
}

func (p paymentRequest) payment() order.Payment {
	return order.Payment{Method: p.Method, Amount: p.Amount, Change: p.Change, Reference: p.Reference}
}

func (req *placeOrderRequest) domain() order.PlaceOrderRequest {
	out := order.PlaceOrderRequest{
		Currency:     req.Currency,
		Items:        make([]order.ItemRequest, len(req.Items)),
		Addresses:    make([]order.Address, len(req.Addresses)),
		DiscountCode: req.DiscountCode,
		Note:         req.Note,
	}
	for i, it := range req.Items {
		out.Items[i] = order.ItemRequest{
			UnitID:        it.UnitID,
			Quantity:      it.Quantity,
			StockLocation: it.StockLocation,
			ActualPrice:   it.ActualPrice,
		}
	}
	for i, a := range req.Addresses {
		out.Addresses[i] = order.Address{
			Type:      order.AddressType(a.Type),
			Name:      a.Name,
			Lines:     a.Lines,
			Town:      a.Town,
			Postcode:  a.Postcode,
			CountryID: a.CountryID,
			RegionID:  a.RegionID,
		}
	}
	if req.Shipping != nil {
		out.Shipping = &order.ShippingRequest{Name: req.Shipping.Name, Price: req.Shipping.Price}
	}
	for _, p := range req.Payments {
		out.Payments = append(out.Payments, p.payment())
	}
	return out
}

// PlaceOrder assembles, prices and stores a new order.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := h.decode(r, w, &req); err != nil {
		mapError(r.Context(), w, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req.domain())
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}
	writeOrder(r.Context(), w, http.StatusCreated, o)
}

// GetOrder returns a stored order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}
	writeOrder(r.Context(), w, http.StatusOK, o)
}

// AddPayment records a payment against an order.
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := h.decode(r, w, &req); err != nil {
		mapError(r.Context(), w, err)
		return
	}

	o, err := h.orders.AddPayment(r.Context(), r.PathValue("id"), req.payment())
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}
	writeOrder(r.Context(), w, http.StatusOK, o)
}

// AddRefund records a refund against an order.
func (h *Handler) AddRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := h.decode(r, w, &req); err != nil {
		mapError(r.Context(), w, err)
		return
	}

	o, err := h.orders.AddRefund(r.Context(), r.PathValue("id"), order.Refund{
		PaymentID: req.PaymentID,
		Method:    req.Method,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Reference: req.Reference,
	})
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}
	writeOrder(r.Context(), w, http.StatusOK, o)
}

// CompleteOrder completes a reconciled order.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}
	writeOrder(r.Context(), w, http.StatusOK, o)
}

// CancelOrder cancels an order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}
	writeOrder(r.Context(), w, http.StatusOK, o)
}
