package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

type resolveItem struct {
	ProductType string `json:"product_type" validate:"required,max=64"`
	CountryID   string `json:"country_id" validate:"required,max=16"`
	RegionID    string `json:"region_id" validate:"max=16"`
}

type resolveRequest struct {
	Requests []resolveItem `json:"requests" validate:"required,min=1,max=100,dive"`
}

// ResolveTax resolves the rate sets for a batch of product types and
// jurisdictions. A configuration error fails the whole batch.
func (h *Handler) ResolveTax(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := h.decode(r, w, &req); err != nil {
		mapError(r.Context(), w, err)
		return
	}

	reqs := make([]tax.Request, len(req.Requests))
	for i, it := range req.Requests {
		reqs[i] = tax.Request{
			ProductType: it.ProductType,
			Address:     tax.Address{CountryID: it.CountryID, RegionID: it.RegionID},
		}
	}
	sets, err := tax.ResolveAll(r.Context(), h.resolver, reqs)
	if err != nil {
		mapError(r.Context(), w, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("results")
	e.ArrStart()
	for i, set := range sets {
		encodeRateSet(e, req.Requests[i], set)
	}
	e.ArrEnd()
	e.ObjEnd()
	writeBody(w, http.StatusOK, e.Bytes())
}

func encodeRateSet(e *jx.Encoder, req resolveItem, set tax.RateSet) {
	e.ObjStart()
	e.FieldStart("product_type")
	e.Str(req.ProductType)
	e.FieldStart("country_id")
	e.Str(req.CountryID)
	if req.RegionID != "" {
		e.FieldStart("region_id")
		e.Str(req.RegionID)
	}
	e.FieldStart("exempt")
	e.Bool(set.IsEmpty())
	e.FieldStart("total_rate")
	e.Str(set.TotalRate().String())
	e.FieldStart("rates")
	e.ArrStart()
	for _, rate := range set.Rates() {
		e.ObjStart()
		e.FieldStart("key")
		e.Str(rate.Key)
		e.FieldStart("name")
		e.Str(rate.Name)
		e.FieldStart("type")
		e.Str(rate.Type)
		e.FieldStart("rate")
		e.Str(rate.Rate.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
