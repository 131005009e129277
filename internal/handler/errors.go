package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// errMalformed marks request bodies that are not valid JSON.
var errMalformed = errors.New("malformed request body")

// writeError writes {"code", "message", "problems"}.
func writeError(w http.ResponseWriter, status int, message string, problems []order.Problem) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	if len(problems) > 0 {
		e.FieldStart("problems")
		e.ArrStart()
		for _, p := range problems {
			e.ObjStart()
			e.FieldStart("field")
			e.Str(p.Field)
			e.FieldStart("message")
			e.Str(p.Message)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()

	writeBody(w, status, e.Bytes())
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeOrder writes o with status.
func writeOrder(ctx context.Context, w http.ResponseWriter, status int, o *order.Order) {
	body, err := json.Marshal(o)
	if err != nil {
		zctx.From(ctx).Error("Encode order", zap.String("order_id", o.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}
	writeBody(w, status, body)
}

// mapError converts domain errors to HTTP error responses. Unknown errors
// are logged and reported as 500 without detail.
func mapError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validation   *order.ValidationError
		fieldErrs    validator.ValidationErrors
		quantity     *order.InvalidQuantityError
		unitNotFound *order.UnitNotFoundError
		reconcile    *order.ReconciliationError
		taxConfig    *tax.ConfigError
	)
	switch {
	case errors.Is(err, errMalformed):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &fieldErrs):
		writeError(w, http.StatusUnprocessableEntity, "invalid request", fieldProblems(fieldErrs))
	case errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "invalid order", validation.Problems)
	case errors.As(err, &quantity), errors.As(err, &unitNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error(), nil)
	case errors.As(err, &reconcile):
		writeError(w, http.StatusConflict, reconcile.Error(), nil)
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, order.ErrInvalidAmount),
		errors.Is(err, tax.ErrInvalidPrice),
		errors.Is(err, discount.ErrInvalidCode),
		errors.Is(err, discount.ErrExpired),
		errors.Is(err, discount.ErrUsageLimitReached):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.As(err, &taxConfig):
		writeError(w, http.StatusUnprocessableEntity, "unsupported tax jurisdiction: "+taxConfig.Error(), nil)
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func fieldProblems(errs validator.ValidationErrors) []order.Problem {
	problems := make([]order.Problem, len(errs))
	for i, fe := range errs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		// Drop the request type name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		problems[i] = order.Problem{Field: field, Message: msg}
	}
	return problems
}

// decode reads the JSON body into v and validates it.
func (h *Handler) decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errMalformed, err.Error())
	}
	return h.validate.Struct(v)
}
