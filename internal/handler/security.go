package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/auth"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "api_key"

// secured authenticates the request and checks scope before calling next.
func (h *Handler) secured(scope string, next http.HandlerFunc) http.Handler {
	if h.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = bearerToken(r)
		}

		info, err := h.auth.Authenticate(r.Context(), key)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		if !info.HasScope(scope) {
			writeError(w, http.StatusForbidden, "missing scope "+scope, nil)
			return
		}

		ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}
