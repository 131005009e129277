package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("assembler exploded")
	})
	h := Wrap(boom, RequestID(), InjectLogger(zap.New(core)), Recovery())

	req := httptest.NewRequest(http.MethodPost, "/api/order", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
	assert.JSONEq(t, `{"code":500,"message":"internal error"}`, rec.Body.String())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "assembler exploded", fields["panic"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "/api/order", fields["path"])
	assert.Equal(t, http.MethodPost, fields["method"])
	assert.Contains(t, fields["stack"], "httpmiddleware.Recovery")
}

func TestRecovery_AbortHandler(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
