package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/pkg/httpmiddleware"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Publisher{writer: w, now: func() time.Time { return now }}

	o := order.Restore(&order.Order{
		ID:         "o-1",
		Status:     order.StatusAwaitingDispatch,
		CurrencyID: "GBP",
		TotalGross: decimal.RequireFromString("12.5"),
	}, order.Entities{})

	// Run through the request ID middleware to get a correlation ID.
	var ctx context.Context
	h := httpmiddleware.RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Request-ID", "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, p.Publish(ctx, order.EventCreated, o))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "order.created", string(msg.Headers[0].Value))

	var e Event
	require.NoError(t, json.Unmarshal(msg.Value, &e))
	assert.Equal(t, order.EventCreated, e.Type)
	assert.Equal(t, "o-1", e.OrderID)
	assert.Equal(t, "req-7", e.CorrelationID)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "12.50", e.Metadata["gross"])
	assert.Equal(t, "0", e.Metadata["status"])
	assert.NotEmpty(t, e.ID)

	var decoded order.Order
	require.NoError(t, json.Unmarshal(e.Data, &decoded))
	assert.Equal(t, "GBP", decoded.CurrencyID)
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Publisher{writer: &recordingWriter{err: boom}, now: time.Now}

	err := p.Publish(context.Background(), order.EventCancelled, order.Restore(&order.Order{ID: "o-2"}, order.Entities{}))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "order.cancelled")
}
