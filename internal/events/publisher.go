// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/pkg/httpmiddleware"
)

// Config configures the Kafka writer.
type Config struct {
	Brokers      []string      `default:"" usage:"Kafka brokers; empty disables event publishing"`
	Topic        string        `default:"orders" usage:"Topic for order events"`
	WriteTimeout time.Duration `default:"10s" usage:"Kafka write timeout"`
}

// Event is the envelope written for every order event.
type Event struct {
	ID            string            `json:"id"`
	Type          order.EventType   `json:"type"`
	OrderID       string            `json:"order_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher implements order.Publisher. Messages are keyed by order ID so
// one order's events stay on one partition.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewPublisher creates a Publisher writing to cfg.Topic.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
		now: time.Now,
	}
}

// Publish writes event for o.
func (p *Publisher) Publish(ctx context.Context, event order.EventType, o *order.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding order %q: %w", o.ID, err)
	}

	e := Event{
		ID:      uuid.New().String(),
		Type:    event,
		OrderID: o.ID,
		Data:    data,
		Metadata: map[string]string{
			"status":   strconv.Itoa(o.Status),
			"currency": o.CurrencyID,
			"gross":    o.TotalGross.StringFixed(2),
		},
		Timestamp:     p.now().UTC(),
		CorrelationID: httpmiddleware.RequestIDFromContext(ctx),
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s for order %q: %w", event, o.ID, err)
	}

	zctx.From(ctx).Debug("Event published",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("order_id", e.OrderID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
