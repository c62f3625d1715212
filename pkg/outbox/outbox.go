// Package outbox реализует Outbox Pattern для событий заказов.
//
// Событие пишется в таблицу outbox в той же транзакции, что и изменение заказа,
// а Worker публикует накопленные записи в Kafka (at-least-once).
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/storefront-orders/pkg/kafka"
	"example.com/storefront-orders/pkg/logger"
)

// Record — событие, ожидающее публикации.
type Record struct {
	ID          string
	AggregateID string // ID заказа, он же ключ партиционирования
	EventType   string // order.created, order.confirmed, ...
	Topic       string
	Payload     []byte
	Headers     map[string]string
	CreatedAt   time.Time
	ProcessedAt *time.Time // nil — ещё не опубликовано
	RetryCount  int
	LastError   *string
}

// NewRecord сериализует payload в JSON и переносит trace_id / correlation_id из контекста в headers.
func NewRecord(ctx context.Context, topic, aggregateID, eventType string, payload any) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	headers := map[string]string{kafka.HeaderEventType: eventType}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}

	return &Record{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Topic:       topic,
		Payload:     data,
		Headers:     headers,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// message собирает Kafka сообщение из записи.
func (r *Record) message() *kafka.Message {
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	return &kafka.Message{
		Topic:   r.Topic,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: headers,
	}
}
