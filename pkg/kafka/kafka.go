// Package kafka — обёртка над kafka-go для публикации событий жизненного цикла заказов.
// Сообщения переносят trace_id и correlation_id в headers.
package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicOrderEvents — топик событий заказов по умолчанию.
const TopicOrderEvents = "orders.events"

// Ключи headers сообщений.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderEventType     = "event_type"
	HeaderTimestamp     = "timestamp"
)

// Config — подключение к брокерам.
type Config struct {
	Brokers []string
}

// Message — сообщение для отправки.
type Message struct {
	Key     []byte
	Value   []byte
	Topic   string
	Headers map[string]string
	Time    time.Time
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}
