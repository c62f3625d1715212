package outbox

import (
	"encoding/json"
	"time"
)

// Model — GORM модель таблицы outbox.
type Model struct {
	ID          string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateID string     `gorm:"column:aggregate_id;type:varchar(36);not null;index"`
	EventType   string     `gorm:"column:event_type;type:varchar(64);not null"`
	Topic       string     `gorm:"column:topic;type:varchar(100);not null"`
	Payload     []byte     `gorm:"column:payload;type:json;not null"`
	Headers     []byte     `gorm:"column:headers;type:json"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt *time.Time `gorm:"column:processed_at;index:idx_outbox_unprocessed"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0"`
	LastError   *string    `gorm:"column:last_error;type:text"`
}

// TableName — имя таблицы.
func (Model) TableName() string {
	return "outbox"
}

func (m *Model) toDomain() *Record {
	r := &Record{
		ID:          m.ID,
		AggregateID: m.AggregateID,
		EventType:   m.EventType,
		Topic:       m.Topic,
		Payload:     m.Payload,
		CreatedAt:   m.CreatedAt,
		ProcessedAt: m.ProcessedAt,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
	}
	if len(m.Headers) > 0 {
		_ = json.Unmarshal(m.Headers, &r.Headers)
	}
	return r
}

func modelFromDomain(r *Record) *Model {
	m := &Model{
		ID:          r.ID,
		AggregateID: r.AggregateID,
		EventType:   r.EventType,
		Topic:       r.Topic,
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt,
		ProcessedAt: r.ProcessedAt,
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
	}
	if len(r.Headers) > 0 {
		if data, err := json.Marshal(r.Headers); err == nil {
			m.Headers = data
		}
	}
	return m
}
