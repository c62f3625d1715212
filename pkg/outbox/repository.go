package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrRecordNotFound — запись outbox не найдена.
var ErrRecordNotFound = errors.New("запись outbox не найдена")

// Repository — доступ к таблице outbox.
type Repository interface {
	// Create пишет событие. Внутри транзакции репозиторий создаётся через NewRepository(tx).
	Create(ctx context.Context, record *Record) error

	// GetUnprocessed возвращает неопубликованные записи, сначала с меньшим числом попыток.
	GetUnprocessed(ctx context.Context, limit int) ([]*Record, error)

	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed увеличивает retry_count и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, id string, err error) error

	// DeleteProcessedBefore удаляет опубликованные записи старше before (не более 1000 за вызов).
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий поверх db (подключение или транзакция).
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, record *Record) error {
	return r.db.WithContext(ctx).Create(modelFromDomain(record)).Error
}

func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Record, error) {
	var models []Model
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*Record, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, id string, cause error) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before).
		Limit(1000).
		Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
