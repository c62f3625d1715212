package outbox

import (
	"context"
	"time"

	"example.com/storefront-orders/pkg/kafka"
	"example.com/storefront-orders/pkg/logger"
)

// Publisher отправляет сообщение в брокер. Реализуется kafka.Producer.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — настройки Worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries — после стольких неудач запись снимается с очереди (dead letter).
	MaxRetries int
	// Retention — сколько хранить опубликованные записи.
	Retention       time.Duration
	CleanupInterval time.Duration
}

// DefaultWorkerConfig возвращает настройки по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    time.Second,
		BatchSize:       100,
		MaxRetries:      5,
		Retention:       7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Worker публикует записи outbox в Kafka.
type Worker struct {
	repo      Repository
	publisher Publisher
	cfg       WorkerConfig
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, publisher Publisher, cfg WorkerConfig) *Worker {
	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run блокирует до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("component", "outbox_worker").Logger()
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		case <-cleanup.C:
			w.cleanup(ctx)
		}
	}
}

// ProcessBatch публикует одну пачку записей. Возвращает число опубликованных.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return 0
	}

	published := 0
	for _, record := range records {
		select {
		case <-ctx.Done():
			return published
		default:
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Str("order_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("Dead letter: превышен лимит попыток, запись выведена из очереди")
			if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
			}
			continue
		}

		if err := w.publish(ctx, record); err != nil {
			continue
		}
		published++
	}
	return published
}

func (w *Worker) publish(ctx context.Context, record *Record) error {
	log := logger.FromContext(ctx)

	if err := w.publisher.SendMessage(ctx, record.message()); err != nil {
		log.Error().Err(err).
			Str("outbox_id", record.ID).
			Str("topic", record.Topic).
			Msg("Ошибка отправки события в Kafka")
		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		// Событие уйдёт повторно, потребители обязаны быть идемпотентными.
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как обработанной")
		return err
	}

	log.Debug().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Msg("Событие заказа опубликовано")
	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-w.cfg.Retention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка опубликованных записей outbox")
	}
}
