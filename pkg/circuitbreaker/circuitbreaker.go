// Package circuitbreaker защищает вызовы внешних платёжных провайдеров от каскадных сбоев.
//
// Состояния:
//   - Closed: запросы проходят
//   - Open: провайдер считается недоступным, запросы отклоняются сразу
//   - Half-Open: пропускаем пробные запросы для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("payos")
//	link, err := circuitbreaker.Execute(cb, func() (*Link, error) { return call(ctx) })
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/storefront-orders/pkg/logger"
)

// ErrUnavailable возвращается, пока breaker открыт или исчерпан лимит Half-Open.
var ErrUnavailable = errors.New("провайдер временно недоступен (circuit breaker)")

// Settings — настройки breaker'а.
type Settings struct {
	MaxRequests  uint32        // запросов в Half-Open
	Interval     time.Duration // период сброса счётчиков в Closed
	Timeout      time.Duration // время в Open до перехода в Half-Open
	FailureRatio float64       // доля ошибок для открытия
	MinRequests  uint32        // минимум запросов для расчёта доли
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — gobreaker с логированием смены состояний.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт breaker с заданными настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — провайдер недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — провайдер восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker'а.
func (b *Breaker) Name() string {
	return b.name
}

// Permanent помечает ошибку, которая не говорит о сбое провайдера
// (например, отказ в валидации запроса). Такая ошибка возвращается вызывающему,
// но breaker считает вызов успешным.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Execute выполняет fn через breaker.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var (
		result  T
		callErr error
	)

	_, cbErr := b.cb.Execute(func() (any, error) {
		result, callErr = fn()
		var perm *Permanent
		if callErr != nil && !errors.As(callErr, &perm) {
			return nil, callErr
		}
		return nil, nil
	})

	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrUnavailable
	}

	var perm *Permanent
	if errors.As(callErr, &perm) {
		return result, perm.Err
	}
	return result, callErr
}
