package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestExecute_ReturnsResult(t *testing.T) {
	b := NewWithSettings("test", testSettings())

	got, err := Execute(b, func() (string, error) { return "https://pay/1", nil })

	require.NoError(t, err)
	assert.Equal(t, "https://pay/1", got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestExecute_OpensAfterFailures(t *testing.T) {
	b := NewWithSettings("test", testSettings())
	boom := errors.New("connection reset")

	for i := 0; i < 2; i++ {
		_, err := Execute(b, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	_, err := Execute(b, func() (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, called, "в открытом состоянии вызов не должен выполняться")
}

func TestExecute_PermanentErrorDoesNotTrip(t *testing.T) {
	b := NewWithSettings("test", testSettings())
	rejected := errors.New("invalid amount")

	for i := 0; i < 5; i++ {
		_, err := Execute(b, func() (int, error) { return 0, &Permanent{Err: rejected} })
		assert.ErrorIs(t, err, rejected)
		var perm *Permanent
		assert.False(t, errors.As(err, &perm), "обёртка Permanent не должна выходить наружу")
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
