package orders

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusCreated:           {StatusPaymentCompleted, StatusPaymentFailed, StatusCancelled},
		StatusPaymentCompleted:  {StatusShipmentPreparing, StatusCancelled},
		StatusPaymentFailed:     {StatusCancelled},
		StatusShipmentPreparing: {StatusShipped, StatusCancelled},
		StatusShipped:           {StatusDelivered},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			got, err := Transition(from, to)
			if want {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, from, got)
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []Status{StatusDelivered, StatusCancelled} {
		assert.True(t, terminal.Terminal())
		for _, to := range AllStatuses {
			_, err := Transition(terminal, to)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, to)
		}
	}
	assert.False(t, StatusShipped.Terminal())
}

func TestInvalidTransitionNamesBothStates(t *testing.T) {
	_, err := Transition(StatusShipped, StatusCancelled)

	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, StatusShipped, ite.From)
	assert.Equal(t, StatusCancelled, ite.To)
	assert.Contains(t, err.Error(), "SHIPPED")
	assert.Contains(t, err.Error(), "CANCELLED")
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("LOST")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseStatus(MarkerPaymentRequested)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewOrderValidation(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	o, err := NewOrder("p1", 3, now)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, now, o.CreatedAt)

	for _, qty := range []int{0, -1} {
		_, err := NewOrder("p1", qty, now)
		assert.ErrorIs(t, err, ErrValidation)
	}
	_, err = NewOrder("", 1, now)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrderMoveTo(t *testing.T) {
	now := time.Now().UTC()
	o, err := NewOrder("p1", 1, now)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	require.NoError(t, o.MoveTo(StatusPaymentCompleted, later))
	assert.Equal(t, StatusPaymentCompleted, o.Status)
	assert.Equal(t, later, o.UpdatedAt)

	err = o.MoveTo(StatusDelivered, later.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPaymentCompleted, o.Status)
	assert.Equal(t, later, o.UpdatedAt)
}
