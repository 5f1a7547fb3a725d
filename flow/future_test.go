package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture(t *testing.T) {
	t.Run("Value", func(t *testing.T) {
		future := NewFuture[string](context.Background(), "in")
		go future.SetValue("out")

		v, err := future.Value()
		require.NoError(t, err)
		assert.Equal(t, "out", v)
		assert.Equal(t, "in", future.Original())
		assert.True(t, future.Done())

		future.SetError(errors.New("ignored"))
		assert.NoError(t, future.Err())
	})

	t.Run("Error", func(t *testing.T) {
		boom := errors.New("boom")
		future := NewFuture[int](context.Background(), 1)
		future.SetError(boom)
		assert.ErrorIs(t, future.Err(), boom)
		<-future.Inner()
	})

	t.Run("Timeout", func(t *testing.T) {
		future := NewFuture[int](context.Background(), 1)
		_, err := future.ValueTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, future.Done())
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		future := NewFuture[int](ctx, 1)
		cancel()
		_, err := future.Value()
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Futures", func(t *testing.T) {
		boom := errors.New("boom")
		futures := Futures[int]{
			NewFuture[int](context.Background(), 1),
			NewFuture[int](context.Background(), 2),
			NewFuture[int](context.Background(), 3),
		}
		futures[0].SetValue(10)
		futures[1].SetError(boom)
		futures[2].SetValue(30)

		errs := futures.Await()
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], boom)
		assert.Equal(t, []int{10, 30}, futures.Values())
	})
}
