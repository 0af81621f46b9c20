package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestCombineContext(t *testing.T) {
	t.Run("inherits parent values", func(t *testing.T) {
		parent := context.WithValue(context.Background(), ctxKey{}, "tab")
		ctx, cancel := CombineContext(parent, context.Background())
		defer cancel()
		assert.Equal(t, "tab", ctx.Value(ctxKey{}))
	})

	t.Run("parent cancellation propagates", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		ctx, cancel := CombineContext(parent, context.Background())
		defer cancel()

		cancelParent()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not cancelled by parent")
		}
	})

	t.Run("secondary cancellation propagates", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		ctx, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary()
		select {
		case <-ctx.Done():
			assert.ErrorIs(t, ctx.Err(), context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("combined context was not cancelled by secondary")
		}
	})

	t.Run("secondary deadline reports DeadlineExceeded", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelSecondary()
		ctx, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		secondaryDeadline, _ := secondary.Deadline()
		assert.Equal(t, secondaryDeadline, deadline)

		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	})

	t.Run("cancel func ends the combined context", func(t *testing.T) {
		ctx, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})
}
