package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct{ committed bool }

func fakeBegin(tx *fakeTx) BeginFunc[*fakeTx] {
	return func(ctx context.Context, fn func(ctx context.Context, tx *fakeTx) error) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		tx.committed = true
		return nil
	}
}

func TestUoW_HooksRunAfterCommit(t *testing.T) {
	tx := &fakeTx{}
	u := New(fakeBegin(tx))

	var order []string
	err := u.Do(context.Background(), func(ctx context.Context, tx *fakeTx, after func(AfterCommit)) error {
		after(func(context.Context) {
			assert.True(t, tx.committed)
			order = append(order, "first")
		})
		after(func(context.Context) { order = append(order, "second") })
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUoW_HooksSkippedOnError(t *testing.T) {
	u := New(fakeBegin(&fakeTx{}))
	boom := errors.New("boom")

	ran := false
	err := u.Do(context.Background(), func(ctx context.Context, tx *fakeTx, after func(AfterCommit)) error {
		after(func(context.Context) { ran = true })
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}
