package uow

import (
	"context"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// BeginFunc runs fn inside one transaction, committing when fn returns nil.
type BeginFunc[T any] func(ctx context.Context, fn func(ctx context.Context, tx T) error) error

// UoW represents a unit of work over a transaction handle of type T.
type UoW[T any] struct {
	begin BeginFunc[T]
}

func New[T any](begin BeginFunc[T]) *UoW[T] {
	return &UoW[T]{begin: begin}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks in registration order. Hooks
// registered by a failed attempt are discarded.
func (u *UoW[T]) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx T, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.begin(ctx, func(ctx context.Context, tx T) error {
		hooks = hooks[:0]
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
