package services

import (
	"context"
	"sync"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

type commitHooksKey struct{}

// commitHooks collects callbacks that must only run once the outermost transaction commits.
type commitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (h *commitHooks) add(fn func(context.Context)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *commitHooks) reset() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}

func (h *commitHooks) drain() []func(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := h.fns
	h.fns = nil
	return fns
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// runInTx runs fn inside uow. Nested calls join the outer transaction and defer their
// commit hooks to it. The outermost call discards hooks from aborted attempts so a
// retried transaction never publishes twice.
func runInTx(ctx context.Context, uow repositories.UnitOfWork, fn func(context.Context) error) error {
	if uow == nil {
		uow = noopUnitOfWork{}
	}
	if _, nested := ctx.Value(commitHooksKey{}).(*commitHooks); nested {
		return uow.RunInTx(ctx, fn)
	}

	hooks := &commitHooks{}
	txCtx := context.WithValue(ctx, commitHooksKey{}, hooks)
	err := uow.RunInTx(txCtx, func(attemptCtx context.Context) error {
		hooks.reset()
		return fn(attemptCtx)
	})
	if err != nil {
		return err
	}
	for _, hook := range hooks.drain() {
		hook(ctx)
	}
	return nil
}

// afterCommit schedules fn for when the enclosing transaction commits, or runs it now outside one.
func afterCommit(ctx context.Context, fn func(context.Context)) {
	if hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		hooks.add(fn)
		return
	}
	fn(ctx)
}
