package http

import (
	"context"
	"sync/atomic"
)

type actorKey struct{}

type actorSlot struct {
	id atomic.Pointer[string]
}

// WithActorSlot returns a context that carries a writable slot for the
// authenticated principal. Middleware that runs before authentication uses
// it to learn who made the request once the handler chain has returned.
func WithActorSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, actorKey{}, &actorSlot{})
}

// SetActor records the principal in the slot. It is a no-op without one.
func SetActor(ctx context.Context, principalID string) {
	if slot, ok := ctx.Value(actorKey{}).(*actorSlot); ok {
		slot.id.Store(&principalID)
	}
}

// ActorFrom returns the recorded principal, or nil.
func ActorFrom(ctx context.Context) *string {
	if slot, ok := ctx.Value(actorKey{}).(*actorSlot); ok {
		return slot.id.Load()
	}
	return nil
}
