package hostctx

import (
	"context"
)

const asyncioNamespace = "land:asyncio/asyncio@0.1.0"

// AsyncioHost exposes the request's taskio.Coordinator as guest host-calls.
// Stateless: the Coordinator comes from FromContext(ctx) on every call.
type AsyncioHost struct{}

func (h *AsyncioHost) Namespace() string { return asyncioNamespace }

// New registers a task with no timer, runnable at the next drain step.
func (h *AsyncioHost) New(ctx context.Context) uint32 {
	return FromContext(ctx).Tasks.NewTask()
}

// Sleep registers a task gated on a host timer of ms milliseconds.
func (h *AsyncioHost) Sleep(ctx context.Context, ms uint32) uint32 {
	return FromContext(ctx).Tasks.Sleep(ms)
}

// Finish marks id's own status Finished.
func (h *AsyncioHost) Finish(ctx context.Context, id uint32) {
	FromContext(ctx).Tasks.Finish(id)
}

// Select returns (handle, hasHandle, waiting): hasHandle=true when a
// runnable task's id is returned; otherwise waiting distinguishes "table has
// pending work" from "table is empty".
func (h *AsyncioHost) Select(ctx context.Context) (uint32, bool, bool) {
	id, waiting := FromContext(ctx).Tasks.Select()
	return id, id != 0, waiting
}

// Ready blocks until some task transitions or ctx is done.
func (h *AsyncioHost) Ready(ctx context.Context) error {
	return FromContext(ctx).Tasks.Ready(ctx.Done())
}
