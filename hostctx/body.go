package hostctx

import (
	"context"
)

// bodyNamespace is this worker's import interface for the body ABI
// (spec.md §4.2/§6 http.body).
const bodyNamespace = "land:http/body@0.1.0"

// BodyHost exposes the request's bodystore.Store as guest host-calls.
// Stateless: the Store comes from FromContext(ctx) on every call.
type BodyHost struct{}

func (h *BodyHost) Namespace() string { return bodyNamespace }

// New reserves an empty handle (http.body.new()).
func (h *BodyHost) New(ctx context.Context) uint32 {
	return FromContext(ctx).Bodies.NewEmpty()
}

// NewStream creates a Sender-backed writable body (http.body.new-stream()).
func (h *BodyHost) NewStream(ctx context.Context) uint32 {
	return FromContext(ctx).Bodies.NewStream()
}

// Read reads up to size bytes from handle.
func (h *BodyHost) Read(ctx context.Context, handle uint32, size uint32) ([]byte, bool, error) {
	return FromContext(ctx).Bodies.Read(handle, size)
}

// ReadAll drains handle to completion.
func (h *BodyHost) ReadAll(ctx context.Context, handle uint32) ([]byte, error) {
	return FromContext(ctx).Bodies.ReadAll(handle)
}

// Write appends data to handle.
func (h *BodyHost) Write(ctx context.Context, handle uint32, data []byte) (uint64, error) {
	return FromContext(ctx).Bodies.Write(handle, data)
}
