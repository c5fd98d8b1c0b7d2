package hostctx

import (
	"context"

	"github.com/fuxiaohei/lol-serverless/bodystore"
	"github.com/fuxiaohei/lol-serverless/fetchpool"
	"github.com/fuxiaohei/lol-serverless/runtime"
	"github.com/fuxiaohei/lol-serverless/taskio"
)

// Context is the sole owner of one guest request's body store and async-io
// coordinator (spec.md §9 "Cyclic ownership"). It is created fresh per
// request and discarded once the request, including its post-response
// drain, is fully finished.
//
// The four Host structs (BodyHost, AsyncioHost, FetchHost, CryptoHost) are
// bound once per worker template, shared by every concurrent request that
// template serves — they carry no per-request state of their own. Instead
// each request's Context travels down through the guest call's own
// context.Context (the same ctx wazero forwards into every host function,
// per engine/canon_lower.go's callHandler), and host methods recover it with
// FromContext. This avoids the cross-request aliasing a shared mutable
// struct field would cause under concurrent instantiations of one template.
type Context struct {
	Bodies *bodystore.Store
	Tasks  *taskio.Coordinator
	Fetch  *fetchpool.Pool

	RequestID string
	EnvVars   map[string]string
}

// New creates a per-request Context sharing the process-wide fetch pool.
func New(fetch *fetchpool.Pool, requestID string, env map[string]string) *Context {
	return &Context{
		Bodies:    bodystore.New(),
		Tasks:     taskio.New(),
		Fetch:     fetch,
		RequestID: requestID,
		EnvVars:   env,
	}
}

type contextKey struct{}

// WithContext attaches c to ctx for the duration of a guest call.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext recovers the Context a host call is running under. Panics if
// called outside a request Context.WithContext established — a host
// function invoked without one is a wiring bug, not a guest-triggerable
// error.
func FromContext(ctx context.Context) *Context {
	c, ok := ctx.Value(contextKey{}).(*Context)
	if !ok {
		panic("hostctx: no Context in ctx — host function called outside a request")
	}
	return c
}

// Hosts returns the four runtime.Host implementations that back every
// request on a worker template. Stateless; register once per template.
func Hosts() []runtime.Host {
	return []runtime.Host{
		&BodyHost{},
		&AsyncioHost{},
		&FetchHost{},
		&CryptoHost{},
	}
}
