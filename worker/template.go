package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/fuxiaohei/lol-serverless/errors"
	"github.com/fuxiaohei/lol-serverless/hostctx"
	"github.com/fuxiaohei/lol-serverless/runtime"
	"github.com/fuxiaohei/lol-serverless/wasi/preview2"
	"github.com/fuxiaohei/lol-serverless/wasmengine"
)

// buildMu serializes host registration and component loading across every
// Template built on a process (wasmengine.Engine is a shared, process-wide
// wazero.Runtime with one HostRegistry — runtime.Runtime.LoadComponent binds
// the registry's *current* contents into the loaded module the instant it is
// called). Two templates with different WASI environments racing their
// RegisterWASI+LoadComponent pair on the same engine could otherwise bind
// each other's env. The hot path (Instantiate+Call per request) never takes
// this lock.
var buildMu sync.Mutex

// Request is the guest's http.incoming.handle-request parameter
// (spec.md §6): method, absolute URI, headers with x-land-* already
// stripped, and an optional body handle already installed into the
// request's Store.
type Request struct {
	Method  string
	URI     string
	Headers [][2]string
	Body    uint32
}

// Response is the guest's http.incoming.handle-request result.
type Response struct {
	Status  uint16
	Headers [][2]string
	Body    uint32
}

const (
	exportHandleRequest = "handle-request"
	exportIsPending     = "is-pending"
	exportSelect        = "select"
)

// Template is one guest component's pre-compiled, pre-linked host linkage —
// spec.md §4.6's WorkerTemplate. Grounded on
// original_source/lib/wasm-host/src/worker.rs's Worker::from_binary/from_aot:
// there, a fresh wasmtime Linker is built against the shared Engine and the
// module is pre-instantiated; here the analogous "fresh Linker" is a fresh
// runtime.Runtime built against the same wasmengine.Engine's CacheDir, and
// "pre-instantiated" is Module.Compile.
type Template struct {
	sourcePath string
	env        map[string]string
	rt         *runtime.Runtime
	module     *runtime.Module
	wasi       *preview2.WASI
}

// FromBinary compiles a template directly from a component's source bytes.
func FromBinary(ctx context.Context, eng *wasmengine.Engine, sourcePath string, wasm []byte, env map[string]string) (*Template, error) {
	return build(ctx, eng, sourcePath, wasm, env)
}

// FromAOT loads a template from an AOT blob written by CompileAOT. In this
// port an "AOT blob" is the original component bytes tagged with
// wasmengine.ModuleVersion in its filename (wazero.CompiledModule has no
// public serialization format the way wasmtime's Module::serialize does);
// the actual compiled-code reuse comes from the shared wazero
// CompilationCache directory keyed off content hash, not from this blob's
// contents. FromAOT's only extra job over FromBinary is refusing a blob
// whose version tag is stale — the caller is expected to have already
// checked wasmengine.IsCurrentAOT(aotPath) against the path it read aotWasm
// from.
func FromAOT(ctx context.Context, eng *wasmengine.Engine, sourcePath string, aotWasm []byte, env map[string]string) (*Template, error) {
	return build(ctx, eng, sourcePath, aotWasm, env)
}

// CompileAOT forces compilation of wasm into eng's shared CompilationCache
// and returns the template built from it. Callers that only want to warm
// the cache (spec.md §4.7 step 3's background AOT production) can discard
// the Template and just check the error.
func CompileAOT(ctx context.Context, eng *wasmengine.Engine, sourcePath string, wasm []byte, env map[string]string) (*Template, error) {
	return build(ctx, eng, sourcePath, wasm, env)
}

func build(ctx context.Context, eng *wasmengine.Engine, sourcePath string, wasm []byte, env map[string]string) (*Template, error) {
	buildMu.Lock()
	defer buildMu.Unlock()

	rt := eng.Runtime()

	wasi := preview2.New().WithEnv(env)
	if err := registerStdioWASI(rt, wasi); err != nil {
		return nil, fmt.Errorf("register WASI for %s: %w", sourcePath, err)
	}
	for _, h := range hostctx.Hosts() {
		if err := rt.RegisterHost(h); err != nil {
			return nil, fmt.Errorf("register host-call ABI for %s: %w", sourcePath, err)
		}
	}

	module, err := rt.LoadComponent(ctx, wasm)
	if err != nil {
		return nil, errors.Load("load component "+sourcePath, err)
	}
	if err := module.Compile(ctx); err != nil {
		return nil, errors.Load("compile component "+sourcePath, err)
	}

	return &Template{
		sourcePath: sourcePath,
		env:        env,
		rt:         rt,
		module:     module,
		wasi:       wasi,
	}, nil
}

// SourcePath is the artifact path this template was built from.
func (t *Template) SourcePath() string { return t.sourcePath }

// Start instantiates a fresh guest instance bound to rc for the lifetime of
// one request plus its post-response drain (spec.md §4.8 step 6: "store
// backed by the Context"). No two concurrent requests share an Instance.
func (t *Template) Start(ctx context.Context) (*Session, error) {
	instance, err := t.module.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	return &Session{instance: instance}, nil
}

// Session is one guest instance scoped to a single request's Context —
// from handle-request through the post-response drain loop. Grounded on
// worker.rs's per-call Store<Context>, generalized from wasmtime's
// epoch-deadline/fuel-limited Store to the teacher runtime's plain Instance
// (no epoch API is exposed by the Go port; the request-wide timeout in the
// pipeline is the outer preemption mechanism instead, per spec.md §5's
// "Cancellation & timeouts").
type Session struct {
	instance *runtime.Instance
}

// HandleRequest calls the guest's http.incoming.handle-request export.
// rc must already be installed as req.Body's owning Store.
func (s *Session) HandleRequest(ctx context.Context, rc *hostctx.Context, req Request) (Response, error) {
	callCtx := hostctx.WithContext(ctx, rc)
	raw, err := s.instance.Call(callCtx, exportHandleRequest, req)
	if err != nil {
		return Response{}, err
	}
	return decodeResponse(raw)
}

// IsPending calls the guest's asyncio.context.is-pending export.
func (s *Session) IsPending(ctx context.Context, rc *hostctx.Context) (bool, error) {
	callCtx := hostctx.WithContext(ctx, rc)
	raw, err := s.instance.Call(callCtx, exportIsPending)
	if err != nil {
		return false, err
	}
	return decodeBool(raw)
}

// Select calls the guest's asyncio.context.select export once, returning
// whether further drain work remains.
func (s *Session) Select(ctx context.Context, rc *hostctx.Context) (bool, error) {
	callCtx := hostctx.WithContext(ctx, rc)
	raw, err := s.instance.Call(callCtx, exportSelect)
	if err != nil {
		return false, err
	}
	return decodeBool(raw)
}

// Drain repeatedly calls Select until it returns false or errors
// (spec.md §4.8 step 9 / §4.3's select-until-quiescent loop). The caller
// owns rc's Store for the duration — no other goroutine may touch it.
func (s *Session) Drain(ctx context.Context, rc *hostctx.Context) error {
	for {
		more, err := s.Select(ctx, rc)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Close releases the guest instance. Safe to call after Drain, or
// immediately after HandleRequest if IsPending was false.
func (s *Session) Close(ctx context.Context) error {
	return s.instance.Close(ctx)
}

func decodeBool(raw any) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("worker: expected bool result, got %T", raw)
	}
	return b, nil
}

// decodeResponse accepts either a native Response (the common case, when the
// canon-lift path returns values already shaped to the Go struct passed at
// the call site) or a map[string]any keyed by WIT field name, since the
// exact shape record results take through CallWithLift is an engine
// implementation detail this package doesn't own.
func decodeResponse(raw any) (Response, error) {
	switch v := raw.(type) {
	case Response:
		return v, nil
	case *Response:
		return *v, nil
	case map[string]any:
		resp := Response{}
		if status, ok := v["status"].(uint16); ok {
			resp.Status = status
		} else if status, ok := v["status"].(uint32); ok {
			resp.Status = uint16(status)
		}
		if headers, ok := v["headers"].([][2]string); ok {
			resp.Headers = headers
		}
		if body, ok := v["body"].(uint32); ok {
			resp.Body = body
		}
		return resp, nil
	default:
		return Response{}, fmt.Errorf("worker: unexpected handle-request result type %T", raw)
	}
}
