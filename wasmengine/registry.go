package wasmengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/fuxiaohei/lol-serverless/engine"
	"github.com/fuxiaohei/lol-serverless/errors"
	"github.com/fuxiaohei/lol-serverless/runtime"
)

// ModuleVersion is the opaque tag baked into AOT filenames. It changes
// whenever the serialized-component format wazero (or the component-model
// decoder this runtime vendors) produces could change in an
// incompatible way. Bumping it invalidates every cached AOT blob on next
// worker start, per spec.md §4.1.
const ModuleVersion = "wazero1.10-cm1"

// Engine is a named, process-wide Wasm runtime. Construction is expensive
// (it stands up a wazero.Runtime and its compilation cache); Get reuses the
// same instance for the lifetime of the process.
type Engine struct {
	rt       *runtime.Runtime
	name     string
	cacheDir string
}

// Runtime returns the underlying component-model runtime to build
// worker.Template values from.
func (e *Engine) Runtime() *runtime.Runtime { return e.rt }

// Name returns the engine's registry key.
func (e *Engine) Name() string { return e.name }

var (
	registryMu sync.Mutex
	registry   = map[string]*Engine{}
)

// Config controls engine construction. CacheDir, when set, is where the
// wazero compilation cache (this runtime's AOT store) persists compiled
// code across restarts.
type Config struct {
	CacheDir string
}

// Init creates (or returns, if already created) the named engine. Engine
// construction failure is fatal to the caller per spec.md's Failure modes
// table — it is returned, not retried internally.
func Init(ctx context.Context, name string, cfg Config) (*Engine, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if e, ok := registry[name]; ok {
		return e, nil
	}

	rt, err := runtime.NewWithConfig(ctx, &engine.Config{CacheDir: cfg.CacheDir})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err,
			fmt.Sprintf("construct wasm engine %q", name))
	}

	e := &Engine{rt: rt, name: name, cacheDir: cfg.CacheDir}
	registry[name] = e
	return e, nil
}

// Get returns a previously Init'd engine by name, or an error if none
// exists — callers must Init before Get, mirroring spec.md's "Initialized
// once" invariant for the engine registry.
func Get(name string) (*Engine, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	e, ok := registry[name]
	if !ok {
		return nil, errors.NotInitialized(errors.PhaseLoad, fmt.Sprintf("engine %q", name))
	}
	return e, nil
}

// Close releases the named engine's resources. Intended for test teardown
// and graceful process shutdown; the worker pool holds no references to
// engines that outlive this call once all its templates are dropped.
func Close(ctx context.Context, name string) error {
	registryMu.Lock()
	e, ok := registry[name]
	if ok {
		delete(registry, name)
	}
	registryMu.Unlock()

	if !ok {
		return nil
	}
	return e.rt.Close(ctx)
}
