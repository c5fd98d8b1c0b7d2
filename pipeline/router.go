package pipeline

// RoutingInfo is the Go equivalent of
// original_source/crates/worker-server/src/middle.rs's WorkerInfo request
// extension: everything the pipeline needs about one inbound request that
// isn't carried on the http.Request itself. A Router supplies it by
// inspecting the Host header (or whatever else it wants) against its own
// routing table — the pipeline never knows about hosts, projects, or a
// database.
type RoutingInfo struct {
	// WasmPath is relative to FILE_DIR; empty means "no artifact matched
	// this request" and the pipeline returns 404.
	WasmPath string
	// UserProject identifies the (user, project) tuple for env lookup,
	// e.g. "acme-demo". Matches spec.md §6's envs.json naming.
	UserProject string
	// AOTEnabled mirrors ENABLE_WASMTIME_AOT but lets a Router override it
	// per artifact if the control plane ever wants that.
	AOTEnabled bool
}

// Router resolves RoutingInfo for one request. Implementations live outside
// this package (dashboard/control-plane lookups); NewStaticRouter below is
// the trivial single-artifact implementation used by cmd/workerd and tests.
type Router interface {
	Route(method, host, path string) (RoutingInfo, bool)
}

// StaticRouter serves exactly one artifact regardless of Host/path —
// useful for a single-tenant deployment or for tests.
type StaticRouter struct {
	info RoutingInfo
}

// NewStaticRouter returns a Router that always resolves to info.
func NewStaticRouter(info RoutingInfo) *StaticRouter {
	return &StaticRouter{info: info}
}

func (r *StaticRouter) Route(method, host, path string) (RoutingInfo, bool) {
	if r.info.WasmPath == "" {
		return RoutingInfo{}, false
	}
	return r.info, true
}
