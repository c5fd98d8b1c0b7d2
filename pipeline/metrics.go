package pipeline

import "sync/atomic"

// Metrics is the Go equivalent of
// original_source/crates/worker-server/src/middle.rs's WorkerMetrics
// (a metrics.rs Counter per field). The pack carries no Prometheus client
// to ground a richer metrics story on (see DESIGN.md), so these are plain
// atomic counters an embedder scrapes directly — e.g. from an
// expvar/health endpoint cmd/workerd exposes, or copied into whatever
// metrics system wraps this package.
type Metrics struct {
	RequestTotal  atomic.Int64
	NotFoundTotal atomic.Int64
	SuccessTotal  atomic.Int64
	ErrorTotal    atomic.Int64
	InBytesTotal  atomic.Int64
	OutBytesTotal atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics' counters.
type Snapshot struct {
	RequestTotal  int64
	NotFoundTotal int64
	SuccessTotal  int64
	ErrorTotal    int64
	InBytesTotal  int64
	OutBytesTotal int64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RequestTotal:  m.RequestTotal.Load(),
		NotFoundTotal: m.NotFoundTotal.Load(),
		SuccessTotal:  m.SuccessTotal.Load(),
		ErrorTotal:    m.ErrorTotal.Load(),
		InBytesTotal:  m.InBytesTotal.Load(),
		OutBytesTotal: m.OutBytesTotal.Load(),
	}
}
