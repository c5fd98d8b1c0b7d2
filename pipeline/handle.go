package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuxiaohei/lol-serverless/fetchpool"
	"github.com/fuxiaohei/lol-serverless/hostctx"
	"github.com/fuxiaohei/lol-serverless/worker"
)

// Config is the pipeline's runtime configuration — the per-process values
// spec.md §6 names (ENDPOINT_NAME, ENABLE_WASMTIME_AOT) plus the outer
// request timeout spec.md §4.8 describes.
type Config struct {
	EndpointName   string
	RequestTimeout time.Duration
}

// Handler is spec.md §4.8's request pipeline (C8): an http.Handler that
// resolves a Worker via Router+Pool, bridges one HTTP request through the
// guest's handle-request export, and spawns the post-response async-io
// drain. Grounded on
// original_source/crates/worker-server/src/handle.rs's run/wasm.
type Handler struct {
	Router  Router
	Pool    *worker.Pool
	Fetch   *fetchpool.Pool
	Config  Config
	Metrics *Metrics
}

// NewHandler wires a pipeline Handler. log is installed as this package's
// logger (SetLogger) if non-nil.
func NewHandler(router Router, pool *worker.Pool, fetch *fetchpool.Pool, cfg Config, log *zap.Logger) *Handler {
	if log != nil {
		SetLogger(log)
	}
	if fetch == nil {
		fetch = fetchpool.New(nil)
	}
	return &Handler{Router: router, Pool: pool, Fetch: fetch, Config: cfg, Metrics: &Metrics{}}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.Metrics.RequestTotal.Add(1)

	reqID := r.Header.Get("x-request-id")
	if reqID == "" {
		reqID = uuid.NewString()
	}

	remote := remoteAddr(r)

	info, ok := h.Router.Route(r.Method, r.Host, r.URL.Path)
	if !ok || info.WasmPath == "" {
		h.Metrics.NotFoundTotal.Add(1)
		h.writeNotFound(w, reqID)
		Logger().Warn("function not found", zap.String("req_id", reqID), zap.String("rt", remote), zap.String("host", r.Host), zap.String("path", r.URL.Path))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout())
	defer cancel()

	status, err := h.serve(ctx, w, r, info, reqID)
	elapsed := time.Since(start)

	if err != nil {
		h.Metrics.ErrorTotal.Add(1)
		Logger().Warn("request failed", zap.String("req_id", reqID), zap.String("rt", remote), zap.Int("status", status), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}

	h.Metrics.SuccessTotal.Add(1)
	if status >= 400 {
		Logger().Warn("done", zap.String("req_id", reqID), zap.String("rt", remote), zap.Int("status", status), zap.Duration("elapsed", elapsed))
	} else {
		Logger().Info("done", zap.String("req_id", reqID), zap.String("rt", remote), zap.Int("status", status), zap.Duration("elapsed", elapsed))
	}
}

// serve implements spec.md §4.8 steps 2-10, returning the status code
// written (for logging) and any error that produced a 500.
func (h *Handler) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, info RoutingInfo, reqID string) (int, error) {
	tmpl, err := h.Pool.Acquire(ctx, info.WasmPath, info.AOTEnabled)
	if err != nil {
		h.writeError(w, reqID, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError, err
	}

	rc := hostctx.New(h.Fetch, reqID, nil)

	req := worker.Request{
		Method:  r.Method,
		URI:     normalizeURI(r),
		Headers: filteredHeaders(r.Header),
	}

	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		counted := &countingReader{r: r.Body}
		req.Body = rc.Bodies.SetBody(0, counted)
		defer func() { h.Metrics.InBytesTotal.Add(counted.n) }()
	}

	session, err := tmpl.Start(ctx)
	if err != nil {
		h.writeError(w, reqID, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError, err
	}

	resp, err := session.HandleRequest(ctx, rc, req)
	if err != nil {
		session.Close(ctx)
		h.writeError(w, reqID, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError, err
	}

	// The guest's handle-request call has returned: any Sender it still
	// owned (e.g. a new-stream handle written to once and returned with no
	// explicit close) is finished now, mirroring the call-scoped future drop
	// the original relies on. Without this a body driven by plain chunked
	// Read rather than ReadAll — exactly resp.Body below — would never see
	// eof.
	rc.Bodies.CloseSenders()

	for _, kv := range resp.Headers {
		w.Header().Add(kv[0], kv[1])
	}
	if w.Header().Get("x-request-id") == "" {
		w.Header().Set("x-request-id", reqID)
	}
	w.Header().Set("x-served-by", h.Config.EndpointName)

	status := int(resp.Status)
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.Body != 0 {
		if body, ok := rc.Bodies.TakeBody(resp.Body); ok {
			n, _ := io.Copy(w, body)
			h.Metrics.OutBytesTotal.Add(n)
		}
	}

	pending, err := session.IsPending(ctx, rc)
	if err != nil {
		Logger().Warn("is-pending check failed", zap.String("req_id", reqID), zap.Error(err))
		session.Close(ctx)
		return status, nil
	}
	if !pending {
		session.Close(ctx)
		return status, nil
	}

	go h.drain(session, rc, reqID)
	return status, nil
}

// drain owns session and rc's Store for as long as the guest has pending
// async-io work (spec.md §4.8 step 9 / §4.3). Runs detached from the
// request's context and timeout — per spec.md §5, the drain has no
// deadline in this core.
func (h *Handler) drain(session *worker.Session, rc *hostctx.Context, reqID string) {
	defer session.Close(context.Background())
	start := time.Now()
	if err := session.Drain(context.Background(), rc); err != nil {
		Logger().Warn("drain aborted", zap.String("req_id", reqID), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	Logger().Debug("drain complete", zap.String("req_id", reqID), zap.Duration("elapsed", time.Since(start)))
}

func (h *Handler) requestTimeout() time.Duration {
	if h.Config.RequestTimeout > 0 {
		return h.Config.RequestTimeout
	}
	return 10 * time.Second
}

func (h *Handler) writeNotFound(w http.ResponseWriter, reqID string) {
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("x-request-id", reqID)
	w.Header().Set("x-served-by", h.Config.EndpointName)
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, "Function not found")
}

func (h *Handler) writeError(w http.ResponseWriter, reqID string, status int, msg string) {
	w.Header().Set("x-request-id", reqID)
	w.Header().Set("x-served-by", h.Config.EndpointName)
	w.WriteHeader(status)
	fmt.Fprint(w, msg)
}

// filteredHeaders copies r's headers into the guest wire shape, stripping
// any x-land-* reserved header (spec.md §6's HTTP surface).
func filteredHeaders(h http.Header) [][2]string {
	var out [][2]string
	for k, vs := range h {
		if strings.HasPrefix(strings.ToLower(k), "x-land") {
			continue
		}
		for _, v := range vs {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

// countingReader tallies bytes read from r for Metrics.InBytesTotal without
// buffering the body — the store itself owns the read-to-completion step.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// normalizeURI builds an absolute URI from r, using the Host header when
// the request line carried no authority (spec.md §4.8 step 5).
func normalizeURI(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	host := r.Host
	if host == "" {
		host = "unknown"
	}
	u := "http://" + host + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}
