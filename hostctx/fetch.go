package hostctx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/fuxiaohei/lol-serverless/errors"
	"github.com/fuxiaohei/lol-serverless/fetchpool"
)

const fetchNamespace = "land:http/fetch@0.1.0"

// FetchRequest is the guest-supplied shape of http.fetch's request param
// (spec.md §4.4/§6: { method, uri, headers, body: BodyHandle? }).
type FetchRequest struct {
	Method  string
	URI     string
	Headers [][2]string
	Body    uint32
}

// FetchOptions is http.fetch's options param.
type FetchOptions struct {
	Redirect  fetchpool.RedirectPolicy
	TimeoutMs uint32
}

// FetchResponse is the guest-visible shape of a completed fetch.
type FetchResponse struct {
	Status  uint16
	Headers [][2]string
	Body    uint32
}

// FetchHost implements http.fetch, grounded on
// original_source/crates/wasm-host/src/hostcall/client.rs's redirect-policy
// client pool. Response bodies are installed into the request's own Store
// (recovered from ctx), so the guest reads a fetched response body exactly
// like any other BodyHandle.
type FetchHost struct{}

func (h *FetchHost) Namespace() string { return fetchNamespace }

// Fetch performs an outbound HTTP request and returns a FetchResponse whose
// Body is a handle into the request's Store.
func (h *FetchHost) Fetch(ctx context.Context, req FetchRequest, opts FetchOptions) (FetchResponse, error) {
	rc := FromContext(ctx)

	var body io.Reader
	if req.Body != 0 {
		data, err := rc.Bodies.ReadAll(req.Body)
		if err != nil {
			return FetchResponse{}, err
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, body)
	if err != nil {
		return FetchResponse{}, errors.InvalidInput(errors.PhaseHost, err.Error())
	}
	for _, kv := range req.Headers {
		httpReq.Header.Add(kv[0], kv[1])
	}

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	resp, err := rc.Fetch.Do(httpReq, opts.Redirect, timeout)
	if err != nil {
		return FetchResponse{}, errors.Wrap(errors.PhaseHost, errors.KindReadFailed, err, "fetch failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResponse{}, errors.ReadFailed(err)
	}

	var headers [][2]string
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers = append(headers, [2]string{k, v})
		}
	}

	return FetchResponse{
		Status:  uint16(resp.StatusCode),
		Headers: headers,
		Body:    rc.Bodies.SetBody(0, bytes.NewReader(data)),
	}, nil
}
