package fetchpool

import (
	"errors"
	"net/http"
	"time"
)

// RedirectPolicy selects how a fetched request's redirects are handled
// (spec.md §3 RedirectPolicy).
type RedirectPolicy int

const (
	Follow RedirectPolicy = iota
	Error
	Manual
)

// errRedirectPolicy is returned by CheckRedirect for the Error policy; the
// caller's http.Client surfaces it wrapped in a *url.Error, which fetchpool
// unwraps in Do so the guest sees a plain redirect failure rather than a Go
// transport internals.
var errRedirectPolicy = errors.New("redirect policy is error")

// Pool holds the three http.Client values the guest fetch ABI dispatches
// through, one per RedirectPolicy, sharing one Transport. Built once at
// process start.
type Pool struct {
	follow *http.Client
	err    *http.Client
	manual *http.Client
}

// New builds a Pool. transport is shared across all three clients; pass nil
// to use http.DefaultTransport's settings via a fresh *http.Transport.
func New(transport http.RoundTripper) *Pool {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Pool{
		follow: &http.Client{Transport: transport},
		err: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return errRedirectPolicy
			},
		},
		manual: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Client returns the pool's client for policy.
func (p *Pool) Client(policy RedirectPolicy) *http.Client {
	switch policy {
	case Error:
		return p.err
	case Manual:
		return p.manual
	default:
		return p.follow
	}
}

// Do executes req under policy, applying timeout as a per-request deadline
// when non-zero. A redirect rejected by the Error policy is reported as a
// plain error rather than the *url.Error Go's client wraps it in.
func (p *Pool) Do(req *http.Request, policy RedirectPolicy, timeout time.Duration) (*http.Response, error) {
	client := p.Client(policy)
	if timeout > 0 {
		ctx, cancel := contextWithTimeout(req, timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isRedirectPolicyError(err) {
			return nil, errRedirectPolicy
		}
		return nil, err
	}
	return resp, nil
}
